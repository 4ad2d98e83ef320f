// Package dashboard maintains the team dashboard: a set of JSON files
// refreshed after every trading day, plus the recent-performance feed
// the portfolio manager reads back.
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/trading"
)

const dashboardDir = "team_dashboard"

// DayRecord is one day's dashboard entry
type DayRecord struct {
	Date           string                      `json:"date"`
	Decisions      map[string]trading.Decision `json:"decisions"`
	Trades         []trading.TradeRecord       `json:"trades"`
	PortfolioValue float64                     `json:"portfolio_value"`
	Signals        map[string]string           `json:"signals"` // "agent:ticker" -> signal
}

// Sink writes the dashboard files and answers performance queries
type Sink struct {
	mu   sync.Mutex
	dir  string
	days []DayRecord
	log  zerolog.Logger
}

// NewSink opens (or creates) the dashboard under baseDir, reloading
// prior days from the internal state file
func NewSink(baseDir string) (*Sink, error) {
	dir := filepath.Join(baseDir, dashboardDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create dashboard directory: %w", err)
	}

	s := &Sink{dir: dir, log: config.NewLogger("dashboard")}

	raw, err := os.ReadFile(filepath.Join(dir, "_internal_state.json"))
	if err == nil {
		if err := json.Unmarshal(raw, &s.days); err != nil {
			return nil, fmt.Errorf("corrupt dashboard state: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read dashboard state: %w", err)
	}
	return s, nil
}

// Dir returns the resolved dashboard directory
func (s *Sink) Dir() string { return s.dir }

// RecordDay appends one completed day and rewrites every dashboard
// file
func (s *Sink) RecordDay(st *trading.DayState, portfolioValue float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := DayRecord{
		Date:           st.TradingDate,
		Decisions:      st.Decisions,
		Trades:         st.ExecutedTrades,
		PortfolioValue: portfolioValue,
		Signals:        collectSignals(st),
	}

	// a re-run day replaces its previous record
	replaced := false
	for i := range s.days {
		if s.days[i].Date == rec.Date {
			s.days[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		s.days = append(s.days, rec)
	}

	if err := s.writeFiles(st); err != nil {
		return err
	}
	s.log.Info().Str("date", rec.Date).Int("days", len(s.days)).Msg("Dashboard updated")
	return nil
}

// RecentPerformance summarizes the last N days for the portfolio
// manager prompt
func (s *Sink) RecentPerformance(_ context.Context, days int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.days) == 0 {
		return "", nil
	}
	start := len(s.days) - days
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for i := start; i < len(s.days); i++ {
		d := s.days[i]
		delta := 0.0
		if i > 0 && s.days[i-1].PortfolioValue > 0 {
			delta = (d.PortfolioValue - s.days[i-1].PortfolioValue) / s.days[i-1].PortfolioValue * 100
		}
		fmt.Fprintf(&b, "%s: value %.2f (%+.2f%%), %d trades", d.Date, d.PortfolioValue, delta, len(d.Trades))
		for ticker, dec := range d.Decisions {
			fmt.Fprintf(&b, ", %s %s", dec.Action, ticker)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

// writeFiles rewrites every dashboard file from the accumulated days.
// Caller holds the lock.
func (s *Sink) writeFiles(st *trading.DayState) error {
	latest := s.days[len(s.days)-1]

	files := map[string]any{
		"summary.json": map[string]any{
			"session_id":      st.SessionID,
			"as_of":           latest.Date,
			"portfolio_value": latest.PortfolioValue,
			"total_days":      len(s.days),
			"updated_at":      time.Now(),
		},
		"holdings.json":        holdingsView(st),
		"stats.json":           s.stats(),
		"trades.json":          s.allTrades(),
		"leaderboard.json":     s.leaderboard(),
		"_internal_state.json": s.days,
	}
	for name, v := range files {
		raw, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(s.dir, name), raw, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}

func holdingsView(st *trading.DayState) map[string]any {
	out := map[string]any{"as_of": st.TradingDate}
	if st.Portfolio == nil {
		return out
	}
	out["cash"] = st.Portfolio.Cash
	out["margin_used"] = st.Portfolio.MarginUsed
	positions := make(map[string]any)
	for ticker, pos := range st.Portfolio.Positions {
		if pos.IsFlat() {
			continue
		}
		positions[ticker] = map[string]any{
			"long":             pos.Long,
			"short":            pos.Short,
			"long_cost_basis":  pos.LongCostBasis,
			"short_cost_basis": pos.ShortCostBasis,
		}
	}
	out["positions"] = positions
	return out
}

// stats aggregates day-over-day results
func (s *Sink) stats() map[string]any {
	totalTrades := 0
	upDays, downDays := 0, 0
	for i, d := range s.days {
		totalTrades += len(d.Trades)
		if i == 0 {
			continue
		}
		switch {
		case d.PortfolioValue > s.days[i-1].PortfolioValue:
			upDays++
		case d.PortfolioValue < s.days[i-1].PortfolioValue:
			downDays++
		}
	}
	winRate := 0.0
	if upDays+downDays > 0 {
		winRate = float64(upDays) / float64(upDays+downDays)
	}
	return map[string]any{
		"total_days":   len(s.days),
		"total_trades": totalTrades,
		"up_days":      upDays,
		"down_days":    downDays,
		"win_rate":     winRate,
	}
}

func (s *Sink) allTrades() []trading.TradeRecord {
	var out []trading.TradeRecord
	for _, d := range s.days {
		out = append(out, d.Trades...)
	}
	return out
}

// leaderboard counts, per analyst, how often its signal direction
// matched the day's final decision
type leaderboardRow struct {
	Agreed  int `json:"agreed"`
	Total   int `json:"total"`
	Neutral int `json:"neutral"`
}

func (s *Sink) leaderboard() map[string]leaderboardRow {
	board := make(map[string]leaderboardRow)
	for _, d := range s.days {
		for key, signal := range d.Signals {
			agent, ticker, ok := strings.Cut(key, ":")
			if !ok {
				continue
			}
			row := board[agent]
			row.Total++
			if signal == string(trading.SignalNeutral) {
				row.Neutral++
			} else if dec, ok := d.Decisions[ticker]; ok && signalMatchesAction(trading.Signal(signal), dec.Action) {
				row.Agreed++
			}
			board[agent] = row
		}
	}
	return board
}

func signalMatchesAction(signal trading.Signal, action trading.Action) bool {
	return (signal == trading.SignalBullish && action == trading.ActionLong) ||
		(signal == trading.SignalBearish && action == trading.ActionShort)
}

// collectSignals flattens the day's analyst stances, round 2 winning
// over round 1 for the same agent and ticker
func collectSignals(st *trading.DayState) map[string]string {
	out := make(map[string]string)
	for agentID, ao := range st.AnalystOutputs {
		if ao == nil || agentID == trading.AgentRiskManager {
			continue
		}
		for ticker, r := range ao.Reports {
			if r != nil {
				out[agentID+":"+ticker] = string(r.Signal)
			}
		}
		if ao.Round2 != nil {
			for _, ts := range ao.Round2.TickerSignals {
				out[ao.Round2.AnalystID+":"+ts.Ticker] = string(ts.Signal)
			}
		}
	}
	return out
}

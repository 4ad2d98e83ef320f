// Package portfolio holds the portfolio manager agent and the trade
// executor.
package portfolio

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/agents"
	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/memory"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// Mode selects direction-only or sized decisions
type Mode string

const (
	ModeDirection Mode = "direction"
	ModePortfolio Mode = "portfolio"
)

// PerformanceSource is the optional dashboard side channel feeding
// recent decision performance into the PM prompt
type PerformanceSource interface {
	RecentPerformance(ctx context.Context, days int) (string, error)
}

// signalView is one analyst's stance on one ticker as shown to the PM
type signalView struct {
	Analyst    string  `json:"analyst"`
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning,omitempty"`
	ErrorNote  string  `json:"error_note,omitempty"`
	Round      int     `json:"round"`
}

// Manager is the portfolio manager agent
type Manager struct {
	gw       gateway.Caller
	mem      memory.Store
	perf     PerformanceSource // nil when no dashboard is wired
	defaults agents.ModelDefaults
	log      zerolog.Logger
}

// NewManager creates the portfolio manager
func NewManager(gw gateway.Caller, mem memory.Store, perf PerformanceSource, defaults agents.ModelDefaults) *Manager {
	return &Manager{
		gw:       gw,
		mem:      mem,
		perf:     perf,
		defaults: defaults,
		log:      config.NewLogger(trading.AgentPortfolioManager),
	}
}

// Decide aggregates analyst signals, risk output and recalled
// memories into one decision per ticker. Failures degrade to hold for
// every ticker; the method never errors the pipeline.
//
// Side effect: current prices from the risk assessments are exported
// onto the state for the trade executor.
func (m *Manager) Decide(ctx context.Context, st *trading.DayState, mode Mode) map[string]trading.Decision {
	signals := m.collectSignals(st)
	riskView := m.exportRisk(st)

	memories := m.recallMemories(ctx, st, signals)

	performance := ""
	if m.perf != nil {
		if p, err := m.perf.RecentPerformance(ctx, 3); err == nil {
			performance = p
		} else {
			m.log.Warn().Err(err).Msg("Recent-performance side channel unavailable")
		}
	}

	base := agents.ResolveRequest(st, trading.AgentPortfolioManager, m.defaults)
	base.Messages = []gateway.Message{
		{Role: "system", Content: m.systemPrompt(mode)},
		{Role: "user", Content: m.userPrompt(st, mode, signals, riskView, memories, performance)},
	}

	set, err := gateway.CallStructured[trading.DecisionSet](ctx, m.gw, base, gateway.StructuredOptions[trading.DecisionSet]{
		DefaultFactory: func() trading.DecisionSet { return trading.HoldAll(st.Tickers) },
	})
	if err != nil {
		m.log.Warn().Err(err).Msg("Decision synthesis degraded to hold")
	}

	decisions := make(map[string]trading.Decision, len(st.Tickers))
	for _, ticker := range st.Tickers {
		dec, ok := set.Decisions[ticker]
		if !ok {
			dec = trading.Decision{Action: trading.ActionHold, Reasoning: "no decision returned for ticker"}
		}
		if mode == ModeDirection {
			dec.Quantity = 0
		}
		decisions[ticker] = dec

		m.log.Info().
			Str("ticker", ticker).
			Str("action", string(dec.Action)).
			Int("quantity", dec.Quantity).
			Float64("confidence", dec.Confidence).
			Msg("Portfolio decision")
	}

	st.Decisions = decisions
	return decisions
}

// collectSignals flattens every analyst output into per-ticker views.
// Both round shapes are accepted: per-ticker report maps and round-2
// ticker_signals lists.
func (m *Manager) collectSignals(st *trading.DayState) map[string][]signalView {
	out := make(map[string][]signalView)

	agentIDs := make([]string, 0, len(st.AnalystOutputs))
	for id := range st.AnalystOutputs {
		agentIDs = append(agentIDs, id)
	}
	sort.Strings(agentIDs)

	for _, agentID := range agentIDs {
		ao := st.AnalystOutputs[agentID]
		if ao == nil || agentID == trading.AgentRiskManager {
			continue
		}

		for ticker, r := range ao.Reports {
			if r == nil {
				continue
			}
			v := signalView{
				Analyst:    agentID,
				Signal:     string(r.Signal),
				Confidence: r.Confidence,
				Reasoning:  r.Reasoning,
				Round:      1,
			}
			if strings.Contains(r.Reasoning, "Failed to synthesize") || r.ToolAnalysis.SynthesisDetails.SynthesisMethod == "error" {
				v.ErrorNote = "synthesis failed; signal is a degraded default"
			}
			out[ticker] = append(out[ticker], v)
		}

		if ao.Round2 != nil {
			for _, ts := range ao.Round2.TickerSignals {
				out[ts.Ticker] = append(out[ts.Ticker], signalView{
					Analyst:    ao.Round2.AnalystID,
					Signal:     string(ts.Signal),
					Confidence: ts.Confidence,
					Reasoning:  ts.Reasoning,
					Round:      2,
				})
			}
		}
	}
	return out
}

// exportRisk copies the risk manager's current prices onto the state
// and returns the per-ticker risk view for the prompt
func (m *Manager) exportRisk(st *trading.DayState) map[string]*trading.RiskAssessment {
	riskOut := st.Output(trading.AgentRiskManager)
	if riskOut == nil || riskOut.Risk == nil {
		return nil
	}
	if st.CurrentPrices == nil {
		st.CurrentPrices = make(map[string]float64)
	}
	for ticker, a := range riskOut.Risk {
		if a != nil && a.CurrentPrice > 0 {
			st.CurrentPrices[ticker] = a.CurrentPrice
		}
	}
	return riskOut.Risk
}

// recallMemories pulls top-k past decisions per ticker, with the
// query's direction token picked by majority analyst vote
func (m *Manager) recallMemories(ctx context.Context, st *trading.DayState, signals map[string][]signalView) map[string][]memory.Record {
	if m.mem == nil {
		return nil
	}
	out := make(map[string][]memory.Record)
	for _, ticker := range st.Tickers {
		query := fmt.Sprintf("%s investment decision %s signals", ticker, majorityDirection(signals[ticker]))
		records, err := m.mem.Search(ctx, query, trading.AgentPortfolioManager, 3)
		if err != nil {
			m.log.Warn().Err(err).Str("ticker", ticker).Msg("Memory recall failed")
			continue
		}
		if len(records) > 0 {
			out[ticker] = records
		}
	}
	return out
}

// majorityDirection reduces a ticker's analyst votes to bullish,
// bearish or divergence
func majorityDirection(views []signalView) string {
	bullish, bearish := 0, 0
	for _, v := range views {
		switch trading.Signal(v.Signal) {
		case trading.SignalBullish:
			bullish++
		case trading.SignalBearish:
			bearish++
		}
	}
	switch {
	case bullish > bearish:
		return string(trading.SignalBullish)
	case bearish > bullish:
		return string(trading.SignalBearish)
	}
	return "divergence"
}

func (m *Manager) systemPrompt(mode Mode) string {
	var b strings.Builder
	b.WriteString("You are the portfolio manager of a multi-analyst trading desk. ")
	b.WriteString("Weigh the analysts' signals, the risk assessments and your recalled past decisions, then decide per ticker.\n")
	if mode == ModePortfolio {
		b.WriteString("Size every position in whole shares and never exceed the risk manager's max_shares for a ticker.\n")
		b.WriteString(`Respond with JSON: {"decisions": {"<ticker>": {"action": "long|short|hold", "quantity": N, "confidence": 0-100, "reasoning": "..."}}}`)
	} else {
		b.WriteString("Directions only, no sizing.\n")
		b.WriteString(`Respond with JSON: {"decisions": {"<ticker>": {"action": "long|short|hold", "quantity": 0, "confidence": 0-100, "reasoning": "..."}}}`)
	}
	return b.String()
}

func (m *Manager) userPrompt(st *trading.DayState, mode Mode, signals map[string][]signalView, riskView map[string]*trading.RiskAssessment, memories map[string][]memory.Record, performance string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Trading date: %s\nTickers: %s\n", st.TradingDate, strings.Join(st.Tickers, ", "))

	raw, _ := json.MarshalIndent(signals, "", "  ")
	fmt.Fprintf(&b, "\nSignals by ticker:\n%s\n", raw)

	if len(riskView) > 0 {
		raw, _ = json.MarshalIndent(riskView, "", "  ")
		fmt.Fprintf(&b, "\nRisk assessment:\n%s\n", raw)
	}

	if len(memories) > 0 {
		b.WriteString("\nRecalled past decisions:\n")
		for _, ticker := range st.Tickers {
			for _, r := range memories[ticker] {
				fmt.Fprintf(&b, "- [%s] %s\n", ticker, r.Content)
			}
		}
	}

	if performance != "" {
		fmt.Fprintf(&b, "\nRecent performance:\n%s\n", performance)
	}

	if mode == ModePortfolio && st.Portfolio != nil {
		raw, _ = json.MarshalIndent(st.Portfolio, "", "  ")
		fmt.Fprintf(&b, "\nPortfolio state:\n%s\n", raw)
	}

	return b.String()
}

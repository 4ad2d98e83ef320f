// Package driver runs multi-day trading sessions: enumerating trading
// days, carrying the portfolio and memories forward, snapshotting
// after every day and recovering from the latest snapshot on restart.
package driver

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/dashboard"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/orchestrator"
	"github.com/quantdesk/quantdesk/internal/persist"
	"github.com/quantdesk/quantdesk/internal/reflection"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// Alerter pushes end-of-day summaries to an external channel
type Alerter interface {
	DaySummary(ctx context.Context, st *trading.DayState, portfolioValue float64) error
}

// Config is the session configuration
type Config struct {
	StartDate         string
	EndDate           string
	Tickers           []string
	Mode              string // "signal" or "portfolio"
	InitialCash       float64
	MarginRequirement float64
	CommLogToFile     bool
}

// Summary is the multi-day session result
type Summary struct {
	SessionID      string              `json:"session_id"`
	StartDate      string              `json:"start_date"`
	EndDate        string              `json:"end_date"`
	Tickers        []string            `json:"tickers"`
	Mode           string              `json:"mode"`
	TotalDays      int                 `json:"total_days"`
	SuccessfulDays int                 `json:"successful_days"`
	FailedDays     int                 `json:"failed_days"`
	DailyResults   []trading.DayResult `json:"daily_results"`
	FinalPortfolio *trading.Portfolio  `json:"final_portfolio"`
	FinalValue     float64             `json:"final_value"`
	Performance    *PerformanceStats   `json:"performance,omitempty"`
}

// Driver owns the day loop
type Driver struct {
	pipeline *orchestrator.Pipeline
	reviewer *reflection.Reviewer // nil disables reflection
	store    *persist.Store
	sink     *dashboard.Sink // nil disables the dashboard
	alerter  Alerter         // nil disables alerts
	calendar marketdata.Calendar
	cfg      Config
	log      zerolog.Logger
}

// New creates the driver
func New(pipeline *orchestrator.Pipeline, reviewer *reflection.Reviewer, store *persist.Store, sink *dashboard.Sink, alerter Alerter, cal marketdata.Calendar, cfg Config) *Driver {
	return &Driver{
		pipeline: pipeline,
		reviewer: reviewer,
		store:    store,
		sink:     sink,
		alerter:  alerter,
		calendar: cal,
		cfg:      cfg,
		log:      config.NewLogger("driver"),
	}
}

// Run executes the session over every trading day in the configured
// range. A failed day is recorded and skipped; the portfolio only
// advances on success.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	start, err := marketdata.ParseDate(d.cfg.StartDate)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q: %w", d.cfg.StartDate, err)
	}
	end, err := marketdata.ParseDate(d.cfg.EndDate)
	if err != nil {
		return nil, fmt.Errorf("invalid end date %q: %w", d.cfg.EndDate, err)
	}
	if end.Before(start) {
		return nil, fmt.Errorf("end date %s precedes start date %s", d.cfg.EndDate, d.cfg.StartDate)
	}

	sessionID := uuid.NewString()
	days := d.calendar.TradingDays(start, end)
	if len(days) == 0 {
		return nil, fmt.Errorf("no trading days in [%s, %s]", d.cfg.StartDate, d.cfg.EndDate)
	}

	pf, resumeAfter, err := d.recoverPortfolio()
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		SessionID: sessionID,
		StartDate: d.cfg.StartDate,
		EndDate:   d.cfg.EndDate,
		Tickers:   d.cfg.Tickers,
		Mode:      d.cfg.Mode,
	}

	d.log.Info().
		Str("session_id", sessionID).
		Int("trading_days", len(days)).
		Str("resume_after", resumeAfter).
		Msg("Session starting")

	finalMarks := map[string]float64{}
	lastCompleted := resumeAfter
	for _, day := range days {
		date := day.Format(marketdata.DateLayout)
		if resumeAfter != "" && date <= resumeAfter {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		summary.TotalDays++

		result, next, marks := d.runOneDay(ctx, sessionID, date, lastCompleted, pf)
		summary.DailyResults = append(summary.DailyResults, result)
		if result.Error != "" {
			summary.FailedDays++
			continue
		}
		summary.SuccessfulDays++
		pf = next
		finalMarks = marks
		lastCompleted = date
	}

	summary.FinalPortfolio = pf
	summary.FinalValue = pf.TotalValue(finalMarks)
	summary.Performance = ComputeStats(d.cfg.InitialCash, summary.DailyResults)

	if err := d.store.WriteSessionSummary(sessionID, summary); err != nil {
		d.log.Warn().Err(err).Msg("Failed to write session summary")
	}
	d.log.Info().
		Int("successful_days", summary.SuccessfulDays).
		Int("failed_days", summary.FailedDays).
		Float64("final_value", summary.FinalValue).
		Msg("Session complete")
	return summary, nil
}

// runOneDay runs the pipeline against a working copy of the portfolio
// and returns the advanced copy on success, so a failed day never
// leaks partial trades into the session portfolio
func (d *Driver) runOneDay(ctx context.Context, sessionID, date, prevDate string, pf *trading.Portfolio) (trading.DayResult, *trading.Portfolio, map[string]float64) {
	working := pf.DeepCopy()

	st, err := d.pipeline.RunDay(ctx, sessionID, date, prevDate, working)
	if err != nil {
		d.log.Error().Err(err).Str("date", date).Msg("Trading day failed")
		return trading.DayResult{Date: date, Error: err.Error()}, pf, nil
	}

	d.finishDay(ctx, st)

	return trading.DayResult{
		Date:           date,
		Decisions:      st.Decisions,
		ExecutedTrades: st.ExecutedTrades,
		PortfolioValue: working.TotalValue(st.CurrentPrices),
	}, working, st.CurrentPrices
}

// finishDay persists and reflects on a completed day
func (d *Driver) finishDay(ctx context.Context, st *trading.DayState) {
	value := st.Portfolio.TotalValue(st.CurrentPrices)

	if err := d.store.WritePortfolioSnapshot(st.TradingDate, st.SessionID, st.Portfolio, st.CurrentPrices); err != nil {
		d.log.Warn().Err(err).Str("date", st.TradingDate).Msg("Snapshot write failed")
	}

	if d.sink != nil {
		if err := d.sink.RecordDay(st, value); err != nil {
			d.log.Warn().Err(err).Msg("Dashboard update failed")
		}
	}

	if d.cfg.CommLogToFile && communicationHappened(st) {
		if _, err := d.store.WriteCommunicationLog(st.SessionID, st.TradingDate, st.CommLogs); err != nil {
			d.log.Warn().Err(err).Msg("Communication log write failed")
		}
	}

	if d.reviewer != nil {
		returns := d.reviewer.ComputeReturns(ctx, st)
		d.reviewer.Run(ctx, st, returns)
	}

	if d.alerter != nil {
		if err := d.alerter.DaySummary(ctx, st, value); err != nil {
			d.log.Warn().Err(err).Msg("Day summary alert failed")
		}
	}
}

// recoverPortfolio loads the latest snapshot, falling back to a fresh
// portfolio when none exists
func (d *Driver) recoverPortfolio() (*trading.Portfolio, string, error) {
	snap, err := d.store.LatestPortfolioSnapshot()
	if err != nil {
		return nil, "", fmt.Errorf("snapshot recovery failed: %w", err)
	}
	if snap == nil {
		return trading.NewPortfolio(d.cfg.InitialCash, d.cfg.MarginRequirement, d.cfg.Tickers), "", nil
	}
	d.log.Info().Str("snapshot_date", snap.Date).Msg("Resuming from portfolio snapshot")
	return snap.Portfolio, snap.Date, nil
}

func communicationHappened(st *trading.DayState) bool {
	return len(st.CommLogs.PrivateChats) > 0 ||
		len(st.CommLogs.Meetings) > 0 ||
		len(st.CommLogs.CommunicationDecisions) > 0
}


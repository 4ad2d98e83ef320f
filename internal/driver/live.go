package driver

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// Default live schedules, local exchange time
const (
	DefaultAnalysisSpec   = "30 9 * * 1-5"  // shortly after the open
	DefaultSettlementSpec = "10 16 * * 1-5" // shortly after the close
)

// LiveRunner drives one analysis per trading day on a cron schedule:
// signals and deferred decisions in the morning, settlement against
// closing prices after the close.
type LiveRunner struct {
	d            *Driver
	analysisSpec string
	settleSpec   string

	mu        sync.Mutex
	sessionID string
	pf        *trading.Portfolio
	pending   *trading.DayState
	lastDone  string // last settled trading day

	cron *cron.Cron
	ctx  context.Context
}

// NewLiveRunner creates the live scheduler. Empty specs use the
// defaults.
func NewLiveRunner(d *Driver, analysisSpec, settleSpec string) *LiveRunner {
	if analysisSpec == "" {
		analysisSpec = DefaultAnalysisSpec
	}
	if settleSpec == "" {
		settleSpec = DefaultSettlementSpec
	}
	return &LiveRunner{d: d, analysisSpec: analysisSpec, settleSpec: settleSpec}
}

// Start recovers the portfolio and schedules the daily jobs. It
// returns immediately; jobs run until Stop.
func (l *LiveRunner) Start(ctx context.Context) error {
	pf, resumeAfter, err := l.d.recoverPortfolio()
	if err != nil {
		return err
	}

	l.mu.Lock()
	l.sessionID = uuid.NewString()
	l.pf = pf
	l.lastDone = resumeAfter
	l.ctx = ctx
	l.mu.Unlock()

	c := cron.New(cron.WithLogger(cron.PrintfLogger(cronPrintf{})))
	if _, err := c.AddFunc(l.analysisSpec, l.analyze); err != nil {
		return fmt.Errorf("invalid analysis schedule %q: %w", l.analysisSpec, err)
	}
	if _, err := c.AddFunc(l.settleSpec, l.settle); err != nil {
		return fmt.Errorf("invalid settlement schedule %q: %w", l.settleSpec, err)
	}
	c.Start()
	l.cron = c

	l.d.log.Info().
		Str("session_id", l.sessionID).
		Str("analysis", l.analysisSpec).
		Str("settlement", l.settleSpec).
		Str("resume_after", resumeAfter).
		Msg("Live runner started")
	return nil
}

// Stop halts the schedule, waiting for a running job to finish
func (l *LiveRunner) Stop() {
	if l.cron != nil {
		<-l.cron.Stop().Done()
	}
}

// analyze runs the morning pipeline; in live mode trades come back
// deferred and wait for settlement
func (l *LiveRunner) analyze() {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := time.Now()
	date := today.Format(marketdata.DateLayout)
	if l.d.calendar.LastTradingDay(today).Format(marketdata.DateLayout) != date {
		l.d.log.Info().Str("date", date).Msg("Not a trading day; skipping analysis")
		return
	}
	if l.pending != nil {
		l.d.log.Warn().Str("date", l.pending.TradingDate).Msg("Previous day never settled; dropping its deferred trades")
		l.pending = nil
	}

	st, err := l.d.pipeline.RunDay(l.ctx, l.sessionID, date, l.lastDone, l.pf)
	if err != nil {
		l.d.log.Error().Err(err).Str("date", date).Msg("Live analysis failed")
		return
	}
	l.pending = st
}

// settle executes the morning's deferred trades at closing prices and
// closes out the day
func (l *LiveRunner) settle() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.pending == nil {
		return
	}
	st := l.pending
	l.pending = nil

	if err := l.d.pipeline.ExecuteDeferredTrades(l.ctx, st); err != nil {
		l.d.log.Error().Err(err).Str("date", st.TradingDate).Msg("Settlement failed")
		return
	}
	l.d.finishDay(l.ctx, st)
	l.lastDone = st.TradingDate
}

// cronPrintf adapts the cron logger onto zerolog
type cronPrintf struct{}

func (cronPrintf) Printf(format string, args ...any) {
	log := config.NewLogger("cron")
	log.Debug().Msgf(format, args...)
}

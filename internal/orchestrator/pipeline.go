// Package orchestrator sequences one trading day: parallel analyst
// rounds, risk assessment, portfolio decision, communication loop and
// trade execution.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/quantdesk/quantdesk/internal/agents"
	"github.com/quantdesk/quantdesk/internal/comms"
	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/portfolio"
	"github.com/quantdesk/quantdesk/internal/risk"
	"github.com/quantdesk/quantdesk/internal/trading"
)

const (
	lookbackDays     = 30 // calendar days of market data behind the analysis day
	maxRound1Retries = 10 // round-1 re-runs before an analyst is dropped from round 2
)

type pipelineMetrics struct {
	DaysTotal       prometheus.Counter
	DayFailures     prometheus.Counter
	AnalystFailures prometheus.Counter
	DayDuration     prometheus.Histogram
}

var (
	metricsOnce     sync.Once
	metricsInstance *pipelineMetrics
)

// promauto panics on duplicate registration, so the pipeline metrics
// are a process-wide singleton
func getOrCreateMetrics() *pipelineMetrics {
	metricsOnce.Do(func() {
		metricsInstance = &pipelineMetrics{
			DaysTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pipeline_days_total",
				Help: "Total number of trading days run",
			}),
			DayFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pipeline_day_failures_total",
				Help: "Total number of trading days that failed",
			}),
			AnalystFailures: promauto.NewCounter(prometheus.CounterOpts{
				Name: "pipeline_analyst_failures_total",
				Help: "Total number of analyst round failures",
			}),
			DayDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "pipeline_day_duration_seconds",
				Help:    "Wall-clock duration of one trading day pipeline",
				Buckets: prometheus.DefBuckets,
			}),
		}
	})
	return metricsInstance
}

// Options configures a Pipeline
type Options struct {
	Tickers        []string
	Mode           string // "signal" or "portfolio"
	IsLiveMode     bool
	MaxWorkers     int  // parallel analyst limit; default 4
	EnableRound2   bool // second analyst round after notifications
	ModelOverrides map[string]string
}

// Pipeline runs the per-day agent sequence. Analysts run in parallel
// over deep copies of the day state; every later phase owns the state
// exclusively.
type Pipeline struct {
	analysts    []*agents.Analyst
	riskMgr     *risk.Manager
	pm          *portfolio.Manager
	executor    *portfolio.Executor
	coordinator *comms.Coordinator // nil disables the communication loop
	opts        Options
	metrics     *pipelineMetrics
	log         zerolog.Logger
}

// NewPipeline assembles the day pipeline
func NewPipeline(analysts []*agents.Analyst, riskMgr *risk.Manager, pm *portfolio.Manager, executor *portfolio.Executor, coordinator *comms.Coordinator, opts Options) *Pipeline {
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	return &Pipeline{
		analysts:    analysts,
		riskMgr:     riskMgr,
		pm:          pm,
		executor:    executor,
		coordinator: coordinator,
		opts:        opts,
		metrics:     getOrCreateMetrics(),
		log:         config.NewLogger("orchestrator"),
	}
}

// Round2Enabled reports whether the second analyst round will run
func (p *Pipeline) Round2Enabled() bool { return p.opts.EnableRound2 }

// RunDay executes the full pipeline for one analysis day. prevDate is
// the last completed trading day, empty on a session's first day. The
// portfolio is mutated only by trade execution at the very end; a
// failed day leaves it untouched.
func (p *Pipeline) RunDay(ctx context.Context, sessionID, date, prevDate string, pf *trading.Portfolio) (*trading.DayState, error) {
	start := time.Now()
	p.metrics.DaysTotal.Inc()

	tradingDate, err := marketdata.ParseDate(date)
	if err != nil {
		p.metrics.DayFailures.Inc()
		return nil, fmt.Errorf("invalid trading date %q: %w", date, err)
	}

	st := trading.NewDayState(sessionID, p.opts.Tickers, date, tradingDate.AddDate(0, 0, -lookbackDays).Format(marketdata.DateLayout), pf)
	st.EndDate = prevDate
	st.Mode = p.opts.Mode
	st.IsLiveMode = p.opts.IsLiveMode
	st.ModelOverrides = p.opts.ModelOverrides

	p.log.Info().
		Str("session_id", sessionID).
		Str("date", date).
		Strs("tickers", st.Tickers).
		Bool("live_mode", st.IsLiveMode).
		Msg("Starting trading day")

	if err := p.runRound1(ctx, st); err != nil {
		p.metrics.DayFailures.Inc()
		return st, err
	}

	if p.opts.EnableRound2 {
		if err := p.runRound2(ctx, st); err != nil {
			p.metrics.DayFailures.Inc()
			return st, err
		}
	}

	if err := p.runRisk(ctx, st); err != nil {
		p.metrics.DayFailures.Inc()
		return st, err
	}

	p.runDecisionPhase(ctx, st)

	p.metrics.DayDuration.Observe(time.Since(start).Seconds())
	p.log.Info().
		Str("date", date).
		Int("trades", len(st.ExecutedTrades)).
		Bool("deferred", st.TradesDeferred != nil).
		Dur("elapsed", time.Since(start)).
		Msg("Trading day complete")
	return st, nil
}

// runRound1 fans the analysts out over deep copies of the state and
// merges their outputs back under one lock. A failed analyst is
// recorded with an error status and never blocks the others.
func (p *Pipeline) runRound1(ctx context.Context, st *trading.DayState) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxWorkers)

	for _, analyst := range p.analysts {
		analyst := analyst
		g.Go(func() error {
			snapshot, err := st.DeepCopy()
			if err != nil {
				return err
			}
			out, err := analyst.RunRound1(gctx, snapshot)
			if err != nil {
				p.metrics.AnalystFailures.Inc()
				p.log.Warn().Err(err).Str("agent_id", analyst.AgentID()).Msg("Round-1 analysis failed")
				out = &trading.AgentOutput{Status: trading.StatusError, Error: err.Error()}
			}

			mu.Lock()
			st.SetOutput(analyst.AgentID(), out)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("round-1 fan-out failed: %w", err)
	}
	return nil
}

// runRound2 runs the second analyst round in parallel. An analyst
// whose round-1 output fails validation gets its round 1 re-run a
// bounded number of times; exhaustion drops that analyst from round 2
// without failing the day.
func (p *Pipeline) runRound2(ctx context.Context, st *trading.DayState) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.MaxWorkers)

	for _, analyst := range p.analysts {
		analyst := analyst
		g.Go(func() error {
			for attempt := 0; ; attempt++ {
				snapshot, err := st.DeepCopy()
				if err != nil {
					return err
				}
				r2, err := analyst.RunRound2(gctx, snapshot)
				if err == nil {
					mu.Lock()
					st.SetOutput(trading.Round2Key(analyst.AgentID()), &trading.AgentOutput{
						Status: trading.StatusOK,
						Round2: r2,
					})
					mu.Unlock()
					return nil
				}
				if !errors.Is(err, agents.ErrInvalidRound1) || attempt >= maxRound1Retries {
					p.metrics.AnalystFailures.Inc()
					p.log.Warn().Err(err).
						Str("agent_id", analyst.AgentID()).
						Int("attempts", attempt+1).
						Msg("Round-2 analysis dropped")
					mu.Lock()
					st.SetOutput(trading.Round2Key(analyst.AgentID()), &trading.AgentOutput{
						Status: trading.StatusError,
						Error:  err.Error(),
					})
					mu.Unlock()
					return nil
				}

				// round-1 output failed validation; rebuild it before retrying
				p.log.Info().
					Str("agent_id", analyst.AgentID()).
					Int("attempt", attempt+1).
					Msg("Re-running round 1 before round 2")
				rerun, err := st.DeepCopy()
				if err != nil {
					return err
				}
				out, err := analyst.RunRound1(gctx, rerun)
				if err != nil {
					p.metrics.AnalystFailures.Inc()
					out = &trading.AgentOutput{Status: trading.StatusError, Error: err.Error()}
				}
				mu.Lock()
				st.SetOutput(analyst.AgentID(), out)
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("round-2 fan-out failed: %w", err)
	}
	return nil
}

// runRisk assesses risk sequentially after every analyst has reported
func (p *Pipeline) runRisk(ctx context.Context, st *trading.DayState) error {
	mode := risk.ModeBasic
	if p.opts.Mode == "portfolio" {
		mode = risk.ModePortfolio
	}
	out, err := p.riskMgr.Assess(ctx, st, mode)
	if err != nil {
		return fmt.Errorf("risk assessment failed: %w", err)
	}
	st.SetOutput(trading.AgentRiskManager, out)
	return nil
}

// runDecisionPhase produces the portfolio decision, optionally runs
// the communication loop, then executes or defers the trades
func (p *Pipeline) runDecisionPhase(ctx context.Context, st *trading.DayState) {
	pmMode := portfolio.ModeDirection
	if p.opts.Mode == "portfolio" {
		pmMode = portfolio.ModePortfolio
	}

	decisions := p.pm.Decide(ctx, st, pmMode)

	if p.coordinator != nil {
		decisions = p.coordinator.Run(ctx, st, decisions, func(ctx context.Context, st *trading.DayState) map[string]trading.Decision {
			return p.pm.Decide(ctx, st, pmMode)
		})
	}
	st.Decisions = decisions

	if p.opts.Mode != "portfolio" {
		return
	}

	if st.IsLiveMode {
		// live mode trades on closing prices that do not exist yet
		st.TradesDeferred = &trading.DeferredTrades{Date: st.TradingDate, Decisions: decisions}
		p.log.Info().Str("date", st.TradingDate).Msg("Live mode: trades deferred until market close")
		return
	}
	st.ExecutedTrades = p.executor.Execute(st.Portfolio, decisions, st.CurrentPrices)
}

// ExecuteDeferredTrades settles a live-mode day after the close. Risk
// is re-assessed in backtest pricing so closing prices are available,
// then the deferred decisions are executed against them.
func (p *Pipeline) ExecuteDeferredTrades(ctx context.Context, st *trading.DayState) error {
	if st.TradesDeferred == nil {
		return nil
	}

	settle, err := st.DeepCopy()
	if err != nil {
		return err
	}
	settle.IsLiveMode = false

	mode := risk.ModeBasic
	if p.opts.Mode == "portfolio" {
		mode = risk.ModePortfolio
	}
	out, err := p.riskMgr.Assess(ctx, settle, mode)
	if err != nil {
		return fmt.Errorf("post-close risk assessment failed: %w", err)
	}

	prices := make(map[string]float64, len(out.Risk))
	for ticker, a := range out.Risk {
		if a != nil && a.CurrentPrice > 0 {
			prices[ticker] = a.CurrentPrice
		}
	}

	st.ExecutedTrades = p.executor.Execute(st.Portfolio, st.TradesDeferred.Decisions, prices)
	st.CurrentPrices = prices
	st.TradesDeferred = nil

	p.log.Info().
		Str("date", st.TradingDate).
		Int("trades", len(st.ExecutedTrades)).
		Msg("Deferred trades settled")
	return nil
}

package driver

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/quantdesk/internal/agents"
	"github.com/quantdesk/quantdesk/internal/dashboard"
	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/gateway/gatewaytest"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/marketdata/marketdatatest"
	"github.com/quantdesk/quantdesk/internal/orchestrator"
	"github.com/quantdesk/quantdesk/internal/persist"
	"github.com/quantdesk/quantdesk/internal/portfolio"
	"github.com/quantdesk/quantdesk/internal/risk"
	"github.com/quantdesk/quantdesk/internal/selector"
	"github.com/quantdesk/quantdesk/internal/tools"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// driverStub answers every phase by prompt inspection so multi-day
// runs need no scripted ordering
func driverStub() *gatewaytest.Stub {
	stub := gatewaytest.NewStub()
	stub.RouteFunc = func(req gateway.Request) (string, error) {
		system := req.Messages[0].Content
		switch {
		case strings.Contains(system, "Available analysis tools"):
			return `{"selected_tools": [{"tool_name": "financial_metrics_analysis", "reason": "core check"}], "analysis_strategy": "fundamentals_first", "synthesis_approach": "weighted"}`, nil
		case strings.Contains(system, "Synthesize the tool outputs"):
			return `{"signal": "bullish", "confidence": 70, "reasoning": "healthy metrics", "synthesis_method": "weighted"}`, nil
		case strings.Contains(system, "portfolio manager of a multi-analyst trading desk"):
			return `{"decisions": {"AAPL": {"action": "long", "quantity": 2, "confidence": 75, "reasoning": "consensus"}}}`, nil
		}
		return "", &gateway.CallError{Kind: gateway.KindFinal, Message: "unexpected prompt"}
	}
	return stub
}

// flat daily bars covering the whole session window
func driverFake() *marketdatatest.FakeProvider {
	fake := marketdatatest.NewFakeProvider()
	fake.Metrics["AAPL"] = []marketdata.FinancialMetrics{{
		ReturnOnEquity: 0.25, NetMargin: 0.20, OperatingMargin: 0.25,
		DebtToEquity: 0.4, CurrentRatio: 2.0, PriceToEarningsRatio: 18,
	}}

	start, _ := marketdata.ParseDate("2023-11-01")
	end, _ := marketdata.ParseDate("2024-03-15")
	var bars []marketdata.PriceBar
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		bars = append(bars, marketdata.PriceBar{
			Ticker: "AAPL", Date: d.Format(marketdata.DateLayout),
			Open: 100, High: 100, Low: 100, Close: 100, Volume: 1000,
		})
	}
	fake.SetDailyBars("AAPL", bars)
	return fake
}

func newTestDriver(t *testing.T, stateDir string, sink *dashboard.Sink, cfg Config) (*Driver, *persist.Store) {
	t.Helper()

	stub := driverStub()
	fake := driverFake()
	cal := marketdata.WeekdayCalendar{}
	defaults := agents.ModelDefaults{Model: "gpt-4o", Provider: gateway.ProviderOpenAI, Temperature: 0.2}

	persona, err := selector.LoadPersona("fundamental")
	require.NoError(t, err)
	sel := selector.New(stub, tools.NewExecutor(tools.NewDefaultRegistry(fake)))
	analyst := agents.NewAnalyst(persona, stub, sel, cal, nil, agents.APIKeys{}, defaults)

	var perf portfolio.PerformanceSource
	if sink != nil {
		perf = sink
	}
	pipeline := orchestrator.NewPipeline(
		[]*agents.Analyst{analyst},
		risk.NewManager(fake, cal),
		portfolio.NewManager(stub, nil, perf, defaults),
		portfolio.NewExecutor(),
		nil,
		orchestrator.Options{Tickers: []string{"AAPL"}, Mode: cfg.Mode},
	)

	store, err := persist.NewStore(stateDir, "default")
	require.NoError(t, err)

	return New(pipeline, nil, store, sink, nil, cal, cfg), store
}

func sessionConfig() Config {
	return Config{
		StartDate:   "2024-03-04",
		EndDate:     "2024-03-06",
		Tickers:     []string{"AAPL"},
		Mode:        "portfolio",
		InitialCash: 10000,
	}
}

func TestRun_MultiDaySessionAdvancesPortfolio(t *testing.T) {
	dir := t.TempDir()
	d, store := newTestDriver(t, dir, nil, sessionConfig())

	summary, err := d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, summary.TotalDays, "Mon through Wed")
	assert.Equal(t, 3, summary.SuccessfulDays)
	assert.Zero(t, summary.FailedDays)
	require.Len(t, summary.DailyResults, 3)

	// 2 shares at 100 bought each day
	assert.Equal(t, 6, summary.FinalPortfolio.Position("AAPL").Long)
	assert.Equal(t, 10000.0-600, summary.FinalPortfolio.Cash)
	assert.Equal(t, 10000.0, summary.FinalValue, "flat prices keep total value constant")

	// every day snapshotted, newest wins on reload
	snap, err := store.LatestPortfolioSnapshot()
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, "2024-03-06", snap.Date)
	assert.Equal(t, 6, snap.Portfolio.Position("AAPL").Long)

	// the session summary landed on disk
	matches, err := filepath.Glob(filepath.Join(dir, "default", "session_summary_*.json"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestRun_ResumesFromSnapshot(t *testing.T) {
	dir := t.TempDir()

	// first session runs Monday only
	cfg := sessionConfig()
	cfg.EndDate = "2024-03-04"
	d1, _ := newTestDriver(t, dir, nil, cfg)
	_, err := d1.Run(context.Background())
	require.NoError(t, err)

	// second session over the full range resumes after the snapshot
	d2, _ := newTestDriver(t, dir, nil, sessionConfig())
	summary, err := d2.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalDays, "Monday already settled; only Tue and Wed run")
	assert.Equal(t, 6, summary.FinalPortfolio.Position("AAPL").Long, "position carried across sessions")
}

func TestRunOneDay_FailedDayDoesNotAdvancePortfolio(t *testing.T) {
	d, _ := newTestDriver(t, t.TempDir(), nil, sessionConfig())
	pf := trading.NewPortfolio(10000, 0, []string{"AAPL"})

	result, next, _ := d.runOneDay(context.Background(), "sess", "not-a-date", "", pf)

	assert.NotEmpty(t, result.Error)
	assert.Same(t, pf, next, "failed day returns the untouched portfolio")
	assert.Equal(t, 10000.0, pf.Cash)
}

func TestRun_RecordsDashboardDays(t *testing.T) {
	dir := t.TempDir()
	sink, err := dashboard.NewSink(dir)
	require.NoError(t, err)

	d, _ := newTestDriver(t, dir, sink, sessionConfig())
	_, err = d.Run(context.Background())
	require.NoError(t, err)

	perf, err := sink.RecentPerformance(context.Background(), 3)
	require.NoError(t, err)
	assert.Contains(t, perf, "2024-03-04")
	assert.Contains(t, perf, "2024-03-06")
}

func TestLiveRunner_StartAndStop(t *testing.T) {
	d, _ := newTestDriver(t, t.TempDir(), nil, sessionConfig())

	l := NewLiveRunner(d, "", "")
	require.NoError(t, l.Start(context.Background()))
	l.Stop()
}

func TestLiveRunner_InvalidSchedule(t *testing.T) {
	d, _ := newTestDriver(t, t.TempDir(), nil, sessionConfig())

	l := NewLiveRunner(d, "not a cron spec", "")
	assert.Error(t, l.Start(context.Background()))
}

func TestCronPrintfLogsWithoutPanic(t *testing.T) {
	assert.NotPanics(t, func() {
		cronPrintf{}.Printf("wake, entry %d, next run %v", 1, time.Now())
	})
}

func TestRun_InvalidRange(t *testing.T) {
	cfg := sessionConfig()
	cfg.StartDate = "2024-03-06"
	cfg.EndDate = "2024-03-04"
	d, _ := newTestDriver(t, t.TempDir(), nil, cfg)

	_, err := d.Run(context.Background())
	assert.Error(t, err)
}

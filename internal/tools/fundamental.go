package tools

import (
	"context"
	"fmt"

	"github.com/quantdesk/quantdesk/internal/marketdata"
)

// FinancialMetricsTool scores a ticker on profitability, leverage and
// valuation multiples from its latest reported metrics.
type FinancialMetricsTool struct {
	Data marketdata.Provider
}

func (t *FinancialMetricsTool) Spec() Spec {
	return Spec{
		Name:           "financial_metrics_analysis",
		Category:       CategoryFundamental,
		Description:    "Scores profitability, leverage and valuation multiples from the latest reported financial metrics",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamEndDate},
		OptionalParams: []string{"period"},
	}
}

func (t *FinancialMetricsTool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]
	period := params["period"]
	if period == "" {
		period = "ttm"
	}

	metrics, err := t.Data.FinancialMetrics(ctx, ticker, params[ParamEndDate], period, 1)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch financial metrics: %w", err)
	}
	if len(metrics) == 0 {
		return Result{}, fmt.Errorf("no financial metrics for %s", ticker)
	}
	m := metrics[0]

	score := 0
	checks := 0

	check := func(pass bool) {
		checks++
		if pass {
			score++
		}
	}
	check(m.ReturnOnEquity > 0.15)
	check(m.NetMargin > 0.10)
	check(m.OperatingMargin > 0.15)
	check(m.DebtToEquity < 1.0 && m.DebtToEquity >= 0)
	check(m.CurrentRatio > 1.5)
	check(m.PriceToEarningsRatio > 0 && m.PriceToEarningsRatio < 25)

	signal := SignalNeutral
	ratio := float64(score) / float64(checks)
	switch {
	case ratio >= 0.65:
		signal = SignalBullish
	case ratio <= 0.35:
		signal = SignalBearish
	}

	return Result{
		Signal:     signal,
		Confidence: ratio * 100,
		Metrics: map[string]float64{
			"return_on_equity": m.ReturnOnEquity,
			"net_margin":       m.NetMargin,
			"operating_margin": m.OperatingMargin,
			"debt_to_equity":   m.DebtToEquity,
			"current_ratio":    m.CurrentRatio,
			"pe_ratio":         m.PriceToEarningsRatio,
		},
		Reasoning: fmt.Sprintf("%s passes %d of %d fundamental health checks (ROE %.2f, net margin %.2f, D/E %.2f, P/E %.1f)",
			ticker, score, checks, m.ReturnOnEquity, m.NetMargin, m.DebtToEquity, m.PriceToEarningsRatio),
	}, nil
}

// GrowthAnalysisTool reads revenue and earnings growth from the
// latest reported metrics
type GrowthAnalysisTool struct {
	Data marketdata.Provider
}

func (t *GrowthAnalysisTool) Spec() Spec {
	return Spec{
		Name:           "growth_analysis",
		Category:       CategoryFundamental,
		Description:    "Evaluates revenue and earnings growth trajectory",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamEndDate},
	}
}

func (t *GrowthAnalysisTool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]

	metrics, err := t.Data.FinancialMetrics(ctx, ticker, params[ParamEndDate], "ttm", 1)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch financial metrics: %w", err)
	}
	if len(metrics) == 0 {
		return Result{}, fmt.Errorf("no financial metrics for %s", ticker)
	}
	m := metrics[0]

	signal := SignalNeutral
	confidence := 50.0
	switch {
	case m.RevenueGrowth > 0.10 && m.EarningsGrowth > 0.10:
		signal = SignalBullish
		confidence = 75
	case m.RevenueGrowth > 0.05 || m.EarningsGrowth > 0.05:
		signal = SignalBullish
		confidence = 60
	case m.RevenueGrowth < 0 && m.EarningsGrowth < 0:
		signal = SignalBearish
		confidence = 70
	case m.RevenueGrowth < 0 || m.EarningsGrowth < 0:
		signal = SignalBearish
		confidence = 55
	}

	return Result{
		Signal:     signal,
		Confidence: confidence,
		Metrics: map[string]float64{
			"revenue_growth":  m.RevenueGrowth,
			"earnings_growth": m.EarningsGrowth,
			"eps":             m.EarningsPerShare,
		},
		Reasoning: fmt.Sprintf("%s revenue growth %.1f%%, earnings growth %.1f%%",
			ticker, m.RevenueGrowth*100, m.EarningsGrowth*100),
	}, nil
}

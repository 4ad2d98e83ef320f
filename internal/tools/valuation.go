package tools

import (
	"context"
	"fmt"

	"github.com/quantdesk/quantdesk/internal/marketdata"
)

// ValuationMultiplesTool judges whether a ticker looks cheap or rich
// on its P/E, P/B, P/S and EV/EBITDA multiples
type ValuationMultiplesTool struct {
	Data marketdata.Provider
}

func (t *ValuationMultiplesTool) Spec() Spec {
	return Spec{
		Name:           "valuation_multiples",
		Category:       CategoryValuation,
		Description:    "Judges cheapness via P/E, P/B, P/S and EV/EBITDA multiples",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamEndDate},
	}
}

func (t *ValuationMultiplesTool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]

	metrics, err := t.Data.FinancialMetrics(ctx, ticker, params[ParamEndDate], "ttm", 1)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch financial metrics: %w", err)
	}
	if len(metrics) == 0 {
		return Result{}, fmt.Errorf("no financial metrics for %s", ticker)
	}
	m := metrics[0]

	cheap := 0
	rich := 0
	judge := func(value, cheapBelow, richAbove float64) {
		if value <= 0 {
			return
		}
		if value < cheapBelow {
			cheap++
		} else if value > richAbove {
			rich++
		}
	}
	judge(m.PriceToEarningsRatio, 15, 30)
	judge(m.PriceToBookRatio, 1.5, 5)
	judge(m.PriceToSalesRatio, 2, 8)
	judge(m.EVToEBITDA, 10, 20)

	signal := SignalNeutral
	confidence := 50.0
	switch {
	case cheap >= 2 && cheap > rich:
		signal = SignalBullish
		confidence = 55 + float64(cheap)*8
	case rich >= 2 && rich > cheap:
		signal = SignalBearish
		confidence = 55 + float64(rich)*8
	}

	return Result{
		Signal:     signal,
		Confidence: confidence,
		Metrics: map[string]float64{
			"pe_ratio":  m.PriceToEarningsRatio,
			"pb_ratio":  m.PriceToBookRatio,
			"ps_ratio":  m.PriceToSalesRatio,
			"ev_ebitda": m.EVToEBITDA,
		},
		Reasoning: fmt.Sprintf("%s multiples: P/E %.1f, P/B %.1f, P/S %.1f, EV/EBITDA %.1f (%d cheap, %d rich)",
			ticker, m.PriceToEarningsRatio, m.PriceToBookRatio, m.PriceToSalesRatio, m.EVToEBITDA, cheap, rich),
	}, nil
}

// FCFYieldTool reads free-cash-flow yield against market cap
type FCFYieldTool struct {
	Data marketdata.Provider
}

func (t *FCFYieldTool) Spec() Spec {
	return Spec{
		Name:           "fcf_yield",
		Category:       CategoryValuation,
		Description:    "Free-cash-flow yield relative to market capitalization",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamEndDate},
	}
}

func (t *FCFYieldTool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]
	endDate := params[ParamEndDate]

	metrics, err := t.Data.FinancialMetrics(ctx, ticker, endDate, "ttm", 1)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch financial metrics: %w", err)
	}
	if len(metrics) == 0 {
		return Result{}, fmt.Errorf("no financial metrics for %s", ticker)
	}
	m := metrics[0]

	marketCap, err := t.Data.MarketCap(ctx, ticker, endDate)
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch market cap: %w", err)
	}
	if marketCap <= 0 {
		return Result{}, fmt.Errorf("no market cap for %s", ticker)
	}

	fcfYield := m.FreeCashFlowYield

	signal := SignalNeutral
	confidence := 50.0
	switch {
	case fcfYield > 0.06:
		signal = SignalBullish
		confidence = 60 + min(fcfYield*300, 25)
	case fcfYield > 0 && fcfYield < 0.02:
		signal = SignalBearish
		confidence = 60
	case fcfYield < 0:
		signal = SignalBearish
		confidence = 70
	}

	return Result{
		Signal:     signal,
		Confidence: confidence,
		Metrics: map[string]float64{
			"fcf_yield":     fcfYield,
			"market_cap":    marketCap,
			"fcf_per_share": m.FreeCashFlowPerShare,
		},
		Reasoning: fmt.Sprintf("%s FCF yield %.2f%% on market cap %.0f", ticker, fcfYield*100, marketCap),
	}, nil
}

var _ Tool = (*ValuationMultiplesTool)(nil)
var _ Tool = (*FCFYieldTool)(nil)
var _ Tool = (*FinancialMetricsTool)(nil)
var _ Tool = (*GrowthAnalysisTool)(nil)
var _ Tool = (*MovingAverage200Tool)(nil)
var _ Tool = (*RSIMomentumTool)(nil)
var _ Tool = (*MACDTrendTool)(nil)
var _ Tool = (*BollingerBandsTool)(nil)

package tools

import (
	"context"
	"fmt"

	"github.com/cinar/indicator/v2/momentum"
	"github.com/cinar/indicator/v2/trend"
	"github.com/cinar/indicator/v2/volatility"

	"github.com/quantdesk/quantdesk/internal/marketdata"
)

func closingPrices(bars []marketdata.PriceBar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

func toChan(values []float64) chan float64 {
	ch := make(chan float64, len(values))
	for _, v := range values {
		ch <- v
	}
	close(ch)
	return ch
}

func collect(ch <-chan float64) []float64 {
	var out []float64
	for v := range ch {
		out = append(out, v)
	}
	return out
}

// MovingAverage200Tool compares the last close against the 200-day
// simple moving average. It extends the requested start_date 250
// calendar days back so enough bars exist for the window.
type MovingAverage200Tool struct {
	Data marketdata.Provider
}

func (t *MovingAverage200Tool) Spec() Spec {
	return Spec{
		Name:           "moving_average_200",
		Category:       CategoryTechnical,
		Description:    "Compares current price against the 200-day simple moving average",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamStartDate, ParamEndDate},
	}
}

func (t *MovingAverage200Tool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]

	start, err := marketdata.ParseDate(params[ParamStartDate])
	if err != nil {
		return Result{}, fmt.Errorf("invalid start_date: %w", err)
	}
	extendedStart := start.AddDate(0, 0, -250).Format(marketdata.DateLayout)

	bars, err := t.Data.Prices(ctx, ticker, extendedStart, params[ParamEndDate])
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch prices: %w", err)
	}
	if len(bars) < 200 {
		return Result{}, fmt.Errorf("insufficient data for 200-day MA: %d bars", len(bars))
	}

	prices := closingPrices(bars)
	sma := collect(trend.NewSmaWithPeriod[float64](200).Compute(toChan(prices)))
	if len(sma) == 0 {
		return Result{}, fmt.Errorf("no SMA values calculated")
	}

	currentSMA := sma[len(sma)-1]
	currentPrice := prices[len(prices)-1]
	deviation := (currentPrice - currentSMA) / currentSMA

	signal := SignalNeutral
	confidence := 50.0
	if deviation > 0.02 {
		signal = SignalBullish
		confidence = 60 + min(deviation*100, 30)
	} else if deviation < -0.02 {
		signal = SignalBearish
		confidence = 60 + min(-deviation*100, 30)
	}

	return Result{
		Signal:     signal,
		Confidence: confidence,
		Metrics: map[string]float64{
			"sma_200":       currentSMA,
			"current_price": currentPrice,
			"deviation_pct": deviation * 100,
		},
		Reasoning: fmt.Sprintf("%s trades %.1f%% %s its 200-day MA (%.2f vs %.2f)",
			ticker, abs(deviation)*100, aboveBelow(deviation), currentPrice, currentSMA),
	}, nil
}

// RSIMomentumTool computes the 14-period RSI and flags overbought and
// oversold conditions
type RSIMomentumTool struct {
	Data marketdata.Provider
}

func (t *RSIMomentumTool) Spec() Spec {
	return Spec{
		Name:           "rsi_momentum",
		Category:       CategoryTechnical,
		Description:    "14-period RSI momentum with overbought/oversold detection",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamStartDate, ParamEndDate},
	}
}

func (t *RSIMomentumTool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]

	bars, err := t.Data.Prices(ctx, ticker, params[ParamStartDate], params[ParamEndDate])
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch prices: %w", err)
	}
	if len(bars) < 15 {
		return Result{}, fmt.Errorf("insufficient data for RSI: %d bars", len(bars))
	}

	rsi := collect(momentum.NewRsiWithPeriod[float64](14).Compute(toChan(closingPrices(bars))))
	if len(rsi) == 0 {
		return Result{}, fmt.Errorf("no RSI values calculated")
	}
	currentRSI := rsi[len(rsi)-1]

	// Oversold reads contrarian-bullish, overbought contrarian-bearish
	signal := SignalNeutral
	confidence := 50.0
	switch {
	case currentRSI < 30:
		signal = SignalBullish
		confidence = 60 + (30-currentRSI)/30*25
	case currentRSI > 70:
		signal = SignalBearish
		confidence = 60 + (currentRSI-70)/30*25
	}

	return Result{
		Signal:     signal,
		Confidence: confidence,
		Metrics:    map[string]float64{"rsi_14": currentRSI},
		Reasoning:  fmt.Sprintf("%s RSI(14) at %.1f", ticker, currentRSI),
	}, nil
}

// MACDTrendTool computes MACD(12,26,9) and reads the histogram and
// crossovers for trend direction
type MACDTrendTool struct {
	Data marketdata.Provider
}

func (t *MACDTrendTool) Spec() Spec {
	return Spec{
		Name:           "macd_trend",
		Category:       CategoryTechnical,
		Description:    "MACD(12,26,9) trend and crossover detection",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamStartDate, ParamEndDate},
	}
}

func (t *MACDTrendTool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]

	bars, err := t.Data.Prices(ctx, ticker, params[ParamStartDate], params[ParamEndDate])
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch prices: %w", err)
	}
	if len(bars) < 35 {
		return Result{}, fmt.Errorf("insufficient data for MACD: %d bars", len(bars))
	}

	macdChan, signalChan := trend.NewMacdWithPeriod[float64](12, 26, 9).Compute(toChan(closingPrices(bars)))
	var macdValues, signalValues []float64
	for {
		m, mok := <-macdChan
		s, sok := <-signalChan
		if !mok || !sok {
			break
		}
		macdValues = append(macdValues, m)
		signalValues = append(signalValues, s)
	}
	if len(macdValues) == 0 {
		return Result{}, fmt.Errorf("no MACD values calculated")
	}

	currentMACD := macdValues[len(macdValues)-1]
	currentSignal := signalValues[len(signalValues)-1]
	histogram := currentMACD - currentSignal

	crossover := "none"
	if len(macdValues) >= 2 {
		prevHist := macdValues[len(macdValues)-2] - signalValues[len(signalValues)-2]
		if prevHist <= 0 && histogram > 0 {
			crossover = SignalBullish
		} else if prevHist >= 0 && histogram < 0 {
			crossover = SignalBearish
		}
	}

	signal := SignalNeutral
	confidence := 50.0
	switch {
	case crossover == SignalBullish:
		signal = SignalBullish
		confidence = 75
	case crossover == SignalBearish:
		signal = SignalBearish
		confidence = 75
	case histogram > 0:
		signal = SignalBullish
		confidence = 60
	case histogram < 0:
		signal = SignalBearish
		confidence = 60
	}

	return Result{
		Signal:     signal,
		Confidence: confidence,
		Metrics: map[string]float64{
			"macd":      currentMACD,
			"signal":    currentSignal,
			"histogram": histogram,
		},
		Reasoning: fmt.Sprintf("%s MACD histogram %.3f, crossover: %s", ticker, histogram, crossover),
	}, nil
}

// BollingerBandsTool reads price position relative to the 20-period
// Bollinger Bands
type BollingerBandsTool struct {
	Data marketdata.Provider
}

func (t *BollingerBandsTool) Spec() Spec {
	return Spec{
		Name:           "bollinger_bands",
		Category:       CategoryTechnical,
		Description:    "Price position relative to 20-period Bollinger Bands",
		RequiredParams: []string{ParamTicker, ParamAPIKey, ParamStartDate, ParamEndDate},
	}
}

func (t *BollingerBandsTool) Run(ctx context.Context, params Params) (Result, error) {
	ticker := params[ParamTicker]

	bars, err := t.Data.Prices(ctx, ticker, params[ParamStartDate], params[ParamEndDate])
	if err != nil {
		return Result{}, fmt.Errorf("failed to fetch prices: %w", err)
	}
	if len(bars) < 20 {
		return Result{}, fmt.Errorf("insufficient data for Bollinger Bands: %d bars", len(bars))
	}

	prices := closingPrices(bars)
	lowerChan, middleChan, upperChan := volatility.NewBollingerBandsWithPeriod[float64](20).Compute(toChan(prices))
	var lower, middle, upper []float64
	for {
		l, lok := <-lowerChan
		m, mok := <-middleChan
		u, uok := <-upperChan
		if !lok || !mok || !uok {
			break
		}
		lower = append(lower, l)
		middle = append(middle, m)
		upper = append(upper, u)
	}
	if len(middle) == 0 {
		return Result{}, fmt.Errorf("no Bollinger Bands values calculated")
	}

	currentUpper := upper[len(upper)-1]
	currentMiddle := middle[len(middle)-1]
	currentLower := lower[len(lower)-1]
	currentPrice := prices[len(prices)-1]
	width := (currentUpper - currentLower) / currentMiddle * 100

	signal := SignalNeutral
	confidence := 50.0
	if currentPrice <= currentLower {
		signal = SignalBullish
		confidence = 70
	} else if currentPrice >= currentUpper {
		signal = SignalBearish
		confidence = 70
	}

	return Result{
		Signal:     signal,
		Confidence: confidence,
		Metrics: map[string]float64{
			"upper":         currentUpper,
			"middle":        currentMiddle,
			"lower":         currentLower,
			"width_pct":     width,
			"current_price": currentPrice,
		},
		Reasoning: fmt.Sprintf("%s at %.2f within bands [%.2f, %.2f], width %.1f%%",
			ticker, currentPrice, currentLower, currentUpper, width),
	}, nil
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func aboveBelow(deviation float64) string {
	if deviation >= 0 {
		return "above"
	}
	return "below"
}

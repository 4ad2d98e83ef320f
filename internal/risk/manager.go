// Package risk computes per-ticker volatility metrics and either a
// risk-level bucket (basic mode) or a position-limit sizing envelope
// (portfolio mode).
package risk

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// Mode selects the assessment flavour
type Mode string

const (
	ModeBasic     Mode = "basic"
	ModePortfolio Mode = "portfolio"
)

const (
	returnWindow      = 60  // most recent daily returns used for vol
	rollingVolWindow  = 30  // window for the percentile distribution
	tradingDaysPerYr  = 252
	basePositionLimit = 0.35 // of total portfolio value, before the vol multiplier
)

// Manager is the risk agent
type Manager struct {
	data     marketdata.Provider
	calendar marketdata.Calendar
	log      zerolog.Logger
}

// NewManager creates a risk manager over a market data provider
func NewManager(data marketdata.Provider, cal marketdata.Calendar) *Manager {
	return &Manager{
		data:     data,
		calendar: cal,
		log:      config.NewLogger(trading.AgentRiskManager),
	}
}

// Assess evaluates every ticker in the state and returns the risk
// output published under the risk_manager key. CurrentPrices on the
// state are NOT touched here; the portfolio manager exports them from
// the returned assessments.
func (m *Manager) Assess(ctx context.Context, st *trading.DayState, mode Mode) (*trading.AgentOutput, error) {
	analysisDate, err := marketdata.ParseDate(st.TradingDate)
	if err != nil {
		return nil, fmt.Errorf("invalid trading date %q: %w", st.TradingDate, err)
	}

	// the volatility window never includes the analysis day's own bar
	volEnd := m.calendar.LastTradingDay(analysisDate.AddDate(0, 0, -1))
	volStart := volEnd.AddDate(0, 0, -180)

	out := &trading.AgentOutput{
		Status: trading.StatusOK,
		Risk:   make(map[string]*trading.RiskAssessment, len(st.Tickers)),
	}

	for _, ticker := range st.Tickers {
		assessment := m.assessTicker(ctx, ticker, volStart.Format(marketdata.DateLayout), volEnd.Format(marketdata.DateLayout), st, mode)
		out.Risk[ticker] = assessment

		m.log.Info().
			Str("ticker", ticker).
			Str("risk_level", string(assessment.RiskLevel)).
			Float64("annualized_vol", assessment.VolatilityInfo.AnnualizedVolatility).
			Float64("current_price", assessment.CurrentPrice).
			Msg("Risk assessment complete")
	}

	return out, nil
}

func (m *Manager) assessTicker(ctx context.Context, ticker, volStart, volEnd string, st *trading.DayState, mode Mode) *trading.RiskAssessment {
	bars, err := m.data.Prices(ctx, ticker, volStart, volEnd)
	if err != nil || len(bars) < 2 {
		m.log.Warn().Err(err).Str("ticker", ticker).Msg("No price history for risk assessment")
		return degradedAssessment(mode)
	}

	currentPrice := m.currentPrice(ctx, ticker, st, bars)
	vol := computeVolatility(bars)

	a := &trading.RiskAssessment{
		CurrentPrice:   currentPrice,
		VolatilityInfo: vol,
	}

	switch mode {
	case ModePortfolio:
		m.fillPositionLimit(a, ticker, st, currentPrice)
	default:
		fillRiskLevel(a)
	}
	return a
}

// currentPrice resolves the analysis-day price. Live mode reads the
// analysis day's open (the close does not exist yet); otherwise the
// close. Missing analysis-day bars fall back to the previous close.
func (m *Manager) currentPrice(ctx context.Context, ticker string, st *trading.DayState, history []marketdata.PriceBar) float64 {
	dayBars, err := m.data.Prices(ctx, ticker, st.TradingDate, st.TradingDate)
	if err == nil && len(dayBars) > 0 {
		if st.IsLiveMode {
			return dayBars[0].Open
		}
		return dayBars[0].Close
	}
	return history[len(history)-1].Close
}

func computeVolatility(bars []marketdata.PriceBar) trading.VolatilityInfo {
	returns := make([]float64, 0, len(bars)-1)
	for i := 1; i < len(bars); i++ {
		if bars[i-1].Close > 0 {
			returns = append(returns, bars[i].Close/bars[i-1].Close-1)
		}
	}
	if len(returns) == 0 {
		return trading.VolatilityInfo{VolatilityPercentile: 50}
	}

	recent := returns
	if len(recent) > returnWindow {
		recent = recent[len(recent)-returnWindow:]
	}

	dailyVol := stat.StdDev(recent, nil)
	if math.IsNaN(dailyVol) {
		dailyVol = 0
	}

	return trading.VolatilityInfo{
		DailyVolatility:      dailyVol,
		AnnualizedVolatility: dailyVol * math.Sqrt(tradingDaysPerYr),
		VolatilityPercentile: volPercentile(returns, dailyVol),
		DataPoints:           len(recent),
	}
}

// volPercentile is the fraction of rolling 30-day vols not exceeding
// the current daily vol, as a percentage. Defaults to 50 when the
// history cannot support a distribution.
func volPercentile(returns []float64, currentVol float64) float64 {
	if len(returns) < rollingVolWindow+1 {
		return 50
	}
	var rolling []float64
	for i := rollingVolWindow; i <= len(returns); i++ {
		rolling = append(rolling, stat.StdDev(returns[i-rollingVolWindow:i], nil))
	}
	notExceeding := 0
	for _, v := range rolling {
		if v <= currentVol {
			notExceeding++
		}
	}
	return float64(notExceeding) / float64(len(rolling)) * 100
}

// fillRiskLevel buckets annualized volatility into a level and score
func fillRiskLevel(a *trading.RiskAssessment) {
	annVol := a.VolatilityInfo.AnnualizedVolatility

	var (
		level trading.RiskLevel
		score float64
	)
	switch {
	case annVol < 0.15:
		level, score = trading.RiskLow, 25
	case annVol < 0.30:
		level, score = trading.RiskMedium, 50
	case annVol < 0.50:
		level, score = trading.RiskHigh, 75
	default:
		level, score = trading.RiskVeryHigh, 90
	}

	// percentile shifts the base score within its band; thin samples
	// push the score up
	score += (a.VolatilityInfo.VolatilityPercentile - 50) / 10
	if a.VolatilityInfo.DataPoints < rollingVolWindow {
		score += 5
	}
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	a.RiskLevel = level
	a.RiskScore = score
	a.RiskAssessment = fmt.Sprintf("annualized volatility %.1f%% places the name in the %s band (score %.0f, percentile %.0f over %d observations)",
		annVol*100, level, score, a.VolatilityInfo.VolatilityPercentile, a.VolatilityInfo.DataPoints)
}

// fillPositionLimit computes the sizing envelope for portfolio mode
func (m *Manager) fillPositionLimit(a *trading.RiskAssessment, ticker string, st *trading.DayState, currentPrice float64) {
	if st.Portfolio == nil || currentPrice <= 0 {
		a.Reasoning = "no portfolio or price available; sizing denied"
		return
	}

	annVol := a.VolatilityInfo.AnnualizedVolatility
	limitPct := basePositionLimit * volMultiplier(annVol)

	totalValue := st.Portfolio.TotalValue(map[string]float64{ticker: currentPrice})
	// TotalValue only marks the one ticker we have a price for; add
	// the other positions at cost so the limit base is not understated
	for other, pos := range st.Portfolio.Positions {
		if other == ticker {
			continue
		}
		totalValue += float64(pos.Long) * pos.LongCostBasis
	}

	positionLimit := totalValue * limitPct
	pos := st.Portfolio.Position(ticker)
	currentExposure := math.Abs(float64(pos.Long)*currentPrice) + math.Abs(float64(pos.Short)*currentPrice)
	remaining := positionLimit - currentExposure
	if remaining < 0 {
		remaining = 0
	}

	budget := math.Min(remaining, st.Portfolio.Cash)
	maxShares := int(math.Floor(budget / currentPrice))
	if maxShares < 0 {
		maxShares = 0
	}

	a.MaxShares = maxShares
	a.RemainingPositionLimit = remaining
	a.Reasoning = fmt.Sprintf("annualized vol %.1f%% sets the position limit at %.1f%% of portfolio value (%.0f); %.0f remains, capping new exposure at %d shares",
		annVol*100, limitPct*100, positionLimit, remaining, maxShares)
}

// volMultiplier interpolates the position-limit multiplier from 1.3
// at very low volatility down to 0.4 at very high volatility
func volMultiplier(annVol float64) float64 {
	const (
		lowVol, lowMult   = 0.15, 1.3
		highVol, highMult = 0.80, 0.4
	)
	switch {
	case annVol <= lowVol:
		return lowMult
	case annVol >= highVol:
		return highMult
	}
	frac := (annVol - lowVol) / (highVol - lowVol)
	return lowMult + frac*(highMult-lowMult)
}

func degradedAssessment(mode Mode) *trading.RiskAssessment {
	a := &trading.RiskAssessment{
		VolatilityInfo: trading.VolatilityInfo{VolatilityPercentile: 50},
	}
	if mode == ModePortfolio {
		a.Reasoning = "no price data; sizing denied"
	} else {
		a.RiskLevel = trading.RiskUnknown
		a.RiskScore = 50
		a.RiskAssessment = "no price data available"
	}
	return a
}

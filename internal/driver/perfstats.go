package driver

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/quantdesk/quantdesk/internal/trading"
)

const tradingDaysPerYear = 252

// PerformanceStats summarizes a session's equity curve
type PerformanceStats struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedSharpe float64 `json:"annualized_sharpe"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	TradingDays      int     `json:"trading_days"`
	TotalTrades      int     `json:"total_trades"`
}

// ComputeStats derives performance statistics from the successful
// days' portfolio values, using initialValue as the equity base.
// Returns nil when no day succeeded.
func ComputeStats(initialValue float64, results []trading.DayResult) *PerformanceStats {
	var values []float64
	trades := 0
	for _, r := range results {
		if r.Error != "" {
			continue
		}
		values = append(values, r.PortfolioValue)
		trades += len(r.ExecutedTrades)
	}
	if len(values) == 0 || initialValue <= 0 {
		return nil
	}

	returns := make([]float64, len(values))
	prev := initialValue
	wins := 0
	for i, v := range values {
		returns[i] = v/prev - 1
		if returns[i] > 0 {
			wins++
		}
		prev = v
	}

	return &PerformanceStats{
		TotalReturn:      values[len(values)-1]/initialValue - 1,
		AnnualizedSharpe: annualizedSharpe(returns),
		MaxDrawdown:      maxDrawdown(initialValue, values),
		WinRate:          float64(wins) / float64(len(returns)),
		TradingDays:      len(values),
		TotalTrades:      trades,
	}
}

// annualizedSharpe computes mean/stddev of daily returns scaled to a
// trading year, zero when the curve is flat
func annualizedSharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// maxDrawdown is the largest peak-to-trough decline over the equity
// curve, reported as a positive fraction
func maxDrawdown(initialValue float64, values []float64) float64 {
	peak := initialValue
	worst := 0.0
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if dd := (peak - v) / peak; dd > worst {
			worst = dd
		}
	}
	return worst
}

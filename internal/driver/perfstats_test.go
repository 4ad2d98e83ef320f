package driver

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/quantdesk/internal/trading"
)

func dayResult(date string, value float64, trades int) trading.DayResult {
	r := trading.DayResult{Date: date, PortfolioValue: value}
	for i := 0; i < trades; i++ {
		r.ExecutedTrades = append(r.ExecutedTrades, trading.TradeRecord{
			Ticker: "AAPL", Action: trading.ActionLong, Quantity: 1, Price: value / 100, Timestamp: time.Now(),
		})
	}
	return r
}

func TestComputeStats(t *testing.T) {
	results := []trading.DayResult{
		dayResult("2024-03-04", 10100, 1), // +1.0%
		dayResult("2024-03-05", 9900, 1),  // -1.98%
		dayResult("2024-03-06", 10300, 2), // +4.04%
	}

	stats := ComputeStats(10000, results)
	require.NotNil(t, stats)

	assert.InDelta(t, 0.03, stats.TotalReturn, 1e-9)
	assert.Equal(t, 3, stats.TradingDays)
	assert.Equal(t, 4, stats.TotalTrades)
	assert.InDelta(t, 2.0/3.0, stats.WinRate, 1e-9)

	// worst decline: peak 10100 down to 9900
	assert.InDelta(t, 200.0/10100.0, stats.MaxDrawdown, 1e-9)
	assert.NotZero(t, stats.AnnualizedSharpe)
}

func TestComputeStats_SkipsFailedDays(t *testing.T) {
	results := []trading.DayResult{
		dayResult("2024-03-04", 10100, 1),
		{Date: "2024-03-05", Error: "pipeline failed"},
		dayResult("2024-03-06", 10200, 0),
	}

	stats := ComputeStats(10000, results)
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.TradingDays)
	assert.InDelta(t, 0.02, stats.TotalReturn, 1e-9)
}

func TestComputeStats_FlatCurveHasZeroSharpe(t *testing.T) {
	results := []trading.DayResult{
		dayResult("2024-03-04", 10000, 0),
		dayResult("2024-03-05", 10000, 0),
		dayResult("2024-03-06", 10000, 0),
	}

	stats := ComputeStats(10000, results)
	require.NotNil(t, stats)
	assert.Zero(t, stats.AnnualizedSharpe)
	assert.Zero(t, stats.MaxDrawdown)
	assert.Zero(t, stats.WinRate)
}

func TestComputeStats_NoSuccessfulDays(t *testing.T) {
	assert.Nil(t, ComputeStats(10000, []trading.DayResult{{Date: "2024-03-04", Error: "boom"}}))
	assert.Nil(t, ComputeStats(10000, nil))
}

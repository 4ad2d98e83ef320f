package alerts

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantdesk/quantdesk/internal/trading"
)

type captureNotifier struct {
	titles   []string
	messages []string
	err      error
}

func (c *captureNotifier) Notify(_ context.Context, title, message string) error {
	if c.err != nil {
		return c.err
	}
	c.titles = append(c.titles, title)
	c.messages = append(c.messages, message)
	return nil
}

func summaryState() *trading.DayState {
	st := trading.NewDayState("sess", []string{"AAPL", "MSFT"}, "2024-03-04", "2024-02-03", nil)
	st.Decisions = map[string]trading.Decision{
		"MSFT": {Action: trading.ActionHold, Confidence: 60, Reasoning: "mixed signals"},
		"AAPL": {Action: trading.ActionLong, Quantity: 5, Confidence: 80, Reasoning: "consensus"},
	}
	st.ExecutedTrades = []trading.TradeRecord{
		{Ticker: "AAPL", Action: trading.ActionLong, Quantity: 5, Price: 110, Timestamp: time.Now()},
	}
	return st
}

func TestFormatDaySummary(t *testing.T) {
	got := FormatDaySummary(summaryState(), 10450)

	assert.Contains(t, got, "Portfolio value: 10450.00")
	assert.Contains(t, got, "- AAPL: long x5 (80%)")
	assert.Contains(t, got, "- MSFT: hold (60%)")
	assert.Contains(t, got, "- long AAPL x5 @ 110.00")

	// decisions listed in ticker order
	assert.Less(t, strings.Index(got, "AAPL: long"), strings.Index(got, "MSFT: hold"))
}

func TestFormatDaySummary_QuietDay(t *testing.T) {
	st := trading.NewDayState("sess", []string{"AAPL"}, "2024-03-04", "2024-02-03", nil)
	got := FormatDaySummary(st, 10000)
	assert.Contains(t, got, "No trades executed.")
}

func TestFormatDaySummary_DeferredTrades(t *testing.T) {
	st := trading.NewDayState("sess", []string{"AAPL"}, "2024-03-04", "2024-02-03", nil)
	st.TradesDeferred = &trading.DeferredTrades{Date: "2024-03-04"}
	got := FormatDaySummary(st, 10000)
	assert.Contains(t, got, "Trades deferred until market close.")
}

func TestDaySummary_FansOutToAllNotifiers(t *testing.T) {
	a := &captureNotifier{}
	b := &captureNotifier{}
	alerter := NewDayAlerter(a, b)

	require.NoError(t, alerter.DaySummary(context.Background(), summaryState(), 10450))

	require.Len(t, a.titles, 1)
	require.Len(t, b.titles, 1)
	assert.Equal(t, "Trading day 2024-03-04", a.titles[0])
	assert.Equal(t, a.messages[0], b.messages[0])
}

func TestDaySummary_OneFailureStillDeliversToOthers(t *testing.T) {
	broken := &captureNotifier{err: errors.New("channel down")}
	healthy := &captureNotifier{}
	alerter := NewDayAlerter(broken, healthy)

	err := alerter.DaySummary(context.Background(), summaryState(), 10450)

	assert.Error(t, err)
	assert.Len(t, healthy.titles, 1, "failure in one channel must not block the rest")
}

func TestFormatTelegramMessage(t *testing.T) {
	got := FormatTelegramMessage("Trading day 2024-03-04", "Portfolio value: 10450.00")
	assert.Contains(t, got, "*Trading day 2024-03-04*")
	assert.Contains(t, got, "Portfolio value: 10450.00")
}

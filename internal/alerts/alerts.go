// Package alerts pushes end-of-day summaries to external channels.
// Delivery is fire-and-forget: a failed alert is logged and never
// fails the trading day.
package alerts

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// Notifier delivers one formatted message to a channel
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// DayAlerter formats a completed trading day and fans it out to every
// configured notifier
type DayAlerter struct {
	notifiers []Notifier
	log       zerolog.Logger
}

// NewDayAlerter creates the alerter
func NewDayAlerter(notifiers ...Notifier) *DayAlerter {
	return &DayAlerter{notifiers: notifiers, log: config.NewLogger("alerts")}
}

// DaySummary implements the driver's alert hook
func (a *DayAlerter) DaySummary(ctx context.Context, st *trading.DayState, portfolioValue float64) error {
	title := fmt.Sprintf("Trading day %s", st.TradingDate)
	message := FormatDaySummary(st, portfolioValue)

	var lastErr error
	for _, n := range a.notifiers {
		if err := n.Notify(ctx, title, message); err != nil {
			a.log.Warn().Err(err).Str("date", st.TradingDate).Msg("Alert delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

// FormatDaySummary renders the day's decisions, trades and portfolio
// value as a plain-text summary
func FormatDaySummary(st *trading.DayState, portfolioValue float64) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Portfolio value: %.2f\n", portfolioValue)

	if len(st.Decisions) > 0 {
		b.WriteString("\nDecisions:\n")
		tickers := make([]string, 0, len(st.Decisions))
		for t := range st.Decisions {
			tickers = append(tickers, t)
		}
		sort.Strings(tickers)
		for _, ticker := range tickers {
			dec := st.Decisions[ticker]
			fmt.Fprintf(&b, "- %s: %s", ticker, dec.Action)
			if dec.Quantity > 0 {
				fmt.Fprintf(&b, " x%d", dec.Quantity)
			}
			fmt.Fprintf(&b, " (%.0f%%)\n", dec.Confidence)
		}
	}

	if len(st.ExecutedTrades) > 0 {
		b.WriteString("\nExecuted trades:\n")
		for _, tr := range st.ExecutedTrades {
			fmt.Fprintf(&b, "- %s %s x%d @ %.2f\n", tr.Action, tr.Ticker, tr.Quantity, tr.Price)
		}
	} else if st.TradesDeferred != nil {
		b.WriteString("\nTrades deferred until market close.\n")
	} else {
		b.WriteString("\nNo trades executed.\n")
	}

	if n := len(st.CommLogs.PrivateChats) + len(st.CommLogs.Meetings); n > 0 {
		fmt.Fprintf(&b, "\nTeam discussions held: %d\n", n)
	}

	fmt.Fprintf(&b, "\nGenerated %s", time.Now().Format("2006-01-02 15:04:05"))
	return b.String()
}

// LogNotifier writes alerts to the application log, the default
// channel when nothing external is configured
type LogNotifier struct {
	log zerolog.Logger
}

// NewLogNotifier creates the log-backed notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: config.NewLogger("alerts")}
}

// Notify implements Notifier
func (l *LogNotifier) Notify(_ context.Context, title, message string) error {
	l.log.Info().Str("title", title).Msg(message)
	return nil
}

package agents

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/notify"
	"github.com/quantdesk/quantdesk/internal/selector"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// APIKeys carries the two analysis data keys tools resolve against
type APIKeys struct {
	FinancialData string
	NewsData      string
}

// Analyst is one persona-driven analyst agent
type Analyst struct {
	Persona  selector.Persona
	gw       gateway.Caller
	sel      *selector.Selector
	calendar marketdata.Calendar
	hub      *notify.Hub // nil disables notifications
	keys     APIKeys
	defaults ModelDefaults
	log      zerolog.Logger
}

// NewAnalyst creates an analyst for one persona. The hub may be nil
// when notifications are disabled.
func NewAnalyst(persona selector.Persona, gw gateway.Caller, sel *selector.Selector, cal marketdata.Calendar, hub *notify.Hub, keys APIKeys, defaults ModelDefaults) *Analyst {
	a := &Analyst{
		Persona:  persona,
		gw:       gw,
		sel:      sel,
		calendar: cal,
		hub:      hub,
		keys:     keys,
		defaults: defaults,
		log:      config.NewAgentLogger(persona.AgentID(), persona.ID),
	}
	if hub != nil {
		hub.Register(persona.AgentID())
	}
	return a
}

// AgentID is the key this analyst publishes under
func (a *Analyst) AgentID() string { return a.Persona.AgentID() }

// RunRound1 performs the select-execute-synthesize cycle for every
// ticker in the state and returns the agent's round-1 output. The
// state is the analyst's private copy; the orchestrator merges the
// returned output into the canonical state.
func (a *Analyst) RunRound1(ctx context.Context, st *trading.DayState) (*trading.AgentOutput, error) {
	tradingDate, err := marketdata.ParseDate(st.TradingDate)
	if err != nil {
		return nil, fmt.Errorf("invalid trading date %q: %w", st.TradingDate, err)
	}

	// analysis never reads the current, possibly partial, day
	endDate := a.calendar.LastTradingDay(tradingDate.AddDate(0, 0, -1)).Format(marketdata.DateLayout)
	base := ResolveRequest(st, a.AgentID(), a.defaults)

	out := &trading.AgentOutput{
		Status:  trading.StatusOK,
		Reports: make(map[string]*trading.TickerReport, len(st.Tickers)),
	}

	for _, ticker := range st.Tickers {
		report := a.analyzeTicker(ctx, base, ticker, st.LookbackStart, endDate)
		out.Reports[ticker] = report

		a.log.Info().
			Str("ticker", ticker).
			Str("signal", string(report.Signal)).
			Float64("confidence", report.Confidence).
			Msg("Round-1 analysis complete")

		if a.hub != nil && report.Signal != trading.SignalNeutral {
			finding := fmt.Sprintf("%s on %s: %s (confidence %.0f). %s",
				a.Persona.Name, ticker, report.Signal, report.Confidence, report.Reasoning)
			a.hub.MaybeBroadcast(ctx, a.gw, base, a.AgentID(), finding)
		}
	}

	if len(out.Reports) == 0 {
		out.Status = trading.StatusNoResult
	}
	return out, nil
}

func (a *Analyst) analyzeTicker(ctx context.Context, base gateway.Request, ticker, startDate, endDate string) *trading.TickerReport {
	sel := a.sel.Select(ctx, base, a.Persona, ticker, "", "")

	results := a.sel.Execute(ctx, sel, ticker, selector.ExecContext{
		FinancialAPIKey: a.keys.FinancialData,
		NewsAPIKey:      a.keys.NewsData,
		StartDate:       startDate,
		EndDate:         endDate,
	})

	successful, failed := 0, 0
	for _, r := range results {
		if r.Error == "" {
			successful++
		} else {
			failed++
		}
	}

	syn := a.sel.Synthesize(ctx, base, results, sel, a.Persona, ticker)

	return &trading.TickerReport{
		Ticker:     ticker,
		Signal:     trading.ParseSignal(syn.Signal),
		Confidence: trading.ClampConfidence(syn.Confidence),
		Reasoning:  syn.Reasoning,
		ToolSelection: trading.ToolSelection{
			Strategy:      sel.AnalysisStrategy,
			SelectedTools: sel.Names(),
			Count:         sel.ToolCount,
		},
		ToolAnalysis: trading.ToolAnalysis{
			ToolResults: results,
			Successful:  successful,
			Failed:      failed,
			SynthesisDetails: trading.SynthesisDetails{
				Signal:             trading.ParseSignal(syn.Signal),
				Confidence:         trading.ClampConfidence(syn.Confidence),
				Reasoning:          syn.Reasoning,
				SynthesisMethod:    syn.SynthesisMethod,
				ToolImpactAnalysis: syn.ToolImpactAnalysis,
			},
		},
		Metadata: map[string]string{
			"analyst_type": a.Persona.ID,
			"end_date":     endDate,
			"analyzed_at":  time.Now().Format(time.RFC3339),
		},
	}
}

// notificationsFor returns the analyst's queued notifications, empty
// when the hub is disabled
func (a *Analyst) notificationsFor() []trading.Notification {
	if a.hub == nil {
		return nil
	}
	if in := a.hub.Inbox(a.AgentID()); in != nil {
		return in.Items()
	}
	return nil
}

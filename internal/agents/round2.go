package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// ErrInvalidRound1 reports a malformed round-1 payload; the caller is
// expected to re-run round 1 before retrying round 2
var ErrInvalidRound1 = fmt.Errorf("round-1 payload is not well-formed")

// ValidRound1 reports whether a round-1 output carries synthesis
// details and a tool selection for at least one ticker
func ValidRound1(out *trading.AgentOutput) bool {
	if out == nil || out.Status != trading.StatusOK {
		return false
	}
	for _, r := range out.Reports {
		if r == nil {
			continue
		}
		if r.ToolAnalysis.SynthesisDetails.Signal != "" && len(r.ToolSelection.SelectedTools) > 0 {
			return true
		}
	}
	return false
}

// RunRound2 revises this analyst's signals using every peer's round-1
// output and the notifications received so far. The returned payload
// is stored under the agent's _round2 key by the orchestrator.
func (a *Analyst) RunRound2(ctx context.Context, st *trading.DayState) (*trading.SecondRoundAnalysis, error) {
	own := st.Output(a.AgentID())
	if !ValidRound1(own) {
		return nil, fmt.Errorf("%w: agent %s", ErrInvalidRound1, a.AgentID())
	}

	base := ResolveRequest(st, a.AgentID(), a.defaults)
	base.Messages = []gateway.Message{
		{Role: "system", Content: a.round2SystemPrompt()},
		{Role: "user", Content: a.round2UserPrompt(st, own)},
	}

	analysis, err := gateway.CallStructured[trading.SecondRoundAnalysis](ctx, a.gw, base, gateway.StructuredOptions[trading.SecondRoundAnalysis]{})
	if err != nil {
		return nil, fmt.Errorf("round-2 analysis failed for %s: %w", a.AgentID(), err)
	}

	analysis.AnalystID = a.AgentID()
	analysis.AnalystName = a.Persona.Name
	if analysis.Timestamp.IsZero() {
		analysis.Timestamp = time.Now()
	}

	a.log.Info().
		Int("ticker_signals", len(analysis.TickerSignals)).
		Msg("Round-2 analysis complete")

	return &analysis, nil
}

func (a *Analyst) round2SystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(a.Persona.Name)
	b.WriteString(". ")
	b.WriteString(strings.TrimSpace(a.Persona.Description))
	b.WriteString("\n\nThis is the second analysis round. Review your first-round work against the other analysts' findings ")
	b.WriteString("and any team notifications, then restate or revise your signal for every ticker. Respond with JSON: ")
	b.WriteString(`{"analyst_id": "...", "analyst_name": "...", "ticker_signals": [{"ticker": "...", "signal": "bullish|bearish|neutral", "confidence": 0-100, "reasoning": "..."}]}`)
	b.WriteString("\nticker_signals must not be empty.")
	return b.String()
}

func (a *Analyst) round2UserPrompt(st *trading.DayState, own *trading.AgentOutput) string {
	var b strings.Builder

	ownRaw, _ := json.MarshalIndent(own.Reports, "", "  ")
	fmt.Fprintf(&b, "Your first-round analysis:\n%s\n", ownRaw)

	b.WriteString("\nPeer overview:\n")
	for agentID, out := range st.AnalystOutputs {
		if agentID == a.AgentID() || out == nil || out.Status != trading.StatusOK || out.Reports == nil {
			continue
		}
		for ticker, r := range out.Reports {
			fmt.Fprintf(&b, "- %s on %s: %s (confidence %.0f)\n", agentID, ticker, r.Signal, r.Confidence)
		}
	}

	if notifications := a.notificationsFor(); len(notifications) > 0 {
		b.WriteString("\nRecent team notifications:\n")
		for _, n := range notifications {
			fmt.Fprintf(&b, "- [%s] %s: %s\n", n.Urgency, n.SenderAgent, n.Content)
		}
	}

	return b.String()
}

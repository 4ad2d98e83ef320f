package notify

import (
	"context"
	"fmt"

	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// gateDecision is the structured response deciding whether a finding
// warrants a broadcast
type gateDecision struct {
	ShouldNotify bool   `json:"should_notify"`
	Urgency      string `json:"urgency"`
	Category     string `json:"category"`
	Content      string `json:"content"`
}

func (g *gateDecision) Validate() error {
	if !g.ShouldNotify {
		return nil
	}
	switch trading.Urgency(g.Urgency) {
	case trading.UrgencyLow, trading.UrgencyMedium, trading.UrgencyHigh, trading.UrgencyCritical:
	case "":
		g.Urgency = string(trading.UrgencyLow)
	default:
		return fmt.Errorf("unknown urgency %q", g.Urgency)
	}
	return nil
}

// MaybeBroadcast asks the model whether the agent's finding warrants
// notifying the team, and broadcasts when it does. Returns whether a
// notification fired. Gate failures are swallowed: no notification is
// ever required for the pipeline to proceed.
func (h *Hub) MaybeBroadcast(ctx context.Context, gw gateway.Caller, base gateway.Request, senderAgent, finding string) bool {
	base.Messages = []gateway.Message{
		{Role: "system", Content: "You decide whether an analyst finding is significant enough to broadcast to the whole trading team. " +
			"Only notify for findings that should change how other analysts look at the ticker today. Respond with JSON: " +
			`{"should_notify": bool, "urgency": "low|medium|high|critical", "category": "...", "content": "..."}`},
		{Role: "user", Content: fmt.Sprintf("Analyst: %s\nFinding:\n%s", senderAgent, finding)},
	}

	decision, err := gateway.CallStructured[gateDecision](ctx, gw, base, gateway.StructuredOptions[gateDecision]{
		MaxRetries: 1,
	})
	if err != nil || !decision.ShouldNotify {
		return false
	}

	content := decision.Content
	if content == "" {
		content = finding
	}
	_ = h.Broadcast(ctx, trading.Notification{
		SenderAgent: senderAgent,
		Content:     content,
		Urgency:     trading.Urgency(decision.Urgency),
		Category:    decision.Category,
	})
	return true
}

// Package trading holds the domain types shared across the analysis
// engine: signals, decisions, portfolio state and the per-day state.
package trading

import (
	"fmt"
	"time"

	"github.com/quantdesk/quantdesk/internal/tools"
)

// Signal is the analyst-layer direction encoding
type Signal string

const (
	SignalBullish Signal = "bullish"
	SignalBearish Signal = "bearish"
	SignalNeutral Signal = "neutral"
)

// Action is the portfolio-layer direction encoding. The only adapter
// between the two encodings lives in the portfolio manager's input
// collection and the reflection outcome heuristic.
type Action string

const (
	ActionLong  Action = "long"
	ActionShort Action = "short"
	ActionHold  Action = "hold"
)

// ParseSignal normalizes a stringly signal, defaulting to neutral
func ParseSignal(s string) Signal {
	switch Signal(s) {
	case SignalBullish, SignalBearish, SignalNeutral:
		return Signal(s)
	}
	return SignalNeutral
}

// ParseAction normalizes a stringly action, defaulting to hold
func ParseAction(s string) Action {
	switch Action(s) {
	case ActionLong, ActionShort, ActionHold:
		return Action(s)
	}
	return ActionHold
}

// ClampConfidence bounds a confidence value to [0,100]
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

// ToolSelection records which tools an analyst chose for a ticker
type ToolSelection struct {
	Strategy      string   `json:"strategy"`
	SelectedTools []string `json:"selected_tools"`
	Count         int      `json:"count"`
}

// SynthesisDetails is the synthesized view over one ticker's tools
type SynthesisDetails struct {
	Signal             Signal  `json:"signal"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning"`
	SynthesisMethod    string  `json:"synthesis_method"`
	ToolImpactAnalysis string  `json:"tool_impact_analysis,omitempty"`
}

// ToolAnalysis aggregates a ticker's tool executions
type ToolAnalysis struct {
	ToolResults      []tools.Result   `json:"tool_results"`
	Successful       int              `json:"successful"`
	Failed           int              `json:"failed"`
	SynthesisDetails SynthesisDetails `json:"synthesis_details"`
}

// TickerReport is one analyst's round-1 output for one ticker
type TickerReport struct {
	Ticker        string            `json:"ticker"`
	Signal        Signal            `json:"signal"`
	Confidence    float64           `json:"confidence"`
	Reasoning     string            `json:"reasoning"`
	ToolSelection ToolSelection     `json:"tool_selection"`
	ToolAnalysis  ToolAnalysis      `json:"tool_analysis"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// TickerSignal is one entry of a round-2 revision
type TickerSignal struct {
	Ticker     string  `json:"ticker"`
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// SecondRoundAnalysis is the canonical round-2 analyst payload
type SecondRoundAnalysis struct {
	AnalystID     string         `json:"analyst_id"`
	AnalystName   string         `json:"analyst_name"`
	TickerSignals []TickerSignal `json:"ticker_signals"`
	Timestamp     time.Time      `json:"timestamp"`
}

// IsEmpty implements the gateway empty-response guard: a round-2
// payload without ticker signals counts as a parse failure
func (s *SecondRoundAnalysis) IsEmpty() bool {
	return len(s.TickerSignals) == 0
}

// Validate normalizes and bounds the payload fields
func (s *SecondRoundAnalysis) Validate() error {
	for i := range s.TickerSignals {
		ts := &s.TickerSignals[i]
		if ts.Ticker == "" {
			return fmt.Errorf("ticker_signals[%d] missing ticker", i)
		}
		ts.Signal = ParseSignal(string(ts.Signal))
		ts.Confidence = ClampConfidence(ts.Confidence)
	}
	return nil
}

// VolatilityInfo describes the return-volatility window
type VolatilityInfo struct {
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	DailyVolatility      float64 `json:"daily_volatility"`
	VolatilityPercentile float64 `json:"volatility_percentile"`
	DataPoints           int     `json:"data_points"`
}

// RiskLevel buckets annualized volatility
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskVeryHigh RiskLevel = "very_high"
	RiskUnknown  RiskLevel = "unknown"
)

// RiskAssessment is one ticker's risk output. Basic mode fills the
// level/score fields; portfolio mode fills the position-limit fields.
type RiskAssessment struct {
	// basic mode
	RiskLevel      RiskLevel      `json:"risk_level,omitempty"`
	RiskScore      float64        `json:"risk_score,omitempty"`
	RiskAssessment string         `json:"risk_assessment,omitempty"`
	VolatilityInfo VolatilityInfo `json:"volatility_info"`

	// portfolio mode
	MaxShares              int     `json:"max_shares,omitempty"`
	RemainingPositionLimit float64 `json:"remaining_position_limit,omitempty"`
	Reasoning              string  `json:"reasoning,omitempty"`

	CurrentPrice float64 `json:"current_price"`
}

// Decision is the portfolio manager's per-ticker output. Quantity is 0
// in direction-only (signal) mode.
type Decision struct {
	Action     Action  `json:"action"`
	Quantity   int     `json:"quantity"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

// DecisionSet is the structured PM response
type DecisionSet struct {
	Decisions map[string]Decision `json:"decisions"` // ticker -> decision
}

// IsEmpty implements the gateway empty-response guard
func (d *DecisionSet) IsEmpty() bool { return len(d.Decisions) == 0 }

// Validate normalizes actions and bounds confidences and quantities
func (d *DecisionSet) Validate() error {
	for ticker, dec := range d.Decisions {
		dec.Action = ParseAction(string(dec.Action))
		dec.Confidence = ClampConfidence(dec.Confidence)
		if dec.Quantity < 0 {
			dec.Quantity = 0
		}
		d.Decisions[ticker] = dec
	}
	return nil
}

// HoldAll is the degraded-output factory: every ticker holds with zero
// confidence
func HoldAll(tickers []string) DecisionSet {
	out := DecisionSet{Decisions: make(map[string]Decision, len(tickers))}
	for _, t := range tickers {
		out.Decisions[t] = Decision{Action: ActionHold, Quantity: 0, Confidence: 0, Reasoning: "Decision synthesis failed; defaulting to hold"}
	}
	return out
}

// Urgency grades a notification
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Notification is a best-effort in-process broadcast between agents
type Notification struct {
	SenderAgent string    `json:"sender_agent"`
	Content     string    `json:"content"`
	Urgency     Urgency   `json:"urgency"`
	Category    string    `json:"category"`
	Timestamp   time.Time `json:"timestamp"`
}

// CommunicationType selects the dialog form
type CommunicationType string

const (
	CommPrivateChat CommunicationType = "private_chat"
	CommMeeting     CommunicationType = "meeting"
	CommNone        CommunicationType = "none"
)

// CommunicationDecision is the coordinator's structured gate
type CommunicationDecision struct {
	ShouldCommunicate bool              `json:"should_communicate"`
	CommunicationType CommunicationType `json:"communication_type"`
	TargetAnalysts    []string          `json:"target_analysts"`
	DiscussionTopic   string            `json:"discussion_topic"`
	Reasoning         string            `json:"reasoning"`
}

// Validate normalizes the communication type
func (c *CommunicationDecision) Validate() error {
	switch c.CommunicationType {
	case CommPrivateChat, CommMeeting, CommNone:
	case "":
		c.CommunicationType = CommNone
	default:
		return fmt.Errorf("unknown communication_type %q", c.CommunicationType)
	}
	return nil
}

// TranscriptEntry is one utterance in a chat or meeting
type TranscriptEntry struct {
	Speaker   string    `json:"speaker"`
	Content   string    `json:"content"`
	Round     int       `json:"round"`
	Timestamp time.Time `json:"timestamp"`
}

// SignalAdjustment records an analyst revising a signal mid-dialog
type SignalAdjustment struct {
	AnalystID  string  `json:"analyst_id"`
	Ticker     string  `json:"ticker"`
	Signal     Signal  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Transcript is one complete chat or meeting record
type Transcript struct {
	ID                string             `json:"id"`
	Type              CommunicationType  `json:"type"`
	Participants      []string           `json:"participants"`
	Topic             string             `json:"topic"`
	Entries           []TranscriptEntry  `json:"entries"`
	SignalAdjustments []SignalAdjustment `json:"signal_adjustments,omitempty"`
	StartedAt         time.Time          `json:"started_at"`
}

// CommLogs accumulates a day's communication activity
type CommLogs struct {
	PrivateChats           []Transcript            `json:"private_chats"`
	Meetings               []Transcript            `json:"meetings"`
	CommunicationDecisions []CommunicationDecision `json:"communication_decisions"`
}

// Package comms runs the post-analysis communication loop: deciding
// whether analysts should talk, hosting private chats and meetings,
// and surfacing revised signals back to the portfolio manager.
package comms

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/agents"
	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/memory"
	"github.com/quantdesk/quantdesk/internal/selector"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// Config bounds the communication loop
type Config struct {
	MaxCycles int // communication cycles per day; default 2
	MaxRounds int // dialog rounds per chat or meeting; default 1
	MaxChars  int // per-utterance character cap; default 400
}

func (c Config) withDefaults() Config {
	if c.MaxCycles <= 0 {
		c.MaxCycles = 2
	}
	if c.MaxRounds <= 0 {
		c.MaxRounds = 1
	}
	if c.MaxChars <= 0 {
		c.MaxChars = 400
	}
	return c
}

// DecideFunc re-invokes the portfolio manager after signal revisions
type DecideFunc func(ctx context.Context, st *trading.DayState) map[string]trading.Decision

// Coordinator hosts the communication loop
type Coordinator struct {
	gw       gateway.Caller
	mem      memory.Store
	personas map[string]selector.Persona // agent id -> persona
	cfg      Config
	defaults agents.ModelDefaults
	log      zerolog.Logger
}

// NewCoordinator creates the coordinator. personas maps agent ids to
// the personas available as chat or meeting targets.
func NewCoordinator(gw gateway.Caller, mem memory.Store, personas map[string]selector.Persona, cfg Config, defaults agents.ModelDefaults) *Coordinator {
	return &Coordinator{
		gw:       gw,
		mem:      mem,
		personas: personas,
		cfg:      cfg.withDefaults(),
		defaults: defaults,
		log:      config.NewLogger("comm_coordinator"),
	}
}

// Run executes up to MaxCycles communication cycles over the current
// decisions. When a cycle produces signal adjustments the portfolio
// manager is re-invoked through decide and the loop continues;
// otherwise it exits early. Returns the final decisions.
func (c *Coordinator) Run(ctx context.Context, st *trading.DayState, decisions map[string]trading.Decision, decide DecideFunc) map[string]trading.Decision {
	for cycle := 0; cycle < c.cfg.MaxCycles; cycle++ {
		commDecision := c.decideCommunication(ctx, st, decisions)
		st.CommLogs.CommunicationDecisions = append(st.CommLogs.CommunicationDecisions, commDecision)

		if !commDecision.ShouldCommunicate || commDecision.CommunicationType == trading.CommNone {
			c.log.Info().Int("cycle", cycle).Msg("No communication needed")
			break
		}

		adjusted := 0
		switch commDecision.CommunicationType {
		case trading.CommPrivateChat:
			for _, target := range commDecision.TargetAnalysts {
				transcript := c.privateChat(ctx, st, target, commDecision.DiscussionTopic)
				if transcript == nil {
					continue
				}
				st.CommLogs.PrivateChats = append(st.CommLogs.PrivateChats, *transcript)
				adjusted += len(transcript.SignalAdjustments)
			}
		case trading.CommMeeting:
			transcript := c.meeting(ctx, st, commDecision.TargetAnalysts, commDecision.DiscussionTopic)
			if transcript != nil {
				st.CommLogs.Meetings = append(st.CommLogs.Meetings, *transcript)
				adjusted += len(transcript.SignalAdjustments)
			}
		}

		if adjusted == 0 {
			c.log.Info().Int("cycle", cycle).Msg("Cycle produced no signal adjustments")
			break
		}

		c.log.Info().
			Int("cycle", cycle).
			Int("adjustments", adjusted).
			Msg("Signals revised; re-invoking portfolio manager")
		decisions = decide(ctx, st)
	}
	return decisions
}

// decideCommunication asks the model whether any dialog is warranted
func (c *Coordinator) decideCommunication(ctx context.Context, st *trading.DayState, decisions map[string]trading.Decision) trading.CommunicationDecision {
	signals, _ := json.MarshalIndent(c.signalOverview(st), "", "  ")
	decs, _ := json.MarshalIndent(decisions, "", "  ")

	base := agents.ResolveRequest(st, trading.AgentPortfolioManager, c.defaults)
	base.Messages = []gateway.Message{
		{Role: "system", Content: "You coordinate a trading desk's post-analysis discussion. Decide whether the current " +
			"signals and decisions warrant a private chat or a team meeting before trades go out. Only communicate when " +
			"analysts disagree materially or a decision contradicts its strongest signal. Available analysts: " +
			strings.Join(c.analystIDs(), ", ") + ". Respond with JSON: " +
			`{"should_communicate": bool, "communication_type": "private_chat|meeting|none", "target_analysts": ["..."], "discussion_topic": "...", "reasoning": "..."}`},
		{Role: "user", Content: fmt.Sprintf("Signals:\n%s\n\nCurrent decisions:\n%s", signals, decs)},
	}

	decision, err := gateway.CallStructured[trading.CommunicationDecision](ctx, c.gw, base, gateway.StructuredOptions[trading.CommunicationDecision]{
		DefaultFactory: func() trading.CommunicationDecision {
			return trading.CommunicationDecision{ShouldCommunicate: false, CommunicationType: trading.CommNone, Reasoning: "communication decision failed"}
		},
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("Communication decision degraded to none")
	}

	// unknown targets are dropped
	var valid []string
	for _, target := range decision.TargetAnalysts {
		if _, ok := c.personas[target]; ok {
			valid = append(valid, target)
		}
	}
	decision.TargetAnalysts = valid
	if decision.ShouldCommunicate && len(valid) == 0 {
		decision.ShouldCommunicate = false
		decision.CommunicationType = trading.CommNone
	}
	return decision
}

// privateChat runs a bounded PM-analyst dialog and persists the
// transcript to both participants' memories
func (c *Coordinator) privateChat(ctx context.Context, st *trading.DayState, analystID, topic string) *trading.Transcript {
	persona, ok := c.personas[analystID]
	if !ok {
		return nil
	}

	transcript := &trading.Transcript{
		ID:           uuid.NewString(),
		Type:         trading.CommPrivateChat,
		Participants: []string{trading.AgentPortfolioManager, analystID},
		Topic:        topic,
		StartedAt:    time.Now(),
	}

	for round := 1; round <= c.cfg.MaxRounds; round++ {
		question := c.pmTurn(ctx, st, analystID, topic, transcript)
		c.appendEntry(transcript, trading.AgentPortfolioManager, question, round)

		turn := c.analystTurn(ctx, st, persona, topic, transcript)
		c.appendEntry(transcript, analystID, turn.Response, round)

		if turn.SignalAdjustment && turn.AdjustedSignal != nil {
			c.applyAdjustment(st, analystID, *turn.AdjustedSignal, transcript)
		}
	}

	c.persistTranscript(ctx, transcript)
	return transcript
}

// meeting runs a round robin of statements from each target analyst
// plus a closing PM summary, persisted to all participants' memories
func (c *Coordinator) meeting(ctx context.Context, st *trading.DayState, targets []string, topic string) *trading.Transcript {
	if len(targets) == 0 {
		return nil
	}

	transcript := &trading.Transcript{
		ID:           uuid.NewString(),
		Type:         trading.CommMeeting,
		Participants: append([]string{trading.AgentPortfolioManager}, targets...),
		Topic:        topic,
		StartedAt:    time.Now(),
	}

	for round := 1; round <= c.cfg.MaxRounds; round++ {
		for _, analystID := range targets {
			persona, ok := c.personas[analystID]
			if !ok {
				continue
			}
			turn := c.analystTurn(ctx, st, persona, topic, transcript)
			c.appendEntry(transcript, analystID, turn.Response, round)
			if turn.SignalAdjustment && turn.AdjustedSignal != nil {
				c.applyAdjustment(st, analystID, *turn.AdjustedSignal, transcript)
			}
		}
	}

	summary := c.pmSummary(ctx, st, topic, transcript)
	c.appendEntry(transcript, trading.AgentPortfolioManager, summary, c.cfg.MaxRounds)

	c.persistTranscript(ctx, transcript)
	return transcript
}

// analystTurn is one analyst utterance: memories are recalled with an
// LLM-generated query, then the analyst answers with an optional
// signal adjustment
func (c *Coordinator) analystTurn(ctx context.Context, st *trading.DayState, persona selector.Persona, topic string, transcript *trading.Transcript) turnResponse {
	base := agents.ResolveRequest(st, persona.AgentID(), c.defaults)

	memories := c.recallForTurn(ctx, base, persona, topic)

	var b strings.Builder
	fmt.Fprintf(&b, "Discussion topic: %s\n", topic)
	if len(memories) > 0 {
		b.WriteString("\nYour relevant memories:\n")
		for _, r := range memories {
			fmt.Fprintf(&b, "- %s\n", r.Content)
		}
	}
	b.WriteString("\nConversation so far:\n")
	b.WriteString(renderTranscript(transcript))

	base.Messages = []gateway.Message{
		{Role: "system", Content: fmt.Sprintf("You are %s in a trading desk discussion. %s\nAnswer in at most %d characters. "+
			"You may revise one of your signals if the discussion changes your view. Respond with JSON: "+
			`{"response": "...", "signal_adjustment": bool, "adjusted_signal": {"ticker": "...", "signal": "bullish|bearish|neutral", "confidence": 0-100, "reason": "..."}}`,
			persona.Name, strings.TrimSpace(persona.Description), c.cfg.MaxChars)},
		{Role: "user", Content: b.String()},
	}

	turn, err := gateway.CallStructured[turnResponse](ctx, c.gw, base, gateway.StructuredOptions[turnResponse]{
		DefaultFactory: func() turnResponse {
			return turnResponse{Response: "(no response)"}
		},
	})
	if err != nil {
		c.log.Warn().Err(err).Str("agent_id", persona.AgentID()).Msg("Analyst turn degraded")
	}
	turn.Response = truncate(turn.Response, c.cfg.MaxChars)
	return turn
}

// recallForTurn generates a memory query with a first-stage prompt,
// then searches the analyst's memories with it
func (c *Coordinator) recallForTurn(ctx context.Context, base gateway.Request, persona selector.Persona, topic string) []memory.Record {
	if c.mem == nil {
		return nil
	}

	base.Messages = []gateway.Message{
		{Role: "system", Content: "Produce a short search query (under 12 words) that would retrieve this analyst's most relevant " +
			`past experiences for the discussion topic. Respond with JSON: {"query": "..."}`},
		{Role: "user", Content: fmt.Sprintf("Analyst: %s\nTopic: %s", persona.Name, topic)},
	}
	q, err := gateway.CallStructured[memoryQuery](ctx, c.gw, base, gateway.StructuredOptions[memoryQuery]{MaxRetries: 1})
	if err != nil || q.Query == "" {
		q.Query = topic
	}

	records, err := c.mem.Search(ctx, q.Query, persona.AgentID(), 3)
	if err != nil {
		c.log.Warn().Err(err).Str("agent_id", persona.AgentID()).Msg("Turn memory recall failed")
		return nil
	}
	return records
}

// pmTurn asks the PM's question opening (or continuing) a chat
func (c *Coordinator) pmTurn(ctx context.Context, st *trading.DayState, analystID, topic string, transcript *trading.Transcript) string {
	base := agents.ResolveRequest(st, trading.AgentPortfolioManager, c.defaults)
	base.Messages = []gateway.Message{
		{Role: "system", Content: fmt.Sprintf("You are the portfolio manager. Ask %s one focused question about the topic. At most %d characters.", analystID, c.cfg.MaxChars)},
		{Role: "user", Content: fmt.Sprintf("Topic: %s\n\nConversation so far:\n%s", topic, renderTranscript(transcript))},
	}

	comp, err := c.gw.Call(ctx, base)
	if err != nil {
		c.log.Warn().Err(err).Msg("PM chat turn failed")
		return fmt.Sprintf("What is your current conviction on: %s?", topic)
	}
	return truncate(strings.TrimSpace(comp.Content), c.cfg.MaxChars)
}

// pmSummary closes a meeting with the PM's synthesis
func (c *Coordinator) pmSummary(ctx context.Context, st *trading.DayState, topic string, transcript *trading.Transcript) string {
	base := agents.ResolveRequest(st, trading.AgentPortfolioManager, c.defaults)
	base.Messages = []gateway.Message{
		{Role: "system", Content: fmt.Sprintf("You are the portfolio manager closing a team meeting. Summarize the conclusions in at most %d characters.", c.cfg.MaxChars)},
		{Role: "user", Content: fmt.Sprintf("Topic: %s\n\nMeeting transcript:\n%s", topic, renderTranscript(transcript))},
	}

	comp, err := c.gw.Call(ctx, base)
	if err != nil {
		c.log.Warn().Err(err).Msg("PM meeting summary failed")
		return "Meeting closed without a summary."
	}
	return truncate(strings.TrimSpace(comp.Content), c.cfg.MaxChars)
}

// applyAdjustment replaces the analyst's signal in the shared state:
// the round-2 entry when present, the round-1 report otherwise
func (c *Coordinator) applyAdjustment(st *trading.DayState, analystID string, adj adjustedSignal, transcript *trading.Transcript) {
	signal := trading.ParseSignal(adj.Signal)
	confidence := trading.ClampConfidence(adj.Confidence)

	applied := false
	if r2 := st.Output(trading.Round2Key(analystID)); r2 != nil && r2.Round2 != nil {
		for i := range r2.Round2.TickerSignals {
			if r2.Round2.TickerSignals[i].Ticker == adj.Ticker {
				r2.Round2.TickerSignals[i].Signal = signal
				r2.Round2.TickerSignals[i].Confidence = confidence
				r2.Round2.TickerSignals[i].Reasoning = adj.Reason
				applied = true
			}
		}
	}
	if !applied {
		if r1 := st.Output(analystID); r1 != nil && r1.Reports != nil {
			if report, ok := r1.Reports[adj.Ticker]; ok && report != nil {
				report.Signal = signal
				report.Confidence = confidence
				report.Reasoning = adj.Reason
				applied = true
			}
		}
	}
	if !applied {
		c.log.Warn().
			Str("agent_id", analystID).
			Str("ticker", adj.Ticker).
			Msg("Signal adjustment targets an unknown ticker; ignored")
		return
	}

	transcript.SignalAdjustments = append(transcript.SignalAdjustments, trading.SignalAdjustment{
		AnalystID:  analystID,
		Ticker:     adj.Ticker,
		Signal:     signal,
		Confidence: confidence,
		Reason:     adj.Reason,
	})
	c.log.Info().
		Str("agent_id", analystID).
		Str("ticker", adj.Ticker).
		Str("signal", string(signal)).
		Msg("Signal adjusted in discussion")
}

// persistTranscript writes the concatenated transcript to every
// participant's memory
func (c *Coordinator) persistTranscript(ctx context.Context, transcript *trading.Transcript) {
	if c.mem == nil {
		return
	}
	content := fmt.Sprintf("%s about %q:\n%s", transcriptKind(transcript.Type), transcript.Topic, renderTranscript(transcript))
	meta := map[string]string{
		"kind":  string(transcript.Type),
		"topic": transcript.Topic,
	}
	for _, participant := range transcript.Participants {
		if _, err := c.mem.Add(ctx, content, participant, meta); err != nil {
			c.log.Warn().Err(err).Str("agent_id", participant).Msg("Failed to persist transcript")
		}
	}
}

func (c *Coordinator) appendEntry(transcript *trading.Transcript, speaker, content string, round int) {
	transcript.Entries = append(transcript.Entries, trading.TranscriptEntry{
		Speaker:   speaker,
		Content:   content,
		Round:     round,
		Timestamp: time.Now(),
	})
}

func (c *Coordinator) signalOverview(st *trading.DayState) map[string]map[string]string {
	out := make(map[string]map[string]string)
	for agentID, ao := range st.AnalystOutputs {
		if ao == nil {
			continue
		}
		view := make(map[string]string)
		for ticker, r := range ao.Reports {
			if r != nil {
				view[ticker] = fmt.Sprintf("%s@%.0f", r.Signal, r.Confidence)
			}
		}
		if ao.Round2 != nil {
			for _, ts := range ao.Round2.TickerSignals {
				view[ts.Ticker] = fmt.Sprintf("%s@%.0f", ts.Signal, ts.Confidence)
			}
		}
		if len(view) > 0 {
			out[agentID] = view
		}
	}
	return out
}

func (c *Coordinator) analystIDs() []string {
	out := make([]string, 0, len(c.personas))
	for id := range c.personas {
		out = append(out, id)
	}
	return out
}

type memoryQuery struct {
	Query string `json:"query"`
}

type adjustedSignal struct {
	Ticker     string  `json:"ticker"`
	Signal     string  `json:"signal"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

type turnResponse struct {
	Response         string          `json:"response"`
	SignalAdjustment bool            `json:"signal_adjustment"`
	AdjustedSignal   *adjustedSignal `json:"adjusted_signal,omitempty"`
}

// Validate keeps adjustment payloads coherent
func (t *turnResponse) Validate() error {
	if t.SignalAdjustment && (t.AdjustedSignal == nil || t.AdjustedSignal.Ticker == "") {
		return fmt.Errorf("signal_adjustment set without an adjusted_signal")
	}
	return nil
}

func renderTranscript(transcript *trading.Transcript) string {
	if len(transcript.Entries) == 0 {
		return "(no statements yet)"
	}
	var b strings.Builder
	for _, e := range transcript.Entries {
		fmt.Fprintf(&b, "%s: %s\n", e.Speaker, e.Content)
	}
	return b.String()
}

func transcriptKind(t trading.CommunicationType) string {
	if t == trading.CommMeeting {
		return "Team meeting"
	}
	return "Private chat"
}

// truncate caps a statement at maxChars characters, never splitting a
// multi-byte rune
func truncate(s string, maxChars int) string {
	if maxChars <= 0 || len(s) <= maxChars {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}

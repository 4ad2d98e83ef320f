// Package reflection turns a completed trading day into memories:
// decision outcome records for the portfolio manager and lessons for
// each analyst.
package reflection

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/agents"
	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/marketdata"
	"github.com/quantdesk/quantdesk/internal/memory"
	"github.com/quantdesk/quantdesk/internal/persist"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// Review modes
const (
	ModeIndividual = "individual_review"
	ModeCentral    = "central_review"
)

// correctnessBand is the flat-return band: moves inside it count as
// neutral, outside as directional
const correctnessBand = 0.005

// Outcome labels
const (
	OutcomeCorrect   = "correct"
	OutcomeIncorrect = "incorrect"
)

// ErrOwnership is returned when a memory write targets another
// agent's memory during individual review
var ErrOwnership = fmt.Errorf("memory write refused: agent does not own the target memory")

// DecisionRecord is the per-ticker outcome stored in the portfolio
// manager's memory after every day
type DecisionRecord struct {
	Date            string         `json:"date"`
	Ticker          string         `json:"ticker"`
	Action          trading.Action `json:"action"`
	Quantity        int            `json:"quantity"`
	Confidence      float64        `json:"confidence"`
	PMReasoning     string         `json:"pm_reasoning"`
	AnalystOpinions []string       `json:"analyst_opinions"`
	ActualReturn    float64        `json:"actual_return"`
	Outcome         string         `json:"outcome"`
}

// Reviewer runs the post-day reflection
type Reviewer struct {
	gw       gateway.Caller
	mem      memory.Store
	journal  *persist.Store // nil disables the memory op journal
	data     marketdata.Provider
	calendar marketdata.Calendar
	defaults agents.ModelDefaults
	mode     string
	log      zerolog.Logger
}

// NewReviewer creates the reviewer. mode is ModeIndividual or
// ModeCentral.
func NewReviewer(gw gateway.Caller, mem memory.Store, journal *persist.Store, data marketdata.Provider, cal marketdata.Calendar, defaults agents.ModelDefaults, mode string) *Reviewer {
	if mode == "" {
		mode = ModeIndividual
	}
	return &Reviewer{
		gw:       gw,
		mem:      mem,
		journal:  journal,
		data:     data,
		calendar: cal,
		defaults: defaults,
		mode:     mode,
		log:      config.NewLogger("reflection"),
	}
}

// ComputeReturns measures each ticker's move from the decision price
// to the first close after the analysis day. Tickers without data are
// omitted.
func (r *Reviewer) ComputeReturns(ctx context.Context, st *trading.DayState) map[string]float64 {
	out := make(map[string]float64)

	analysisDate, err := marketdata.ParseDate(st.TradingDate)
	if err != nil {
		r.log.Warn().Err(err).Str("date", st.TradingDate).Msg("Cannot compute returns")
		return out
	}
	windowEnd := analysisDate.AddDate(0, 0, 7).Format(marketdata.DateLayout)

	for _, ticker := range st.Tickers {
		base, ok := st.CurrentPrices[ticker]
		if !ok || base <= 0 {
			continue
		}
		bars, err := r.data.Prices(ctx, ticker, analysisDate.AddDate(0, 0, 1).Format(marketdata.DateLayout), windowEnd)
		if err != nil || len(bars) == 0 {
			r.log.Warn().Err(err).Str("ticker", ticker).Msg("No post-decision prices; return unknown")
			continue
		}
		out[ticker] = (bars[0].Close - base) / base
	}
	return out
}

// OutcomeFor applies the flat-band heuristic: a bullish stance is
// correct above the band, a bearish one below it, and a neutral one
// inside it
func OutcomeFor(direction string, actualReturn float64) string {
	correct := false
	switch direction {
	case string(trading.SignalBullish), string(trading.ActionLong):
		correct = actualReturn > correctnessBand
	case string(trading.SignalBearish), string(trading.ActionShort):
		correct = actualReturn < -correctnessBand
	default:
		correct = actualReturn >= -correctnessBand && actualReturn <= correctnessBand
	}
	if correct {
		return OutcomeCorrect
	}
	return OutcomeIncorrect
}

// Run records decision outcomes for the portfolio manager, then
// reflects per analyst according to the review mode. Failures are
// logged per agent and never abort the remaining reflections.
func (r *Reviewer) Run(ctx context.Context, st *trading.DayState, returns map[string]float64) {
	r.recordDecisionOutcomes(ctx, st, returns)

	switch r.mode {
	case ModeCentral:
		r.centralReview(ctx, st, returns)
	default:
		r.individualReview(ctx, st, returns)
	}
}

// recordDecisionOutcomes writes one DecisionRecord per decided ticker
// into the portfolio manager's memory
func (r *Reviewer) recordDecisionOutcomes(ctx context.Context, st *trading.DayState, returns map[string]float64) {
	for _, ticker := range st.Tickers {
		dec, ok := st.Decisions[ticker]
		if !ok {
			continue
		}
		ret, ok := returns[ticker]
		if !ok {
			continue
		}

		rec := DecisionRecord{
			Date:            st.TradingDate,
			Ticker:          ticker,
			Action:          dec.Action,
			Quantity:        dec.Quantity,
			Confidence:      dec.Confidence,
			PMReasoning:     dec.Reasoning,
			AnalystOpinions: analystOpinions(st, ticker),
			ActualReturn:    ret,
			Outcome:         OutcomeFor(string(dec.Action), ret),
		}
		raw, _ := json.Marshal(rec)

		if err := r.writeMemory(ctx, trading.AgentPortfolioManager, trading.AgentPortfolioManager, string(raw), map[string]string{
			"kind":    "decision_outcome",
			"ticker":  ticker,
			"date":    st.TradingDate,
			"outcome": rec.Outcome,
		}); err != nil {
			r.log.Warn().Err(err).Str("ticker", ticker).Msg("Failed to record decision outcome")
		}
	}
}

// Memory operations a reflection may decide on
const (
	OpDoNothing    = "do_nothing"
	OpAdd          = "add"
	OpSearchUpdate = "search_and_update"
	OpSearchDelete = "search_and_delete"
)

// memOpDecision is the structured outcome of one agent's reflection:
// store a new lesson, revise or retire an earlier memory, or leave the
// memory untouched. analyst_id names whose memory the operation
// targets.
type memOpDecision struct {
	Operation string `json:"operation"`
	AnalystID string `json:"analyst_id"`
	Query     string `json:"query,omitempty"`
	Content   string `json:"content,omitempty"`
}

// Validate normalizes the operation and checks its required fields
func (d *memOpDecision) Validate() error {
	switch d.Operation {
	case "":
		d.Operation = OpDoNothing
	case OpDoNothing, OpAdd, OpSearchUpdate, OpSearchDelete:
	default:
		return fmt.Errorf("unknown memory operation %q", d.Operation)
	}
	switch d.Operation {
	case OpAdd:
		if strings.TrimSpace(d.Content) == "" {
			return fmt.Errorf("add requires content")
		}
	case OpSearchUpdate:
		if d.Query == "" || strings.TrimSpace(d.Content) == "" {
			return fmt.Errorf("search_and_update requires query and content")
		}
	case OpSearchDelete:
		if d.Query == "" {
			return fmt.Errorf("search_and_delete requires a query")
		}
	}
	return nil
}

// individualReview has each analyst reflect on its own signals and
// apply the resulting memory operation to its own memory only
func (r *Reviewer) individualReview(ctx context.Context, st *trading.DayState, returns map[string]float64) {
	for _, agentID := range analystAgents(st) {
		dec, err := r.reflectAnalyst(ctx, st, agentID, returns)
		if err != nil {
			r.log.Warn().Err(err).Str("agent_id", agentID).Msg("Analyst reflection failed")
			continue
		}
		if err := r.applyMemoryOp(ctx, agentID, dec, map[string]string{
			"kind": "reflection",
			"date": st.TradingDate,
		}); err != nil {
			r.log.Warn().Err(err).Str("agent_id", agentID).Msg("Reflection memory operation failed")
		}
	}
}

// reflectAnalyst asks the model for one memory operation grounded in
// this agent's own signals and the realized returns
func (r *Reviewer) reflectAnalyst(ctx context.Context, st *trading.DayState, agentID string, returns map[string]float64) (memOpDecision, error) {
	own := st.Output(agentID)
	if own == nil || len(own.Reports) == 0 {
		return memOpDecision{}, fmt.Errorf("agent %s has no round-1 output to reflect on", agentID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Your agent id: %s\nTrading date: %s\nYour signals and what actually happened:\n", agentID, st.TradingDate)
	for _, ticker := range st.Tickers {
		report := own.Reports[ticker]
		if report == nil {
			continue
		}
		ret, ok := returns[ticker]
		if !ok {
			fmt.Fprintf(&b, "- %s: %s (%.0f%%), outcome unknown\n", ticker, report.Signal, report.Confidence)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s (%.0f%%), actual return %+.2f%%, %s\n",
			ticker, report.Signal, report.Confidence, ret*100, OutcomeFor(string(report.Signal), ret))
	}

	base := agents.ResolveRequest(st, agentID, r.defaults)
	base.Messages = []gateway.Message{
		{Role: "system", Content: "Reflect on your own analysis from this trading day and decide one memory operation: " +
			"store a concrete lesson you will apply next time, revise one of your earlier memories that today " +
			"contradicted, retire one that misled you, or do nothing. You may only touch your own memory. " +
			"Respond with JSON: " +
			`{"operation": "do_nothing|add|search_and_update|search_and_delete", "analyst_id": "<your agent id>", ` +
			`"query": "<search text locating the memory, for update/delete>", "content": "<lesson or replacement text>"}`},
		{Role: "user", Content: b.String()},
	}

	dec, err := gateway.CallStructured[memOpDecision](ctx, r.gw, base, gateway.StructuredOptions[memOpDecision]{})
	if err != nil {
		return memOpDecision{}, fmt.Errorf("reflection call failed for %s: %w", agentID, err)
	}
	return dec, nil
}

// applyMemoryOp executes one reflection decision against the memory
// store. In individual review the decision must target the reflecting
// agent's own memory; mismatches are refused and journaled without
// effect. The central reviewer acts for the whole desk and is exempt.
func (r *Reviewer) applyMemoryOp(ctx context.Context, ownerID string, dec memOpDecision, meta map[string]string) error {
	targetID := dec.AnalystID
	if targetID == "" {
		targetID = ownerID
	}
	if r.mode == ModeIndividual && targetID != ownerID {
		r.log.Warn().
			Str("agent_id", ownerID).
			Str("target", targetID).
			Str("operation", dec.Operation).
			Msg("Cross-agent memory operation refused")
		r.journalOp(targetID, "refused_"+dec.Operation, dec.Query, "")
		return fmt.Errorf("%w: %s targeting %s", ErrOwnership, ownerID, targetID)
	}

	switch dec.Operation {
	case OpDoNothing:
		return nil
	case OpAdd:
		return r.writeMemory(ctx, ownerID, targetID, dec.Content, meta)
	}

	if r.mem == nil {
		return nil
	}
	recs, err := r.mem.Search(ctx, dec.Query, targetID, 1)
	if err != nil {
		return fmt.Errorf("memory search failed: %w", err)
	}
	if len(recs) == 0 {
		r.log.Warn().Str("agent_id", targetID).Str("query", dec.Query).Msg("Memory operation matched no record")
		return nil
	}

	switch dec.Operation {
	case OpSearchUpdate:
		if err := r.mem.Update(ctx, recs[0].ID, dec.Content, recs[0].Metadata); err != nil {
			return fmt.Errorf("memory update failed: %w", err)
		}
		r.journalOp(targetID, "update", dec.Query, dec.Content)
	case OpSearchDelete:
		if err := r.mem.Delete(ctx, recs[0].ID); err != nil {
			return fmt.Errorf("memory delete failed: %w", err)
		}
		r.journalOp(targetID, "delete", dec.Query, recs[0].Content)
	}
	return nil
}

// centralReviewResponse carries the central reviewer's memory
// operations, potentially over other agents' memories
type centralReviewResponse struct {
	Operations []memOpDecision `json:"operations"`
}

// IsEmpty implements the structured-output empty guard
func (c *centralReviewResponse) IsEmpty() bool { return len(c.Operations) == 0 }

// Validate checks each operation
func (c *centralReviewResponse) Validate() error {
	for i := range c.Operations {
		if err := c.Operations[i].Validate(); err != nil {
			return fmt.Errorf("operations[%d]: %v", i, err)
		}
	}
	return nil
}

// centralReview has one reviewer decide memory operations for every
// analyst from the global picture
func (r *Reviewer) centralReview(ctx context.Context, st *trading.DayState, returns map[string]float64) {
	agentIDs := analystAgents(st)
	if len(agentIDs) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Trading date: %s\nRealized returns: %v\n\nAnalyst signals:\n", st.TradingDate, returns)
	for _, agentID := range agentIDs {
		for _, ticker := range st.Tickers {
			if report := st.Output(agentID).Reports[ticker]; report != nil {
				ret := returns[ticker]
				fmt.Fprintf(&b, "- %s on %s: %s (%.0f%%), return %+.2f%%, %s\n",
					agentID, ticker, report.Signal, report.Confidence, ret*100, OutcomeFor(string(report.Signal), ret))
			}
		}
	}

	base := agents.ResolveRequest(st, trading.AgentPortfolioManager, r.defaults)
	base.Messages = []gateway.Message{
		{Role: "system", Content: "You are the desk's central reviewer. Decide one or more memory operations for " +
			"the analysts: lessons to store (addressed to them in second person), stale memories to revise, or " +
			"misleading ones to retire. Respond with JSON: " +
			`{"operations": [{"operation": "add|search_and_update|search_and_delete", "analyst_id": "...", ` +
			`"query": "...", "content": "..."}]}`},
		{Role: "user", Content: b.String()},
	}

	resp, err := gateway.CallStructured[centralReviewResponse](ctx, r.gw, base, gateway.StructuredOptions[centralReviewResponse]{})
	if err != nil {
		r.log.Warn().Err(err).Msg("Central review failed")
		return
	}

	known := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		known[id] = true
	}
	for _, op := range resp.Operations {
		if !known[op.AnalystID] {
			r.log.Warn().Str("agent_id", op.AnalystID).Msg("Central review operation for unknown agent dropped")
			continue
		}
		if err := r.applyMemoryOp(ctx, trading.AgentPortfolioManager, op, map[string]string{
			"kind":   "reflection",
			"date":   st.TradingDate,
			"source": "central_review",
		}); err != nil {
			r.log.Warn().Err(err).Str("agent_id", op.AnalystID).Msg("Failed to apply central review operation")
		}
	}
}

// writeMemory stores content in targetID's memory and journals the
// operation. In individual review an agent may only write its own
// memory; the central reviewer is exempt because it acts for the
// whole desk.
func (r *Reviewer) writeMemory(ctx context.Context, ownerID, targetID, content string, meta map[string]string) error {
	if r.mode == ModeIndividual && ownerID != targetID {
		return fmt.Errorf("%w: %s writing to %s", ErrOwnership, ownerID, targetID)
	}
	if r.mem == nil {
		return nil
	}
	if _, err := r.mem.Add(ctx, content, targetID, meta); err != nil {
		return err
	}
	if r.journal != nil {
		if err := r.journal.AppendMemoryOp(persist.MemoryOp{
			Timestamp:     time.Now(),
			AgentID:       targetID,
			OperationType: "add",
			Context:       meta["kind"],
			Result:        content,
		}); err != nil {
			r.log.Warn().Err(err).Msg("Failed to journal memory op")
		}
	}
	return nil
}

// journalOp appends one non-add memory operation to the day's journal
func (r *Reviewer) journalOp(agentID, opType, query, result string) {
	if r.journal == nil {
		return
	}
	var args map[string]any
	if query != "" {
		args = map[string]any{"query": query}
	}
	if err := r.journal.AppendMemoryOp(persist.MemoryOp{
		Timestamp:     time.Now(),
		AgentID:       agentID,
		OperationType: opType,
		Args:          args,
		Result:        result,
		Context:       "reflection",
	}); err != nil {
		r.log.Warn().Err(err).Msg("Failed to journal memory op")
	}
}

// analystAgents lists the agents with round-1 reports, sorted for
// deterministic iteration
func analystAgents(st *trading.DayState) []string {
	var out []string
	for agentID, ao := range st.AnalystOutputs {
		if agentID == trading.AgentRiskManager || strings.HasSuffix(agentID, "_round2") {
			continue
		}
		if ao != nil && len(ao.Reports) > 0 {
			out = append(out, agentID)
		}
	}
	sort.Strings(out)
	return out
}

// analystOpinions renders the per-ticker signal roll-up stored with a
// decision record
func analystOpinions(st *trading.DayState, ticker string) []string {
	var out []string
	for _, agentID := range analystAgents(st) {
		report := st.Output(agentID).Reports[ticker]
		if report == nil {
			continue
		}
		signal, confidence := report.Signal, report.Confidence
		if r2 := st.Output(trading.Round2Key(agentID)); r2 != nil && r2.Round2 != nil {
			for _, ts := range r2.Round2.TickerSignals {
				if ts.Ticker == ticker {
					signal, confidence = ts.Signal, ts.Confidence
				}
			}
		}
		out = append(out, fmt.Sprintf("%s: %s (%.0f%%)", agentID, signal, confidence))
	}
	return out
}

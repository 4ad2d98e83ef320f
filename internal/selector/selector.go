package selector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/tools"
)

// SelectedTool is one tool choice with the model's rationale
type SelectedTool struct {
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
}

// Selection is the structured tool-selection response
type Selection struct {
	SelectedTools     []SelectedTool `json:"selected_tools"`
	AnalysisStrategy  string         `json:"analysis_strategy"`
	SynthesisApproach string         `json:"synthesis_approach"`
	ToolCount         int            `json:"tool_count"`
}

// Names returns the selected tool names in order
func (s Selection) Names() []string {
	out := make([]string, len(s.SelectedTools))
	for i, t := range s.SelectedTools {
		out[i] = t.ToolName
	}
	return out
}

// Synthesis is the structured synthesis response over tool results
type Synthesis struct {
	Signal             string  `json:"signal"`
	Confidence         float64 `json:"confidence"`
	Reasoning          string  `json:"reasoning"`
	ToolImpactAnalysis string  `json:"tool_impact_analysis"`
	SynthesisMethod    string  `json:"synthesis_method"`
}

// Validate normalizes the signal and clamps confidence to [0,100]
func (s *Synthesis) Validate() error {
	switch s.Signal {
	case tools.SignalBullish, tools.SignalBearish, tools.SignalNeutral:
	case "":
		return fmt.Errorf("synthesis missing signal")
	default:
		s.Signal = tools.SignalNeutral
	}
	if s.Confidence < 0 {
		s.Confidence = 0
	}
	if s.Confidence > 100 {
		s.Confidence = 100
	}
	return nil
}

// ExecContext carries the per-invocation parameters tool execution
// resolves against
type ExecContext struct {
	FinancialAPIKey string
	NewsAPIKey      string
	StartDate       string
	EndDate         string
}

// Selector drives the select, execute, synthesize cycle for one
// analyst persona
type Selector struct {
	gw   gateway.Caller
	exec *tools.Executor
	log  zerolog.Logger
}

// New creates a selector over a model gateway and a tool executor
func New(gw gateway.Caller, exec *tools.Executor) *Selector {
	return &Selector{
		gw:   gw,
		exec: exec,
		log:  config.NewLogger("tool_selector"),
	}
}

// Select asks the model which tools the persona should run for this
// ticker. Unknown tool names are dropped; an empty post-validation
// list falls back to the persona's default set.
func (s *Selector) Select(ctx context.Context, base gateway.Request, persona Persona, ticker, marketConditions, objective string) Selection {
	if objective == "" {
		objective = persona.Objective
	}

	base.Messages = []gateway.Message{
		{Role: "system", Content: s.selectionSystemPrompt(persona)},
		{Role: "user", Content: s.selectionUserPrompt(persona, ticker, marketConditions, objective)},
	}

	selection, err := gateway.CallStructured[Selection](ctx, s.gw, base, gateway.StructuredOptions[Selection]{})
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("persona", persona.ID).
			Str("ticker", ticker).
			Msg("Tool selection call failed, using persona defaults")
	}

	var valid []SelectedTool
	for _, t := range selection.SelectedTools {
		if s.exec.Registry().Has(t.ToolName) {
			valid = append(valid, t)
		} else {
			s.log.Warn().
				Str("persona", persona.ID).
				Str("tool", t.ToolName).
				Msg("Dropping unknown tool from selection")
		}
	}
	selection.SelectedTools = valid

	if len(selection.SelectedTools) == 0 {
		for _, name := range persona.FallbackTools() {
			selection.SelectedTools = append(selection.SelectedTools, SelectedTool{
				ToolName: name,
				Reason:   "persona default",
			})
		}
		selection.AnalysisStrategy = "persona_default"
	}
	if selection.SynthesisApproach == "" {
		selection.SynthesisApproach = "weighted_by_confidence"
	}
	selection.ToolCount = len(selection.SelectedTools)

	return selection
}

// Execute runs the selected tools for the ticker, resolving each
// tool's parameters by its category. Failures come back inside the
// results.
func (s *Selector) Execute(ctx context.Context, selection Selection, ticker string, ec ExecContext) []tools.Result {
	results := make([]tools.Result, 0, len(selection.SelectedTools))
	for _, st := range selection.SelectedTools {
		tool, ok := s.exec.Registry().Get(st.ToolName)
		if !ok {
			continue
		}
		params := tools.ResolveParams(tool.Spec(), ticker, ec.FinancialAPIKey, ec.NewsAPIKey, ec.StartDate, ec.EndDate)
		results = append(results, s.exec.Execute(ctx, st.ToolName, params))
	}
	return results
}

// Synthesize folds the tool results into one signal. Retries ride on
// the gateway's structured-call backoff; after exhaustion the caller
// receives the declared degraded synthesis.
func (s *Selector) Synthesize(ctx context.Context, base gateway.Request, results []tools.Result, selection Selection, persona Persona, ticker string) Synthesis {
	base.Messages = []gateway.Message{
		{Role: "system", Content: s.synthesisSystemPrompt(persona)},
		{Role: "user", Content: s.synthesisUserPrompt(results, selection, ticker)},
	}

	synthesis, err := gateway.CallStructured[Synthesis](ctx, s.gw, base, gateway.StructuredOptions[Synthesis]{
		DefaultFactory: func() Synthesis {
			return Synthesis{
				Signal:          tools.SignalNeutral,
				Confidence:      50,
				Reasoning:       "Failed to synthesize",
				SynthesisMethod: "error",
			}
		},
	})
	if err != nil {
		s.log.Warn().
			Err(err).
			Str("persona", persona.ID).
			Str("ticker", ticker).
			Msg("Synthesis failed, returning degraded signal")
	}
	if synthesis.SynthesisMethod == "" {
		synthesis.SynthesisMethod = selection.SynthesisApproach
	}
	return synthesis
}

func (s *Selector) selectionSystemPrompt(persona Persona) string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(persona.Name)
	b.WriteString(". ")
	b.WriteString(strings.TrimSpace(persona.Description))
	b.WriteString("\n\nAvailable analysis tools:\n")
	for _, spec := range s.exec.Registry().Specs() {
		fmt.Fprintf(&b, "- %s (%s): %s\n", spec.Name, spec.Category, spec.Description)
	}
	b.WriteString("\nChoose the tools best suited to your persona and objective. Respond with JSON: ")
	b.WriteString(`{"selected_tools": [{"tool_name": "...", "reason": "..."}], "analysis_strategy": "...", "synthesis_approach": "...", "tool_count": N}`)
	return b.String()
}

func (s *Selector) selectionUserPrompt(persona Persona, ticker, marketConditions, objective string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\nObjective: %s\n", ticker, strings.TrimSpace(objective))
	if marketConditions != "" {
		fmt.Fprintf(&b, "Market conditions: %s\n", marketConditions)
	}
	fmt.Fprintf(&b, "Analysis style: %s\n", persona.Style)
	return b.String()
}

func (s *Selector) synthesisSystemPrompt(persona Persona) string {
	var b strings.Builder
	b.WriteString("You are ")
	b.WriteString(persona.Name)
	b.WriteString(". ")
	b.WriteString(strings.TrimSpace(persona.Description))
	b.WriteString("\n\nSynthesize the tool outputs below into a single directional call. Respond with JSON: ")
	b.WriteString(`{"signal": "bullish|bearish|neutral", "confidence": 0-100, "reasoning": "...", "tool_impact_analysis": "...", "synthesis_method": "..."}`)
	return b.String()
}

func (s *Selector) synthesisUserPrompt(results []tools.Result, selection Selection, ticker string) string {
	raw, _ := json.MarshalIndent(results, "", "  ")
	var b strings.Builder
	fmt.Fprintf(&b, "Ticker: %s\nSynthesis approach: %s\n\nTool results:\n%s\n", ticker, selection.SynthesisApproach, raw)
	return b.String()
}

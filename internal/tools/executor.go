package tools

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/quantdesk/quantdesk/internal/config"
)

// Executor runs tools from a registry, capturing every failure into
// the Result instead of returning it. Callers always get a Result.
type Executor struct {
	registry *Registry
	log      zerolog.Logger
}

// NewExecutor creates an executor over the registry
func NewExecutor(registry *Registry) *Executor {
	return &Executor{
		registry: registry,
		log:      config.NewLogger("tool_executor"),
	}
}

// Registry exposes the underlying catalog
func (e *Executor) Registry() *Registry { return e.registry }

// Execute runs one tool by name. Unknown tools, parameter violations
// and tool errors all come back as a neutral zero-confidence Result
// with the error recorded.
func (e *Executor) Execute(ctx context.Context, name string, params Params) Result {
	tool, ok := e.registry.Get(name)
	if !ok {
		return failedResult(name, fmt.Errorf("unknown tool %q", name))
	}

	spec := tool.Spec()
	if err := params.require(spec.RequiredParams...); err != nil {
		return failedResult(name, err)
	}

	result, err := tool.Run(ctx, params)
	if err != nil {
		e.log.Warn().
			Err(err).
			Str("tool", name).
			Str("ticker", params[ParamTicker]).
			Msg("Tool execution failed")
		return failedResult(name, err)
	}

	result.ToolName = name
	if result.Signal == "" {
		result.Signal = SignalNeutral
	}
	result.Confidence = clamp(result.Confidence)

	e.log.Debug().
		Str("tool", name).
		Str("ticker", params[ParamTicker]).
		Str("signal", result.Signal).
		Float64("confidence", result.Confidence).
		Msg("Tool executed")

	return result
}

// ExecuteAll runs the named tools sequentially and returns one Result
// per tool in order
func (e *Executor) ExecuteAll(ctx context.Context, names []string, params Params) []Result {
	out := make([]Result, 0, len(names))
	for _, name := range names {
		out = append(out, e.Execute(ctx, name, params))
	}
	return out
}

func failedResult(name string, err error) Result {
	return Result{
		ToolName:   name,
		Signal:     SignalNeutral,
		Confidence: 0,
		Reasoning:  "tool execution failed",
		Error:      err.Error(),
	}
}

func clamp(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 100 {
		return 100
	}
	return c
}

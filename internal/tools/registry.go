// Package tools is the catalog of analysis tools the agents draw
// from, plus the executor that runs them with error capture.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Category groups tools by the kind of data they analyze
type Category string

const (
	CategoryFundamental Category = "fundamental"
	CategoryTechnical   Category = "technical"
	CategorySentiment   Category = "sentiment"
	CategoryValuation   Category = "valuation"
)

// Tool result signal values
const (
	SignalBullish = "bullish"
	SignalBearish = "bearish"
	SignalNeutral = "neutral"
)

// Standard parameter names
const (
	ParamTicker    = "ticker"
	ParamAPIKey    = "api_key"
	ParamStartDate = "start_date"
	ParamEndDate   = "end_date"
)

// Params carries a tool invocation's resolved parameters
type Params map[string]string

// Result is the immutable outcome of one tool execution. A failed
// tool carries its error here instead of propagating it.
type Result struct {
	ToolName   string             `json:"tool_name"`
	Signal     string             `json:"signal"`
	Confidence float64            `json:"confidence"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
	Reasoning  string             `json:"reasoning"`
	Error      string             `json:"error,omitempty"`
}

// Spec declares a tool's identity and parameter schema
type Spec struct {
	Name           string   `json:"name"`
	Category       Category `json:"category"`
	Description    string   `json:"description"`
	RequiredParams []string `json:"required_params"`
	OptionalParams []string `json:"optional_params,omitempty"`
}

// Tool is one analysis tool. Run may return an error; the Executor
// converts it into a failed Result.
type Tool interface {
	Spec() Spec
	Run(ctx context.Context, params Params) (Result, error)
}

// Registry is the thread-safe tool catalog
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool, replacing any prior tool of the same name
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Spec().Name] = t
}

// Get returns the named tool
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Has reports whether the named tool exists
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// Specs returns all tool specs sorted by name
func (r *Registry) Specs() []Spec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Spec, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Spec())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SpecsByCategory returns the specs of one category sorted by name
func (r *Registry) SpecsByCategory(c Category) []Spec {
	var out []Spec
	for _, s := range r.Specs() {
		if s.Category == c {
			out = append(out, s)
		}
	}
	return out
}

// Names returns all registered tool names sorted
func (r *Registry) Names() []string {
	specs := r.Specs()
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Name
	}
	return out
}

// ResolveParams builds the parameter set for one tool per its
// category: fundamental and valuation tools get the financial-data
// key and end_date; technical and sentiment tools get the news/price
// key and additionally start_date.
func ResolveParams(spec Spec, ticker, financialKey, newsKey, startDate, endDate string) Params {
	p := Params{
		ParamTicker:  ticker,
		ParamEndDate: endDate,
	}
	switch spec.Category {
	case CategoryFundamental, CategoryValuation:
		p[ParamAPIKey] = financialKey
	case CategoryTechnical, CategorySentiment:
		p[ParamAPIKey] = newsKey
		p[ParamStartDate] = startDate
	}
	return p
}

func (p Params) require(keys ...string) error {
	for _, k := range keys {
		if p[k] == "" {
			return fmt.Errorf("missing required param %q", k)
		}
	}
	return nil
}

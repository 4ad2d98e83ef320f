// Package agents implements the analyst agents: round-1 tool-driven
// analysis and the round-2 peer revision.
package agents

import (
	"strings"

	"github.com/quantdesk/quantdesk/internal/config"
	"github.com/quantdesk/quantdesk/internal/gateway"
	"github.com/quantdesk/quantdesk/internal/trading"
)

// ModelDefaults holds the trailing entries of the model resolution
// chain
type ModelDefaults struct {
	AgentModels map[string]config.ModelConfig // per-agent config overrides
	Model       string
	Provider    gateway.Provider
	Temperature float64
}

// ResolveRequest builds the base gateway request for one agent's
// calls. The resolution chain is: per-day state override, then
// per-agent config, then the process-wide default.
func ResolveRequest(st *trading.DayState, agentID string, defaults ModelDefaults) gateway.Request {
	req := gateway.Request{
		Model:       defaults.Model,
		Provider:    defaults.Provider,
		Temperature: defaults.Temperature,
	}

	if mc, ok := defaults.AgentModels[agentID]; ok {
		if p, err := gateway.ParseProvider(mc.Provider); err == nil {
			req.Provider = p
			req.Model = mc.Model
		}
	}

	if st != nil {
		if override, ok := st.ModelOverrides[agentID]; ok {
			// "provider/model" form
			if provider, model, found := strings.Cut(override, "/"); found {
				if p, err := gateway.ParseProvider(provider); err == nil && model != "" {
					req.Provider = p
					req.Model = model
				}
			}
		}
	}

	return req
}

// Package selector implements persona-driven tool selection,
// execution and synthesis for the analyst agents.
package selector

import (
	"embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quantdesk/quantdesk/internal/tools"
)

//go:embed personas/*.yaml
var personaFS embed.FS

// Persona describes one analyst's identity and analytical bias. Loaded
// from per-persona YAML files; the built-in set ships embedded.
type Persona struct {
	ID           string   `yaml:"id"`            // analyst type, e.g. "fundamental"
	Name         string   `yaml:"name"`          // display name
	Category     string   `yaml:"category"`      // preferred tool category
	Description  string   `yaml:"description"`   // prompt persona text
	Objective    string   `yaml:"objective"`     // default analysis objective
	Style        string   `yaml:"style"`         // reasoning style hint
	DefaultTools []string `yaml:"default_tools"` // fallback tool set
}

// AgentID is the state key this persona's agent publishes under
func (p Persona) AgentID() string {
	return p.ID + "_analyst_agent"
}

// FallbackTools returns the persona's default tool set, deferring to
// the category default when the YAML names none
func (p Persona) FallbackTools() []string {
	if len(p.DefaultTools) > 0 {
		return p.DefaultTools
	}
	return tools.DefaultToolsFor(tools.Category(p.Category))
}

// LoadPersona loads one of the built-in personas by analyst type
func LoadPersona(analystType string) (Persona, error) {
	raw, err := personaFS.ReadFile("personas/" + analystType + ".yaml")
	if err != nil {
		return Persona{}, fmt.Errorf("unknown persona %q: %w", analystType, err)
	}
	return parsePersona(raw)
}

// LoadPersonaFile loads a persona from a YAML file on disk, overriding
// the built-in set
func LoadPersonaFile(path string) (Persona, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Persona{}, fmt.Errorf("failed to read persona file: %w", err)
	}
	return parsePersona(raw)
}

func parsePersona(raw []byte) (Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return Persona{}, fmt.Errorf("failed to parse persona: %w", err)
	}
	if p.ID == "" {
		return Persona{}, fmt.Errorf("persona is missing an id")
	}
	return p, nil
}

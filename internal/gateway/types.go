// Package gateway provides a uniform call-and-parse interface over
// multiple LLM providers, with structured-output coercion and retry.
package gateway

import (
	"context"
	"fmt"
	"time"
)

// Provider identifies an LLM provider binding
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderDeepSeek  Provider = "deepseek"
	ProviderGroq      Provider = "groq"
	ProviderOllama    Provider = "ollama"
)

// ParseProvider validates a stringly-typed provider name on entry
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderOpenAI, ProviderAnthropic, ProviderDeepSeek, ProviderGroq, ProviderOllama:
		return Provider(s), nil
	}
	return "", fmt.Errorf("unknown provider %q", s)
}

// ResponseFormat selects the provider response mode
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json_object"
)

// Message is a single chat message
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// Request describes one model call
type Request struct {
	Model          string
	Provider       Provider
	Messages       []Message
	Temperature    float64
	ResponseFormat ResponseFormat
	APIKey         string // overrides the gateway's configured key when set
}

// Usage reports token accounting from the provider
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the provider-neutral result of a call
type Completion struct {
	Content  string
	Role     string
	Model    string
	Usage    Usage
	Duration time.Duration
}

// Caller is the minimal surface components depend on. The concrete
// Gateway implements it; tests substitute scripted stubs.
type Caller interface {
	Call(ctx context.Context, req Request) (*Completion, error)
}

package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// defaultEndpoints maps providers to their chat endpoints. Entries can
// be overridden through GatewayConfig.Endpoints (e.g. a local proxy).
var defaultEndpoints = map[Provider]string{
	ProviderOpenAI:    "https://api.openai.com/v1/chat/completions",
	ProviderAnthropic: "https://api.anthropic.com/v1/messages",
	ProviderDeepSeek:  "https://api.deepseek.com/v1/chat/completions",
	ProviderGroq:      "https://api.groq.com/openai/v1/chat/completions",
	ProviderOllama:    "http://localhost:11434/v1/chat/completions",
}

// jsonModeSupport lists providers whose API accepts a JSON response
// format. Others fall through to plain text plus extraction.
var jsonModeSupport = map[Provider]bool{
	ProviderOpenAI:   true,
	ProviderDeepSeek: true,
	ProviderGroq:     true,
	ProviderOllama:   true,
}

// GatewayConfig contains configuration for the gateway
type GatewayConfig struct {
	Endpoints   map[string]string // provider name -> endpoint override
	APIKeys     map[Provider]string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration
}

// Gateway is the synchronous multi-provider LLM client
type Gateway struct {
	cfg        GatewayConfig
	httpClient *http.Client
	breakers   map[Provider]*gobreaker.CircuitBreaker
	metrics    *Metrics
	log        zerolog.Logger
}

// New creates a gateway with per-provider circuit breakers
func New(cfg GatewayConfig, log zerolog.Logger) *Gateway {
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.7
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 2000
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	breakers := make(map[Provider]*gobreaker.CircuitBreaker)
	for p := range defaultEndpoints {
		breakers[p] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        string(p),
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}

	return &Gateway{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breakers:   breakers,
		metrics:    getOrCreateMetrics(),
		log:        log.With().Str("component", "gateway").Logger(),
	}
}

// MaxRetries exposes the configured structured-output retry budget
func (g *Gateway) MaxRetries() int { return g.cfg.MaxRetries }

// Call performs one synchronous chat completion
func (g *Gateway) Call(ctx context.Context, req Request) (*Completion, error) {
	if req.Provider == "" {
		return nil, finalErr("provider is required", nil)
	}
	if _, err := ParseProvider(string(req.Provider)); err != nil {
		return nil, finalErr("invalid provider", err)
	}

	breaker := g.breakers[req.Provider]
	start := time.Now()

	result, err := breaker.Execute(func() (interface{}, error) {
		return g.doCall(ctx, req)
	})

	g.metrics.CallDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		g.metrics.CallsTotal.WithLabelValues(string(req.Provider), "error").Inc()
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, transientErr("circuit breaker open", err)
		}
		return nil, err
	}

	g.metrics.CallsTotal.WithLabelValues(string(req.Provider), "ok").Inc()
	comp := result.(*Completion)
	comp.Duration = time.Since(start)

	g.log.Debug().
		Str("provider", string(req.Provider)).
		Str("model", comp.Model).
		Int("prompt_tokens", comp.Usage.PromptTokens).
		Int("completion_tokens", comp.Usage.CompletionTokens).
		Dur("duration", comp.Duration).
		Msg("LLM call completed")

	return comp, nil
}

func (g *Gateway) doCall(ctx context.Context, req Request) (*Completion, error) {
	endpoint := defaultEndpoints[req.Provider]
	if override, ok := g.cfg.Endpoints[string(req.Provider)]; ok && override != "" {
		endpoint = override
	}

	apiKey := req.APIKey
	if apiKey == "" {
		apiKey = g.cfg.APIKeys[req.Provider]
	}

	var body []byte
	var err error
	if req.Provider == ProviderAnthropic {
		body, err = g.buildAnthropicRequest(req)
	} else {
		body, err = g.buildOpenAIRequest(req)
	}
	if err != nil {
		return nil, finalErr("failed to marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, finalErr("failed to create request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Provider == ProviderAnthropic {
		httpReq.Header.Set("x-api-key", apiKey)
		httpReq.Header.Set("anthropic-version", "2023-06-01")
	} else if apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, transientErr("failed to send request", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transientErr("failed to read response body", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("provider returned status %d: %s", resp.StatusCode, truncate(string(respBody), 300))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			return nil, transientErr(msg, nil)
		default:
			return nil, finalErr(msg, nil)
		}
	}

	if req.Provider == ProviderAnthropic {
		return parseAnthropicResponse(respBody)
	}
	return parseOpenAIResponse(respBody)
}

// buildOpenAIRequest marshals an OpenAI-compatible chat request
func (g *Gateway) buildOpenAIRequest(req Request) ([]byte, error) {
	payload := map[string]interface{}{
		"model":       req.Model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
		"max_tokens":  g.cfg.MaxTokens,
	}
	if req.ResponseFormat == FormatJSON && jsonModeSupport[req.Provider] {
		payload["response_format"] = map[string]string{"type": "json_object"}
	}
	return json.Marshal(payload)
}

// buildAnthropicRequest marshals a Messages API request. Anthropic has
// no JSON mode; structured calls fall through to extraction.
func (g *Gateway) buildAnthropicRequest(req Request) ([]byte, error) {
	var system string
	messages := make([]Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == "system" {
			system = m.Content
			continue
		}
		messages = append(messages, m)
	}

	payload := map[string]interface{}{
		"model":       req.Model,
		"messages":    messages,
		"temperature": req.Temperature,
		"max_tokens":  g.cfg.MaxTokens,
	}
	if system != "" {
		payload["system"] = system
	}
	return json.Marshal(payload)
}

func parseOpenAIResponse(body []byte) (*Completion, error) {
	var resp struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage Usage `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, structuralErr("failed to parse provider response", err)
	}
	if len(resp.Choices) == 0 {
		return nil, structuralErr("no choices in provider response", nil)
	}
	return &Completion{
		Content: resp.Choices[0].Message.Content,
		Role:    resp.Choices[0].Message.Role,
		Model:   resp.Model,
		Usage:   resp.Usage,
	}, nil
}

func parseAnthropicResponse(body []byte) (*Completion, error) {
	var resp struct {
		Model   string `json:"model"`
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, structuralErr("failed to parse provider response", err)
	}
	if len(resp.Content) == 0 {
		return nil, structuralErr("no content in provider response", nil)
	}
	return &Completion{
		Content: resp.Content[0].Text,
		Role:    resp.Role,
		Model:   resp.Model,
		Usage: Usage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      resp.Usage.InputTokens + resp.Usage.OutputTokens,
		},
	}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ Caller = (*Gateway)(nil)

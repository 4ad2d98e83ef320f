package gateway

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tickerSignals struct {
	AnalystID     string `json:"analyst_id"`
	TickerSignals []struct {
		Ticker string `json:"ticker"`
		Signal string `json:"signal"`
	} `json:"ticker_signals"`
}

func (t *tickerSignals) IsEmpty() bool { return len(t.TickerSignals) == 0 }

type boundedConfidence struct {
	Confidence float64 `json:"confidence"`
}

func (b *boundedConfidence) Validate() error {
	if b.Confidence < 0 || b.Confidence > 100 {
		return fmt.Errorf("confidence %f out of [0,100]", b.Confidence)
	}
	return nil
}

// scriptedCaller is a minimal in-package stub (the exported one lives
// in gatewaytest, which cannot be imported here without a cycle)
type scriptedCaller struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
}

func (s *scriptedCaller) Call(_ context.Context, _ Request) (*Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.calls
	s.calls++
	if idx < len(s.errs) && s.errs[idx] != nil {
		return nil, s.errs[idx]
	}
	if idx >= len(s.replies) {
		idx = len(s.replies) - 1
	}
	return &Completion{Content: s.replies[idx], Role: "assistant"}, nil
}

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestCallStructured_EmptyListGuardRetries(t *testing.T) {
	// First two responses carry an empty required list, third is valid
	caller := &scriptedCaller{replies: []string{
		`{"analyst_id":"technical_analyst_agent","ticker_signals":[]}`,
		`{"analyst_id":"technical_analyst_agent","ticker_signals":[]}`,
		`{"analyst_id":"technical_analyst_agent","ticker_signals":[{"ticker":"AAPL","signal":"bullish"}]}`,
	}}

	got, err := CallStructured(context.Background(), caller, Request{Provider: ProviderOpenAI},
		StructuredOptions[tickerSignals]{MaxRetries: 3, sleep: noSleep})

	require.NoError(t, err)
	assert.Equal(t, 3, caller.calls)
	require.Len(t, got.TickerSignals, 1)
	assert.Equal(t, "AAPL", got.TickerSignals[0].Ticker)
}

func TestCallStructured_DefaultFactoryOnExhaustion(t *testing.T) {
	caller := &scriptedCaller{replies: []string{`not json at all`}}

	got, err := CallStructured(context.Background(), caller, Request{Provider: ProviderOpenAI},
		StructuredOptions[boundedConfidence]{
			MaxRetries:     3,
			DefaultFactory: func() boundedConfidence { return boundedConfidence{Confidence: 50} },
			sleep:          noSleep,
		})

	require.Error(t, err)
	assert.Equal(t, 3, caller.calls)
	// The declared default, never a partial instance
	assert.Equal(t, 50.0, got.Confidence)
}

func TestCallStructured_ValidatorRejectsOutOfRange(t *testing.T) {
	caller := &scriptedCaller{replies: []string{
		`{"confidence": 250}`,
		`{"confidence": 80}`,
	}}

	got, err := CallStructured(context.Background(), caller, Request{Provider: ProviderOpenAI},
		StructuredOptions[boundedConfidence]{MaxRetries: 3, sleep: noSleep})

	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls)
	assert.Equal(t, 80.0, got.Confidence)
}

func TestCallStructured_NoRetryOnFinalError(t *testing.T) {
	caller := &scriptedCaller{
		errs:    []error{finalErr("invalid api key", nil)},
		replies: []string{`{"confidence": 10}`},
	}

	_, err := CallStructured(context.Background(), caller, Request{Provider: ProviderOpenAI},
		StructuredOptions[boundedConfidence]{MaxRetries: 3, sleep: noSleep})

	require.Error(t, err)
	assert.Equal(t, 1, caller.calls)
}

func TestCallStructured_TransientErrorRetried(t *testing.T) {
	caller := &scriptedCaller{
		errs:    []error{transientErr("timeout", nil), nil},
		replies: []string{``, `{"confidence": 60}`},
	}

	got, err := CallStructured(context.Background(), caller, Request{Provider: ProviderOpenAI},
		StructuredOptions[boundedConfidence]{MaxRetries: 3, sleep: noSleep})

	require.NoError(t, err)
	assert.Equal(t, 2, caller.calls)
	assert.Equal(t, 60.0, got.Confidence)
}

func TestCallStructured_ZeroValueWithoutFactory(t *testing.T) {
	caller := &scriptedCaller{replies: []string{`garbage`}}

	got, err := CallStructured(context.Background(), caller, Request{Provider: ProviderOpenAI},
		StructuredOptions[boundedConfidence]{MaxRetries: 2, sleep: noSleep})

	require.Error(t, err)
	assert.Equal(t, 0.0, got.Confidence)
}

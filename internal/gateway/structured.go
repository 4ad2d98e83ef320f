package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Validator lets schema types reject structurally invalid instances
// after JSON extraction. Validation failures count as parse failures
// and trigger retry.
type Validator interface {
	Validate() error
}

// EmptyGuard marks schemas carrying a required non-empty collection.
// An empty instance counts as a parse failure and triggers retry.
type EmptyGuard interface {
	IsEmpty() bool
}

// StructuredOptions tunes CallStructured behaviour
type StructuredOptions[T any] struct {
	MaxRetries     int       // total attempts; 0 means 3
	DefaultFactory func() T  // invoked on final failure; nil returns a zero value
	sleep          sleepFunc // test hook
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// CallStructured performs a model call and coerces the response into T.
// JSON mode is requested when the provider supports it; otherwise the
// first JSON object in the body is extracted. On repeated failure the
// default factory (or a zero value) is returned together with the last
// error, so callers always hold either a validated value or the
// declared default, never a partially populated one.
func CallStructured[T any](ctx context.Context, c Caller, req Request, opts StructuredOptions[T]) (T, error) {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	sleep := opts.sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	req.ResponseFormat = FormatJSON
	m := getOrCreateMetrics()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			m.RetriesTotal.Inc()
			// 1s, 2s, 4s
			backoff := time.Duration(1<<(attempt-1)) * time.Second
			log.Warn().
				Err(lastErr).
				Int("attempt", attempt).
				Dur("backoff", backoff).
				Msg("Retrying structured LLM call")
			if err := sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		comp, err := c.Call(ctx, req)
		if err != nil {
			lastErr = err
			var callErr *CallError
			if errors.As(err, &callErr) && !callErr.IsRetryable() {
				break
			}
			continue
		}

		value, err := decode[T](comp.Content)
		if err != nil {
			m.ParseFailuresTotal.Inc()
			lastErr = err
			continue
		}

		return value, nil
	}

	m.DefaultsTotal.Inc()
	if opts.DefaultFactory != nil {
		return opts.DefaultFactory(), lastErr
	}
	var zero T
	return zero, lastErr
}

// decode extracts, parses and validates one schema instance
func decode[T any](content string) (T, error) {
	var value T

	raw := ExtractJSON(content)
	if raw == "" {
		return value, structuralErr("no JSON object found in response", nil)
	}

	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return value, structuralErr("failed to unmarshal response", err)
	}

	if v, ok := any(&value).(Validator); ok {
		if err := v.Validate(); err != nil {
			return value, structuralErr("schema validation failed", err)
		}
	}
	if g, ok := any(&value).(EmptyGuard); ok && g.IsEmpty() {
		return value, structuralErr("required collection is empty", nil)
	}

	return value, nil
}

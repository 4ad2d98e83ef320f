package gateway

import "fmt"

// ErrorKind classifies call failures per the retry policy:
// transient failures are retried, structural failures are retried with
// the same prompt, final failures surface the declared default.
type ErrorKind string

const (
	KindTransient  ErrorKind = "transient"
	KindStructural ErrorKind = "structural"
	KindFinal      ErrorKind = "final"
)

// CallError carries the failure classification for a gateway call
type CallError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *CallError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *CallError) Unwrap() error { return e.Err }

// IsRetryable reports whether the call should be attempted again
func (e *CallError) IsRetryable() bool {
	return e.Kind == KindTransient || e.Kind == KindStructural
}

func transientErr(msg string, err error) *CallError {
	return &CallError{Kind: KindTransient, Message: msg, Err: err}
}

func structuralErr(msg string, err error) *CallError {
	return &CallError{Kind: KindStructural, Message: msg, Err: err}
}

func finalErr(msg string, err error) *CallError {
	return &CallError{Kind: KindFinal, Message: msg, Err: err}
}

// Package gatewaytest provides scripted gateway stubs for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantdesk/quantdesk/internal/gateway"
)

// Response scripts one stubbed completion (or error)
type Response struct {
	Content string
	Err     error
}

// Stub is a deterministic gateway.Caller. Responses are served in
// order; when the script is exhausted the last response repeats. A
// RouteFunc, when set, takes precedence over the script.
type Stub struct {
	mu        sync.Mutex
	script    []Response
	index     int
	Requests  []gateway.Request
	RouteFunc func(req gateway.Request) (string, error)
}

// NewStub creates a stub with a fixed response script
func NewStub(script ...Response) *Stub {
	return &Stub{script: script}
}

// Reply appends a content-only response to the script
func (s *Stub) Reply(content string) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, Response{Content: content})
	return s
}

// Fail appends an error response to the script
func (s *Stub) Fail(err error) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script = append(s.script, Response{Err: err})
	return s
}

// Call implements gateway.Caller
func (s *Stub) Call(_ context.Context, req gateway.Request) (*gateway.Completion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Requests = append(s.Requests, req)

	if s.RouteFunc != nil {
		content, err := s.RouteFunc(req)
		if err != nil {
			return nil, err
		}
		return &gateway.Completion{Content: content, Role: "assistant", Model: req.Model}, nil
	}

	if len(s.script) == 0 {
		return nil, fmt.Errorf("gatewaytest: no scripted responses")
	}

	idx := s.index
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	s.index++

	resp := s.script[idx]
	if resp.Err != nil {
		return nil, resp.Err
	}
	return &gateway.Completion{Content: resp.Content, Role: "assistant", Model: req.Model}, nil
}

// CallCount returns how many calls the stub has served
func (s *Stub) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}

var _ gateway.Caller = (*Stub)(nil)

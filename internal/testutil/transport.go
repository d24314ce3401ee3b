package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/pwasync/internal/action"
)

// ScriptFunc decides the outcome of the n-th call (1-based).
type ScriptFunc func(n int, item action.Item) (action.Result, error)

// StubTransport is a scripted transport that records every call.
//
// Zero value succeeds on every call.
//
// Thread-safety: safe for concurrent use.
type StubTransport struct {
	// Script decides each call's result. Nil means always OK.
	Script ScriptFunc
	// Delay is slept (context-aware) before answering.
	Delay time.Duration
	// Block, when non-nil, holds every call until it is closed.
	Block chan struct{}

	mu      sync.Mutex
	calls   []action.Item
	entered chan struct{}
}

// NewStubTransport creates a transport driven by script.
func NewStubTransport(script ScriptFunc) *StubTransport {
	return &StubTransport{Script: script}
}

// AlwaysOK accepts every action.
func AlwaysOK(int, action.Item) (action.Result, error) {
	return action.Result{OK: true}, nil
}

// FailOddCalls fails calls 1, 3, 5, ... with a retryable error and accepts
// the rest.
func FailOddCalls(n int, _ action.Item) (action.Result, error) {
	if n%2 == 1 {
		return action.Result{Retryable: true, ErrorMessage: "connection reset"}, nil
	}
	return action.Result{OK: true}, nil
}

// Reject answers every call with a fatal server rejection.
func Reject(message string) ScriptFunc {
	return func(int, action.Item) (action.Result, error) {
		return action.Result{ErrorID: "E-STUB", ErrorMessage: message}, nil
	}
}

// Send implements the engine transport contract.
func (s *StubTransport) Send(ctx context.Context, item action.Item) (action.Result, error) {
	s.mu.Lock()
	s.calls = append(s.calls, item)
	n := len(s.calls)
	script := s.Script
	entered := s.enteredLocked()
	s.mu.Unlock()

	select {
	case entered <- struct{}{}:
	default:
	}

	if s.Block != nil {
		select {
		case <-s.Block:
		case <-ctx.Done():
			return action.Result{}, ctx.Err()
		}
	}
	if s.Delay > 0 {
		select {
		case <-time.After(s.Delay):
		case <-ctx.Done():
			return action.Result{}, ctx.Err()
		}
	}

	if script == nil {
		return action.Result{OK: true}, nil
	}
	return script(n, item)
}

func (s *StubTransport) enteredLocked() chan struct{} {
	if s.entered == nil {
		s.entered = make(chan struct{}, 1024)
	}
	return s.entered
}

// Entered signals once per call as soon as the call is recorded.
func (s *StubTransport) Entered() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enteredLocked()
}

// Calls returns a copy of the recorded calls in order.
func (s *StubTransport) Calls() []action.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]action.Item, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallCount returns the number of calls so far.
func (s *StubTransport) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

// Payloads returns the recorded payloads as strings, in call order.
func (s *StubTransport) Payloads() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = string(c.Payload)
	}
	return out
}

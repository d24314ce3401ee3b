package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pwasync/internal/action"
)

func TestStubTransport_ZeroValueSucceeds(t *testing.T) {
	var s StubTransport

	res, err := s.Send(t.Context(), action.Item{ID: "a", Payload: action.Payload(`{}`)})
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 1, s.CallCount())
}

func TestStubTransport_FailOddCalls(t *testing.T) {
	s := NewStubTransport(FailOddCalls)

	for i := 1; i <= 4; i++ {
		res, err := s.Send(t.Context(), action.Item{})
		require.NoError(t, err)
		if i%2 == 1 {
			assert.Equal(t, action.OutcomeRetryable, res.Classify(), "call %d", i)
		} else {
			assert.Equal(t, action.OutcomeSuccess, res.Classify(), "call %d", i)
		}
	}
}

func TestStubTransport_Reject(t *testing.T) {
	s := NewStubTransport(Reject("invalid row"))

	res, err := s.Send(t.Context(), action.Item{})
	require.NoError(t, err)
	assert.Equal(t, action.OutcomeFatal, res.Classify())
	assert.Equal(t, "invalid row", res.ErrorMessage)
}

func TestStubTransport_RecordsPayloadsInOrder(t *testing.T) {
	s := NewStubTransport(AlwaysOK)

	for _, p := range []string{`{"n":1}`, `{"n":2}`} {
		_, err := s.Send(t.Context(), action.Item{Payload: action.Payload(p)})
		require.NoError(t, err)
	}
	assert.Equal(t, []string{`{"n":1}`, `{"n":2}`}, s.Payloads())
}

func TestStubTransport_DelayRespectsContext(t *testing.T) {
	s := &StubTransport{Delay: time.Hour}
	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Send(ctx, action.Item{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStubTransport_BlockAndEntered(t *testing.T) {
	s := &StubTransport{Block: make(chan struct{})}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Send(context.Background(), action.Item{})
	}()

	select {
	case <-s.Entered():
	case <-time.After(time.Second):
		t.Fatal("call never entered")
	}

	select {
	case <-done:
		t.Fatal("call returned before Block was closed")
	default:
	}

	close(s.Block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("call did not return after Block was closed")
	}
}

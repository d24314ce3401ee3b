package store

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/roach88/pwasync/internal/action"
)

// stepClock returns a fixed start time that advances by step on every call.
type stepClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newStepClock(step time.Duration) *stepClock {
	return &stepClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), step: step}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// createTestStore creates a new file-backed store for testing with
// deterministic ids and a clock that advances one second per read.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	base := []Option{
		WithIDGenerator(action.NewSequenceGenerator("a")),
		WithClock(newStepClock(time.Second).Now),
	}
	s, err := Open(path, append(base, opts...)...)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// mustEnqueue enqueues a payload and fails the test on error.
func mustEnqueue(t *testing.T, s *Store, topic, payload string) string {
	t.Helper()
	id, err := s.Enqueue(t.Context(), topic, action.Payload(payload))
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}
	return id
}

package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/netstate"
	"github.com/roach88/pwasync/internal/store"
	"github.com/roach88/pwasync/internal/testutil"
)

// createTestStore opens a file-backed store with deterministic ids
// ("a-1", "a-2", ...) and a clock that advances one second per read.
func createTestStore(t *testing.T) *store.Store {
	t.Helper()
	clock := testutil.NewSteppingClock(time.Second)
	s, err := store.Open(filepath.Join(t.TempDir(), "queue.db"),
		store.WithIDGenerator(action.NewSequenceGenerator("a")),
		store.WithClock(clock.Now),
	)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestEngine wires a store, a manager and the given transport, and
// runs Init. Shutdown is registered as cleanup.
func createTestEngine(t *testing.T, tr Transport, opts ...Option) (*Engine, *store.Store, *netstate.Manager) {
	t.Helper()
	s := createTestStore(t)
	mgr := netstate.NewManager(
		netstate.WithStore(netstate.NewSoftStore(s, nil, netstate.WithNotFound(func(err error) bool {
			return errors.Is(err, store.ErrNotFound)
		}))),
		netstate.WithClock(testutil.NewSteppingClock(time.Second).Now),
	)
	e := New(s, mgr, tr, opts...)
	require.NoError(t, e.Init(t.Context()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx)
	})
	return e, s, mgr
}

func enqueueAll(t *testing.T, s *store.Store, topic string, payloads ...string) []string {
	t.Helper()
	ids := make([]string, len(payloads))
	for i, p := range payloads {
		id, err := s.Enqueue(t.Context(), topic, action.Payload(p))
		require.NoError(t, err)
		ids[i] = id
	}
	return ids
}

// fakeNotifier records everything the engine publishes.
type fakeNotifier struct {
	mu      sync.Mutex
	changes []netstate.Change
	reports []SyncReport
	err     error
	closed  bool
}

func (n *fakeNotifier) NetworkChanged(_ context.Context, c netstate.Change) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.changes = append(n.changes, c)
	return n.err
}

func (n *fakeNotifier) SyncCompleted(_ context.Context, r SyncReport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reports = append(n.reports, r)
	return n.err
}

func (n *fakeNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *fakeNotifier) counts() (changes, reports int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.changes), len(n.reports)
}

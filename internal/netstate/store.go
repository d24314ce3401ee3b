package netstate

import (
	"context"
	"time"

	"github.com/roach88/pwasync/internal/log"
)

// StateStore is the persistence the manager needs. Implemented by
// store.Store.
type StateStore interface {
	LoadNetworkState(ctx context.Context) (State, time.Time, error)
	SaveNetworkState(ctx context.Context, state State, savedAt time.Time) error
	AppendNetworkHistory(ctx context.Context, state State, at time.Time) error
}

// PollConfigStore is optionally implemented by a StateStore that also keeps
// the polling configuration.
type PollConfigStore interface {
	PollConfig(ctx context.Context) (PollConfig, error)
}

// SoftStore wraps a StateStore so that storage failures never reach the
// caller. Load falls back to Default(); writes log a warning and return.
//
// A nil inner store is valid and behaves like an always-empty store.
type SoftStore struct {
	inner    StateStore
	log      *log.Logger
	notFound func(error) bool
}

// SoftStoreOption configures a SoftStore.
type SoftStoreOption func(*SoftStore)

// WithNotFound tells the wrapper which load errors mean "nothing saved yet".
// Those are logged at debug instead of warn.
func WithNotFound(fn func(error) bool) SoftStoreOption {
	return func(s *SoftStore) { s.notFound = fn }
}

// NewSoftStore wraps inner.
func NewSoftStore(inner StateStore, l *log.Logger, opts ...SoftStoreOption) *SoftStore {
	s := &SoftStore{
		inner:    inner,
		log:      log.OrNop(l).Named("netstate.store"),
		notFound: func(error) bool { return false },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the persisted state, or Default() if there is none or the
// storage cannot be read.
func (s *SoftStore) Load(ctx context.Context) State {
	if s.inner == nil {
		return Default()
	}
	state, _, err := s.inner.LoadNetworkState(ctx)
	if err != nil {
		if s.notFound(err) {
			s.log.Debug("no persisted network state, using defaults", nil)
		} else {
			s.log.Warn("network state unreadable, using defaults", map[string]any{"error": err})
		}
		return Default()
	}
	return state
}

// Save persists state. Failures are logged and swallowed.
func (s *SoftStore) Save(ctx context.Context, state State, at time.Time) {
	if s.inner == nil {
		return
	}
	if err := s.inner.SaveNetworkState(ctx, state, at); err != nil {
		s.log.Warn("failed to persist network state", map[string]any{
			"error": err,
			"state": state.String(),
		})
	}
}

// AppendHistory records a transition. Failures are logged and swallowed.
func (s *SoftStore) AppendHistory(ctx context.Context, state State, at time.Time) {
	if s.inner == nil {
		return
	}
	if err := s.inner.AppendNetworkHistory(ctx, state, at); err != nil {
		s.log.Warn("failed to append network history", map[string]any{"error": err})
	}
}

// PollConfig returns the persisted poll configuration when the underlying
// store keeps one. ok is false otherwise.
func (s *SoftStore) PollConfig(ctx context.Context) (cfg PollConfig, ok bool) {
	pcs, isPCS := s.inner.(PollConfigStore)
	if !isPCS {
		return PollConfig{}, false
	}
	cfg, err := pcs.PollConfig(ctx)
	if err != nil {
		if !s.notFound(err) {
			s.log.Warn("poll config unreadable, using defaults", map[string]any{"error": err})
		}
		return PollConfig{}, false
	}
	return cfg, true
}

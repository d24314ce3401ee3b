package netstate

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/pwasync/internal/log"
)

// SpeedSource answers whether the average request time over window exceeds
// threshold. Implemented by speed.Monitor.
type SpeedSource interface {
	IsSlow(threshold, window time.Duration) bool
}

// Prober checks real connectivity to the server. A nil error means reachable.
type Prober interface {
	Probe(ctx context.Context) error
}

// Manager owns the current State and is its only writer.
//
// Four channels feed it: connectivity reports (ReportConnectivity or the
// Prober), the user's forcedOffline and autoOffline toggles (SetState), and
// the SpeedSource, polled by Run.
//
// Every accepted change is persisted, appended to history and published to
// subscribers. A change that leaves all four flags as they were is dropped
// without persistence or notification.
//
// Thread-safety: all methods are safe for concurrent use.
type Manager struct {
	mu    sync.Mutex
	state State
	poll  PollConfig

	store  *SoftStore
	speed  SpeedSource
	prober Prober
	now    func() time.Time
	log    *log.Logger
	bus    *bus
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithStore sets the fail-soft persistence.
func WithStore(s *SoftStore) ManagerOption {
	return func(m *Manager) { m.store = s }
}

// WithSpeedSource sets the slow-network signal. Without one, SlowNetwork is
// only ever changed through SetState and auto-offline never fires on its own.
func WithSpeedSource(s SpeedSource) ManagerOption {
	return func(m *Manager) { m.speed = s }
}

// WithProber sets the connectivity probe used by CheckState.
func WithProber(p Prober) ManagerOption {
	return func(m *Manager) { m.prober = p }
}

// WithPollConfig overrides the poll configuration. Zero fields take defaults.
func WithPollConfig(c PollConfig) ManagerOption {
	return func(m *Manager) { m.poll = c.WithDefaults() }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// NewManager creates a manager holding Default().
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		state: Default(),
		poll:  DefaultPollConfig(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = log.OrNop(m.log).Named("netstate")
	if m.store == nil {
		m.store = NewSoftStore(nil, m.log)
	}
	m.bus = newBus(m.log)
	return m
}

// Init loads the persisted state and poll configuration. Nothing is
// published: subscribers only ever see changes made after Init.
func (m *Manager) Init(ctx context.Context) State {
	state := m.store.Load(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	if cfg, ok := m.store.PollConfig(ctx); ok {
		m.poll = cfg.WithDefaults()
	}
	m.log.Info("network state loaded", map[string]any{"state": state.String()})
	return state
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// PollConfig returns the active poll configuration.
func (m *Manager) PollConfig() PollConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.poll
}

// Subscribe registers fn for every accepted change and returns the handle
// that removes it. Changes reach fn in the order they were accepted.
func (m *Manager) Subscribe(fn func(Change)) (unsubscribe func()) {
	return m.bus.subscribe(fn)
}

// SetState merges a policy update into the current state. When a speed
// source is configured and p leaves SlowNetwork unset, the flag is refreshed
// from it, so toggling auto-offline takes effect immediately.
//
// Returns the change and true when it was accepted, or false for a no-op.
func (m *Manager) SetState(ctx context.Context, p Partial) (Change, bool) {
	return m.apply(ctx, func(cur State, poll PollConfig) State {
		if p.SlowNetwork == nil && m.speed != nil {
			p.SlowNetwork = Bool(m.speed.IsSlow(poll.SlowThreshold, poll.Window))
		}
		return cur.Merge(p)
	})
}

// ReportConnectivity records a transport-level connectivity observation.
// It is the only way BrowserOnline changes besides CheckState's probe.
func (m *Manager) ReportConnectivity(ctx context.Context, online bool) (Change, bool) {
	return m.apply(ctx, func(cur State, _ PollConfig) State {
		cur.BrowserOnline = online
		return cur
	})
}

// CheckState takes a fresh reading of every signal the manager can observe
// (probe and speed) and applies it as a single update.
func (m *Manager) CheckState(ctx context.Context) State {
	var online *bool
	if m.prober != nil {
		err := m.prober.Probe(ctx)
		if err != nil {
			m.log.Debug("connectivity probe failed", map[string]any{"error": err})
		}
		online = Bool(err == nil)
	}

	m.apply(ctx, func(cur State, poll PollConfig) State {
		if online != nil {
			cur.BrowserOnline = *online
		}
		if m.speed != nil {
			cur.SlowNetwork = m.speed.IsSlow(poll.SlowThreshold, poll.Window)
		}
		return cur
	})
	return m.State()
}

// apply computes the next state under the lock, persists and publishes it
// when it differs, then delivers pending notifications outside the lock.
func (m *Manager) apply(ctx context.Context, next func(State, PollConfig) State) (Change, bool) {
	change, ok := m.applyLocked(ctx, next)
	if ok {
		m.bus.drain()
	}
	return change, ok
}

func (m *Manager) applyLocked(ctx context.Context, next func(State, PollConfig) State) (Change, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.state
	cur := next(prev, m.poll)
	changed := prev.Diff(cur)
	if len(changed) == 0 {
		return Change{}, false
	}

	at := m.now()
	m.state = cur
	m.store.Save(ctx, cur, at)
	m.store.AppendHistory(ctx, cur, at)

	change := Change{Previous: prev, Current: cur, Changed: changed, At: at}
	m.bus.publish(change)

	m.log.Info("network state changed", map[string]any{
		"from":    prev.String(),
		"to":      cur.String(),
		"changed": changed,
	})
	return change, true
}

// Run polls CheckState every poll interval until ctx is cancelled.
// Blocks; call from one goroutine.
func (m *Manager) Run(ctx context.Context) error {
	interval := m.PollConfig().Interval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Debug("network poll loop starting", map[string]any{"interval": interval.String()})
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.CheckState(ctx)
		}
	}
}

// Close stops notification delivery. Subsequent changes are still applied
// and persisted but no longer published.
func (m *Manager) Close() {
	m.bus.close()
}

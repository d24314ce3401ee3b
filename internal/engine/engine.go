package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/log"
	"github.com/roach88/pwasync/internal/metrics"
	"github.com/roach88/pwasync/internal/netstate"
	"github.com/roach88/pwasync/internal/store"
)

// Notifier forwards engine events to an external bus. Implemented by
// notify/redis.Publisher. Failures are logged, never propagated.
type Notifier interface {
	NetworkChanged(ctx context.Context, c netstate.Change) error
	SyncCompleted(ctx context.Context, r SyncReport) error
}

// Engine is an explicitly constructed sync engine instance.
//
// Lifecycle:
//
//	e := engine.New(st, mgr, transport, opts...)
//	if err := e.Init(ctx); err != nil { ... }
//	go e.Run(ctx)           // network poll loop
//	defer e.Shutdown(ctx)
//
// Thread-safety: all exported methods are safe for concurrent use once Init
// has returned.
type Engine struct {
	store    *store.Store
	manager  *netstate.Manager
	orch     *Orchestrator
	notifier Notifier
	metrics  *metrics.Collector
	log      *log.Logger

	autoSync    bool
	itemTimeout time.Duration
	deviceID    string

	unsubscribe func()
	bgCtx       context.Context
	bgCancel    context.CancelFunc
	bg          sync.WaitGroup

	// mu guards closed, which stops new background passes once Shutdown
	// has begun. A bus delivery may still be running after unsubscribe.
	mu     sync.Mutex
	closed bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithNotifier forwards network changes and sync reports to n.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithAutoSync starts a SyncAll pass every time the client goes online.
//
// Default: true
func WithAutoSync(enabled bool) Option {
	return func(e *Engine) { e.autoSync = enabled }
}

// WithEngineItemTimeout bounds each transport call.
func WithEngineItemTimeout(d time.Duration) Option {
	return func(e *Engine) { e.itemTimeout = d }
}

// WithDeviceID pins the device id instead of using the generated one.
func WithDeviceID(id string) Option {
	return func(e *Engine) { e.deviceID = id }
}

// New creates an Engine. Init must be called before use.
func New(s *store.Store, m *netstate.Manager, t Transport, opts ...Option) *Engine {
	e := &Engine{
		store:       s,
		manager:     m,
		autoSync:    true,
		itemTimeout: DefaultItemTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = log.OrNop(e.log)
	if e.metrics == nil {
		e.metrics = metrics.NewCollector(e.deviceID)
	}
	e.orch = NewOrchestrator(s, t,
		WithGate(GateFunc(func() bool { return m.State().IsOnline() })),
		WithItemTimeout(e.itemTimeout),
		WithOrchestratorLogger(e.log),
		WithOrchestratorMetrics(e.metrics),
	)
	e.bgCtx, e.bgCancel = context.WithCancel(context.Background())
	return e
}

// Init recovers interrupted dispatches, resolves the device id, loads the
// network state and starts listening for network changes.
//
// Only storage failures that leave the queue unusable are returned.
func (e *Engine) Init(ctx context.Context) error {
	recovered, err := e.store.RecoverSyncing(ctx)
	if err != nil {
		return NewStorageError("recover interrupted items", err)
	}
	if recovered > 0 {
		e.log.Warn("requeued items interrupted mid-dispatch", map[string]any{"count": recovered})
	}

	if e.deviceID != "" {
		if err := e.store.SetDeviceID(ctx, e.deviceID); err != nil {
			return NewStorageError("pin device id", err)
		}
	} else {
		id, err := e.store.DeviceID(ctx)
		if err != nil {
			return NewStorageError("load device id", err)
		}
		e.deviceID = id
	}

	state := e.manager.Init(ctx)
	e.unsubscribe = e.manager.Subscribe(e.onNetworkChange)

	e.log.Info("engine initialized", map[string]any{
		"device_id": e.deviceID,
		"network":   state.String(),
		"version":   action.EngineVersion,
	})
	return nil
}

// Run drives the network poll loop. Blocks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	e.log.Info("engine starting", nil)
	err := e.manager.Run(ctx)
	if errors.Is(err, context.Canceled) {
		e.log.Info("engine stopping: context cancelled", nil)
		return nil
	}
	return err
}

// Shutdown stops listening for changes, waits for background passes and
// closes the notifier if it is closable. The store is owned by the caller.
func (e *Engine) Shutdown(ctx context.Context) error {
	if e.unsubscribe != nil {
		e.unsubscribe()
	}
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.bgCancel()

	done := make(chan struct{})
	go func() {
		e.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}

	e.manager.Close()
	if c, ok := e.notifier.(io.Closer); ok {
		if err := c.Close(); err != nil {
			e.log.Warn("failed to close notifier", map[string]any{"error": err})
		}
	}
	_ = e.log.Sync()
	return nil
}

func (e *Engine) onNetworkChange(c netstate.Change) {
	e.metrics.RecordStateChange(c.WentOnline(), c.WentOffline())
	e.notify(func(ctx context.Context) error { return e.notifier.NetworkChanged(ctx, c) })

	if e.autoSync && c.WentOnline() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.closed {
			e.log.Debug("engine shutting down, skipping automatic sync", nil)
			return
		}
		e.bg.Add(1)
		go func() {
			defer e.bg.Done()
			if _, err := e.SyncNow(e.bgCtx); err != nil && !errors.Is(err, context.Canceled) {
				e.log.Warn("automatic sync after reconnect failed", map[string]any{"error": err})
			}
		}()
	}
}

func (e *Engine) notify(send func(context.Context) error) {
	if e.notifier == nil {
		return
	}
	if err := send(e.bgCtx); err != nil {
		e.metrics.IncNotifyFailure()
		e.log.Warn("failed to publish notification", map[string]any{"error": err})
	}
}

// --- Queue operations ---

// Enqueue records an action that could not complete against the server.
// This is the one operation whose storage failure reaches the caller.
func (e *Engine) Enqueue(ctx context.Context, topic string, payload action.Payload) (string, error) {
	if _, err := action.NormalizeTopic(topic); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	if _, err := action.ParsePayload(payload); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	id, err := e.store.Enqueue(ctx, topic, payload)
	if err != nil {
		return "", NewStorageError("enqueue", err)
	}
	e.metrics.IncEnqueued()
	e.log.Debug("action enqueued", map[string]any{"item": id, "topic": topic})
	return id, nil
}

// List returns queued actions matching f, oldest first.
func (e *Engine) List(ctx context.Context, f action.Filter) ([]action.Item, error) {
	items, err := e.store.List(ctx, f)
	if err != nil {
		return nil, NewStorageError("list actions", err)
	}
	return items, nil
}

// Counts backs the queued/error badges.
func (e *Engine) Counts(ctx context.Context, topic string) (action.Counts, error) {
	c, err := e.store.Counts(ctx, topic)
	if err != nil {
		return action.Counts{}, NewStorageError("count actions", err)
	}
	return c, nil
}

// --- Operator operations ---

// SyncNow replays every queued action ("sync now").
func (e *Engine) SyncNow(ctx context.Context) (SyncReport, error) {
	return e.completed(e.orch.SyncAll(ctx, SyncOptions{}))
}

// ResyncAll also resubmits actions parked in Error ("resync all").
func (e *Engine) ResyncAll(ctx context.Context) (SyncReport, error) {
	return e.completed(e.orch.SyncAll(ctx, SyncOptions{DoReSync: true}))
}

// SyncSelected replays the given actions, including parked ones.
func (e *Engine) SyncSelected(ctx context.Context, ids []string) (SyncReport, error) {
	return e.completed(e.orch.SyncIDs(ctx, ids))
}

func (e *Engine) completed(r SyncReport, err error) (SyncReport, error) {
	if err == nil && !r.Coalesced {
		e.notify(func(ctx context.Context) error { return e.notifier.SyncCompleted(ctx, r) })
	}
	return r, err
}

// DeleteSelected removes actions by id ("delete selected").
func (e *Engine) DeleteSelected(ctx context.Context, ids []string) (int, error) {
	n, err := e.store.DeleteMany(ctx, ids)
	if err != nil {
		return 0, NewStorageError("delete actions", err)
	}
	e.metrics.AddDeleted(n)
	e.log.Info("actions deleted", map[string]any{"requested": len(ids), "deleted": n})
	return n, nil
}

// ExportSelected builds the export document ("export selected as file").
// No ids means every action in the queue.
func (e *Engine) ExportSelected(ctx context.Context, ids []string) (action.Export, error) {
	var (
		items []action.Item
		err   error
	)
	if len(ids) == 0 {
		items, err = e.store.List(ctx, action.Filter{})
	} else {
		items, err = e.store.GetMany(ctx, ids)
	}
	if err != nil {
		return action.Export{}, NewStorageError("export actions", err)
	}
	return action.Export{DeviceID: e.deviceID, Actions: items}, nil
}

// --- Network ---

// State returns the current network state.
func (e *Engine) State() netstate.State {
	return e.manager.State()
}

// SetNetwork applies a policy update (forced/auto offline, slow network).
// A no-op update returns a POLICY_CONFLICT error describing the unchanged
// state; callers treat it as informational.
func (e *Engine) SetNetwork(ctx context.Context, p netstate.Partial) (netstate.Change, error) {
	c, ok := e.manager.SetState(ctx, p)
	if !ok {
		return netstate.Change{}, NewPolicyConflict(e.manager.State().String())
	}
	return c, nil
}

// ReportConnectivity records an observed connectivity change.
func (e *Engine) ReportConnectivity(ctx context.Context, online bool) (netstate.Change, bool) {
	return e.manager.ReportConnectivity(ctx, online)
}

// CheckNetwork forces a fresh connectivity and speed reading.
func (e *Engine) CheckNetwork(ctx context.Context) netstate.State {
	return e.manager.CheckState(ctx)
}

// NetworkHistory returns state transitions recorded since the given time.
func (e *Engine) NetworkHistory(ctx context.Context, since time.Time) ([]netstate.HistoryEntry, error) {
	h, err := e.store.NetworkHistory(ctx, since)
	if err != nil {
		return nil, NewStorageError("network history", err)
	}
	return h, nil
}

// --- Introspection ---

// DeviceID returns the device id resolved at Init.
func (e *Engine) DeviceID() string {
	return e.deviceID
}

// Metrics returns a snapshot of the engine counters.
func (e *Engine) Metrics() metrics.Snapshot {
	s := e.metrics.Snapshot()
	if s.DeviceID == "" {
		s.DeviceID = e.deviceID
	}
	return s
}

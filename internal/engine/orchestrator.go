package engine

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/log"
	"github.com/roach88/pwasync/internal/metrics"
	"github.com/roach88/pwasync/internal/store"
)

// DefaultItemTimeout bounds a single transport call.
const DefaultItemTimeout = 30 * time.Second

// Transport delivers one action to the server.
//
// A non-nil error means the call never produced a server answer (network
// failure, timeout) and is treated as retryable. Otherwise the Result
// decides the outcome.
type Transport interface {
	Send(ctx context.Context, item action.Item) (action.Result, error)
}

// QueueStore is the part of store.Store the orchestrator drives.
type QueueStore interface {
	List(ctx context.Context, f action.Filter) ([]action.Item, error)
	GetMany(ctx context.Context, ids []string) ([]action.Item, error)
	MarkSyncing(ctx context.Context, id string) error
	MarkAttempt(ctx context.Context, id string, outcome action.Outcome, itemErr *action.ItemError) error
	Requeue(ctx context.Context, ids []string) (int, error)
}

// Gate is consulted before every dispatch.
type Gate interface {
	IsOnline() bool
}

// GateFunc adapts a function to Gate.
type GateFunc func() bool

// IsOnline implements Gate.
func (f GateFunc) IsOnline() bool { return f() }

// SyncOptions configures SyncAll.
type SyncOptions struct {
	// DoReSync also resubmits items parked in Error.
	DoReSync bool
}

// SyncReport aggregates one pass.
type SyncReport struct {
	Succeeded int `json:"succeeded"`
	Retried   int `json:"retried"`
	Failed    int `json:"failed"`
	// Skipped counts items left untouched: the client went offline, the
	// context was cancelled, or the item was no longer Queued.
	Skipped int `json:"skipped"`
	// Coalesced is set on the report returned to a call that joined an
	// in-flight pass instead of running its own.
	Coalesced bool     `json:"coalesced"`
	Errors    []*Error `json:"errors"`
}

// Attempted returns the number of items dispatched.
func (r SyncReport) Attempted() int {
	return r.Succeeded + r.Retried + r.Failed
}

// clone returns a copy that does not share the Errors backing array.
func (r SyncReport) clone() SyncReport {
	out := r
	out.Errors = make([]*Error, len(r.Errors))
	copy(out.Errors, r.Errors)
	return out
}

// flight is one running pass.
type flight struct {
	key    string
	done   chan struct{}
	report SyncReport
	err    error
}

// Orchestrator replays queued actions against a Transport.
//
// Thread-safety: SyncIDs and SyncAll are safe to call from any goroutine.
// Passes never overlap; see the package doc for the coalescing rules.
type Orchestrator struct {
	store       QueueStore
	transport   Transport
	gate        Gate
	itemTimeout time.Duration
	log         *log.Logger
	metrics     *metrics.Collector

	mu       sync.Mutex
	inflight *flight
	waiters  int // calls blocked on inflight
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithGate sets the online check made before each dispatch. Without one,
// every item is dispatched.
func WithGate(g Gate) OrchestratorOption {
	return func(o *Orchestrator) { o.gate = g }
}

// WithItemTimeout bounds each transport call.
//
// Default: 30s (DefaultItemTimeout)
func WithItemTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		if d > 0 {
			o.itemTimeout = d
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(l *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.log = l }
}

// WithOrchestratorMetrics sets the metrics collector.
func WithOrchestratorMetrics(c *metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = c }
}

// NewOrchestrator creates an orchestrator over q and t.
func NewOrchestrator(q QueueStore, t Transport, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		store:       q,
		transport:   t,
		gate:        GateFunc(func() bool { return true }),
		itemTimeout: DefaultItemTimeout,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = log.OrNop(o.log).Named("sync")
	return o
}

// SyncAll replays every Queued item, oldest first. With DoReSync, Error
// items are moved back to Queued first and replayed in the same pass.
//
// The queue is read once at the start of the pass; items enqueued while the
// pass runs wait for the next one.
func (o *Orchestrator) SyncAll(ctx context.Context, opts SyncOptions) (SyncReport, error) {
	key := "all"
	if opts.DoReSync {
		key = "all+resync"
	}
	return o.do(ctx, key, func(ctx context.Context) (SyncReport, error) {
		if opts.DoReSync {
			parked, err := o.store.List(ctx, action.Filter{Statuses: []action.Status{action.StatusError}})
			if err != nil {
				return SyncReport{Errors: []*Error{}}, NewStorageError("list error items", err)
			}
			if _, err := o.store.Requeue(ctx, itemIDs(parked)); err != nil {
				return SyncReport{Errors: []*Error{}}, NewStorageError("requeue error items", err)
			}
		}

		items, err := o.store.List(ctx, action.Filter{Statuses: []action.Status{action.StatusQueued}})
		if err != nil {
			return SyncReport{Errors: []*Error{}}, NewStorageError("list queued items", err)
		}
		return o.pass(ctx, items)
	})
}

// SyncIDs replays the given items in FIFO order, whatever order ids are
// passed in. Selected Error items count as an explicit user retry and are
// requeued first. Unknown ids are ignored.
func (o *Orchestrator) SyncIDs(ctx context.Context, ids []string) (SyncReport, error) {
	key := "ids:" + strings.Join(sortedUnique(ids), ",")
	return o.do(ctx, key, func(ctx context.Context) (SyncReport, error) {
		if len(ids) == 0 {
			return SyncReport{Errors: []*Error{}}, nil
		}
		if _, err := o.store.Requeue(ctx, ids); err != nil {
			return SyncReport{Errors: []*Error{}}, NewStorageError("requeue selected items", err)
		}
		items, err := o.store.GetMany(ctx, ids)
		if err != nil {
			return SyncReport{Errors: []*Error{}}, NewStorageError("load selected items", err)
		}
		return o.pass(ctx, items)
	})
}

// do runs fn under the single in-flight guard.
//
// If no pass is running, fn runs now. If a pass with the same key is
// running, the caller waits for it and receives its report marked
// Coalesced. If a different pass is running, the caller waits for it to
// finish and tries again.
func (o *Orchestrator) do(ctx context.Context, key string, fn func(context.Context) (SyncReport, error)) (SyncReport, error) {
	for {
		o.mu.Lock()
		f := o.inflight
		if f == nil {
			f = &flight{key: key, done: make(chan struct{})}
			o.inflight = f
			o.mu.Unlock()
			return o.run(ctx, f, fn)
		}
		o.waiters++
		o.mu.Unlock()

		var err error
		select {
		case <-f.done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		o.mu.Lock()
		o.waiters--
		o.mu.Unlock()
		if err != nil {
			return SyncReport{Errors: []*Error{}}, err
		}

		if f.key == key {
			report := f.report.clone()
			report.Coalesced = true
			o.metrics.IncSyncCoalesced()
			o.log.Debug("sync call coalesced with in-flight pass", map[string]any{"key": key})
			return report, f.err
		}
	}
}

func (o *Orchestrator) run(ctx context.Context, f *flight, fn func(context.Context) (SyncReport, error)) (SyncReport, error) {
	defer func() {
		o.mu.Lock()
		o.inflight = nil
		o.mu.Unlock()
		close(f.done)
	}()

	f.report, f.err = fn(ctx)
	return f.report.clone(), f.err
}

// Waiting returns how many calls are blocked behind the running pass.
func (o *Orchestrator) Waiting() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.waiters
}

// pass dispatches items sequentially. It never stops on an item failure.
// A storage failure ends the pass and is returned with the partial report.
func (o *Orchestrator) pass(ctx context.Context, items []action.Item) (SyncReport, error) {
	report := SyncReport{Errors: []*Error{}}
	start := time.Now()

	o.log.Info("sync pass starting", map[string]any{"items": len(items)})

	for i, item := range items {
		if ctx.Err() != nil || !o.gate.IsOnline() {
			report.Skipped += len(items) - i
			o.log.Info("sync pass stopped early", map[string]any{
				"remaining": len(items) - i,
				"cancelled": ctx.Err() != nil,
			})
			break
		}

		if err := o.store.MarkSyncing(ctx, item.ID); err != nil {
			if errors.Is(err, store.ErrNotFound) || errors.Is(err, store.ErrStatusConflict) {
				report.Skipped++
				o.log.Debug("item no longer queued, skipping", map[string]any{"item": item.ID, "error": err})
				continue
			}
			o.finish(&report, start)
			return report, NewStorageError("mark syncing", err)
		}

		outcome, itemErr := o.dispatch(ctx, item)

		// The outcome is recorded even if ctx was cancelled mid-call.
		if err := o.store.MarkAttempt(context.WithoutCancel(ctx), item.ID, outcome, itemErr); err != nil {
			o.finish(&report, start)
			return report, NewStorageError("record attempt", err)
		}

		switch outcome {
		case action.OutcomeSuccess:
			report.Succeeded++
		case action.OutcomeRetryable:
			report.Retried++
			report.Errors = append(report.Errors, NewRetryableError(item.ID, itemErr.Message, nil))
		case action.OutcomeFatal:
			report.Failed++
			report.Errors = append(report.Errors, NewFatalError(item.ID, itemErr.ID, itemErr.Message))
		}
		o.log.Debug("item dispatched", map[string]any{
			"item":    item.ID,
			"topic":   item.Topic,
			"outcome": outcome.String(),
		})
	}

	o.finish(&report, start)
	return report, nil
}

func (o *Orchestrator) finish(report *SyncReport, start time.Time) {
	o.metrics.RecordSyncPass(report.Succeeded, report.Retried, report.Failed, report.Skipped)
	o.log.Info("sync pass finished", map[string]any{
		"succeeded": report.Succeeded,
		"retried":   report.Retried,
		"failed":    report.Failed,
		"skipped":   report.Skipped,
		"elapsed":   time.Since(start).String(),
	})
}

// dispatch sends one item and classifies the answer.
func (o *Orchestrator) dispatch(ctx context.Context, item action.Item) (action.Outcome, *action.ItemError) {
	callCtx, cancel := context.WithTimeout(ctx, o.itemTimeout)
	defer cancel()

	res, err := o.transport.Send(callCtx, item)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "transport timeout: " + msg
		}
		return action.OutcomeRetryable, &action.ItemError{Message: msg}
	}

	outcome := res.Classify()
	switch outcome {
	case action.OutcomeSuccess:
		return outcome, nil
	case action.OutcomeRetryable:
		msg := res.ErrorMessage
		if msg == "" {
			msg = "retryable transport failure"
		}
		return outcome, &action.ItemError{ID: res.ErrorID, Message: msg}
	default:
		msg := res.ErrorMessage
		if msg == "" {
			msg = "rejected by server"
		}
		return outcome, &action.ItemError{ID: res.ErrorID, Message: msg}
	}
}

func itemIDs(items []action.Item) []string {
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	return ids
}

func sortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Package metrics provides in-process counters for the sync engine.
//
// The Collector accumulates counters for the life of the process. It is a
// leaf package with no internal dependencies; callers translate their own
// types into the plain counts recorded here.
package metrics

import "sync"

// Snapshot is an immutable point-in-time view of all counters.
// Returned by Collector.Snapshot(). Safe to read concurrently after creation.
type Snapshot struct {
	// Sync passes
	SyncPasses     int64 `json:"syncPasses"`
	SyncCoalesced  int64 `json:"syncCoalesced"`
	ItemsSucceeded int64 `json:"itemsSucceeded"`
	ItemsRetried   int64 `json:"itemsRetried"`
	ItemsFailed    int64 `json:"itemsFailed"`
	ItemsSkipped   int64 `json:"itemsSkipped"`

	// Queue
	Enqueued int64 `json:"enqueued"`
	Deleted  int64 `json:"deleted"`

	// Network
	StateChanges  int64 `json:"stateChanges"`
	WentOnline    int64 `json:"wentOnline"`
	WentOffline   int64 `json:"wentOffline"`
	NotifyFailure int64 `json:"notifyFailure"`

	// Dimensions (informational, set at construction)
	DeviceID string `json:"deviceId,omitempty"`
}

// Collector accumulates engine counters.
// Thread-safe via sync.Mutex. All methods are nil-receiver safe.
type Collector struct {
	mu sync.Mutex

	syncPasses     int64
	syncCoalesced  int64
	itemsSucceeded int64
	itemsRetried   int64
	itemsFailed    int64
	itemsSkipped   int64

	enqueued int64
	deleted  int64

	stateChanges  int64
	wentOnline    int64
	wentOffline   int64
	notifyFailure int64

	deviceID string
}

// NewCollector creates a Collector labelled with the device id.
func NewCollector(deviceID string) *Collector {
	return &Collector{deviceID: deviceID}
}

// --- Sync ---

// RecordSyncPass records one completed replay pass and its per-item tallies.
func (c *Collector) RecordSyncPass(succeeded, retried, failed, skipped int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.syncPasses++
	c.itemsSucceeded += int64(succeeded)
	c.itemsRetried += int64(retried)
	c.itemsFailed += int64(failed)
	c.itemsSkipped += int64(skipped)
	c.mu.Unlock()
}

// IncSyncCoalesced records a sync call that joined an in-flight pass.
func (c *Collector) IncSyncCoalesced() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.syncCoalesced++
	c.mu.Unlock()
}

// --- Queue ---

// IncEnqueued records a newly queued action.
func (c *Collector) IncEnqueued() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.enqueued++
	c.mu.Unlock()
}

// AddDeleted records n explicitly deleted actions.
func (c *Collector) AddDeleted(n int) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.deleted += int64(n)
	c.mu.Unlock()
}

// --- Network ---

// RecordStateChange records an accepted network state change and whether it
// flipped effective connectivity.
func (c *Collector) RecordStateChange(wentOnline, wentOffline bool) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.stateChanges++
	if wentOnline {
		c.wentOnline++
	}
	if wentOffline {
		c.wentOffline++
	}
	c.mu.Unlock()
}

// IncNotifyFailure records an external notification that could not be
// published.
func (c *Collector) IncNotifyFailure() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.notifyFailure++
	c.mu.Unlock()
}

// --- Snapshot ---

// Snapshot returns an immutable point-in-time view of all counters.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SyncPasses:     c.syncPasses,
		SyncCoalesced:  c.syncCoalesced,
		ItemsSucceeded: c.itemsSucceeded,
		ItemsRetried:   c.itemsRetried,
		ItemsFailed:    c.itemsFailed,
		ItemsSkipped:   c.itemsSkipped,

		Enqueued: c.enqueued,
		Deleted:  c.deleted,

		StateChanges:  c.stateChanges,
		WentOnline:    c.wentOnline,
		WentOffline:   c.wentOffline,
		NotifyFailure: c.notifyFailure,

		DeviceID: c.deviceID,
	}
}

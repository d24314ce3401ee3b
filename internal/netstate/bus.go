package netstate

import (
	"sort"
	"sync"

	"github.com/roach88/pwasync/internal/log"
)

// bus delivers changes to subscribers in the order they were published.
//
// Publish only appends; delivery happens in drain, which at most one
// goroutine runs at a time. A publisher that finds a drain in progress
// leaves its change for the active drainer, so a subscriber may call back
// into the manager without deadlocking.
//
// Thread-safety: all methods are safe for concurrent use.
type bus struct {
	mu      sync.Mutex
	pending []Change
	closed  bool
	subs    map[int]func(Change)
	nextID  int

	deliverMu sync.Mutex
	log       *log.Logger
}

func newBus(l *log.Logger) *bus {
	return &bus{
		pending: make([]Change, 0, 8),
		subs:    make(map[int]func(Change)),
		log:     log.OrNop(l),
	}
}

// subscribe registers fn and returns its unsubscribe handle. The handle is
// safe to call more than once.
func (b *bus) subscribe(fn func(Change)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// publish appends c to the pending list. Returns false once closed.
func (b *bus) publish(c Change) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return false
	}
	b.pending = append(b.pending, c)
	return true
}

func (b *bus) tryDequeue() (Change, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.pending) == 0 {
		return Change{}, false
	}
	c := b.pending[0]
	b.pending[0] = Change{}
	if len(b.pending) == 1 {
		b.pending = b.pending[:0]
	} else {
		b.pending = b.pending[1:]
	}
	return c, true
}

func (b *bus) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// drain delivers every pending change. If another goroutine is already
// draining, it returns immediately and that goroutine delivers ours.
func (b *bus) drain() {
	for {
		if !b.deliverMu.TryLock() {
			return
		}
		for {
			c, ok := b.tryDequeue()
			if !ok {
				break
			}
			b.deliver(c)
		}
		b.deliverMu.Unlock()

		// A publish may have landed between the last dequeue and Unlock.
		if b.len() == 0 {
			return
		}
	}
}

func (b *bus) deliver(c Change) {
	for _, fn := range b.snapshot() {
		b.call(fn, c)
	}
}

// snapshot returns subscribers in registration order.
func (b *bus) snapshot() []func(Change) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]int, 0, len(b.subs))
	for id := range b.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Change), len(ids))
	for i, id := range ids {
		fns[i] = b.subs[id]
	}
	return fns
}

func (b *bus) call(fn func(Change), c Change) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("network change subscriber panicked", map[string]any{"panic": r})
		}
	}()
	fn(c)
}

// close stops accepting changes. Already pending changes are dropped.
func (b *bus) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.pending = nil
}

// Package speed measures outbound request timings and derives the
// "network is slow" signal used for auto-offline.
//
// Samples are kept in a time-bounded rolling window. Eviction is by age,
// never by count, so bursty traffic cannot grow memory without bound or
// push older evidence out early.
package speed

import (
	"strings"
	"sync"
	"time"

	"github.com/roach88/pwasync/internal/log"
)

// Defaults for NewMonitor.
const (
	DefaultRetention       = 10 * time.Minute
	DefaultWindow          = 5 * time.Minute
	DefaultLivenessPattern = "/ping"
)

// Sample is one completed outbound request. Immutable after creation.
type Sample struct {
	Timestamp time.Time
	// Duration is network-only when the server reported its processing
	// time, otherwise total wall-clock time.
	Duration    time.Duration
	SizeBits    int64
	Method      string
	RelativeURL string
	// FromCache marks responses served by a cache. They are never recorded.
	FromCache bool
}

// DurationSeconds returns Duration as float seconds.
func (s Sample) DurationSeconds() float64 {
	return s.Duration.Seconds()
}

// Monitor keeps recent samples and answers speed questions about them.
// Safe for concurrent use.
type Monitor struct {
	mu        sync.Mutex
	samples   []Sample // ordered by Timestamp
	retention time.Duration
	window    time.Duration
	pattern   string
	now       func() time.Time
	log       *log.Logger
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRetention sets how long samples are kept at all.
func WithRetention(d time.Duration) Option {
	return func(m *Monitor) { m.retention = d }
}

// WithWindow sets the averaging window IsSlow uses when none is given.
func WithWindow(d time.Duration) Option {
	return func(m *Monitor) { m.window = d }
}

// WithLivenessPattern sets the URL substring that identifies the periodic
// liveness calls the average is computed over. Empty matches every sample.
func WithLivenessPattern(p string) Option {
	return func(m *Monitor) { m.pattern = p }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Monitor) { m.log = l }
}

// NewMonitor creates a monitor with the given options.
func NewMonitor(opts ...Option) *Monitor {
	m := &Monitor{
		retention: DefaultRetention,
		window:    DefaultWindow,
		pattern:   DefaultLivenessPattern,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.window > m.retention {
		m.retention = m.window
	}
	m.log = log.OrNop(m.log).Named("speed")
	return m
}

// Window returns the default averaging window.
func (m *Monitor) Window() time.Duration {
	return m.window
}

// RecordSample stores a sample. Cache hits are dropped.
func (m *Monitor) RecordSample(s Sample) {
	if s.FromCache {
		m.log.Debug("skipping cached response sample", map[string]any{"url": s.RelativeURL})
		return
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = m.now()
	}
	if s.Duration < 0 {
		s.Duration = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Keep the slice ordered; samples almost always arrive in order.
	i := len(m.samples)
	for i > 0 && m.samples[i-1].Timestamp.After(s.Timestamp) {
		i--
	}
	m.samples = append(m.samples, Sample{})
	copy(m.samples[i+1:], m.samples[i:])
	m.samples[i] = s

	m.evictLocked(m.now())
}

// evictLocked drops samples older than the retention horizon.
func (m *Monitor) evictLocked(now time.Time) {
	horizon := now.Add(-m.retention)
	drop := 0
	for drop < len(m.samples) && m.samples[drop].Timestamp.Before(horizon) {
		drop++
	}
	if drop == 0 {
		return
	}
	// Zero the evicted slots so the backing array does not pin them.
	for i := 0; i < drop; i++ {
		m.samples[i] = Sample{}
	}
	m.samples = m.samples[drop:]
	if len(m.samples) == 0 {
		m.samples = nil
	}
}

// CurrentAverageDuration returns the mean duration in seconds of liveness
// samples recorded within the last window. Returns 0 with no samples.
func (m *Monitor) CurrentAverageDuration(window time.Duration) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	m.evictLocked(now)
	since := now.Add(-window)

	var (
		total float64
		n     int
	)
	for _, s := range m.samples {
		if s.Timestamp.Before(since) {
			continue
		}
		if m.pattern != "" && !strings.Contains(s.RelativeURL, m.pattern) {
			continue
		}
		total += s.DurationSeconds()
		n++
	}
	if n == 0 {
		return 0
	}
	return total / float64(n)
}

// IsSlow reports whether the average over window exceeds threshold. A
// non-positive window falls back to the monitor's default.
func (m *Monitor) IsSlow(threshold, window time.Duration) bool {
	if window <= 0 {
		window = m.window
	}
	return m.CurrentAverageDuration(window) > threshold.Seconds()
}

// Samples returns a copy of the retained samples, oldest first.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictLocked(m.now())
	out := make([]Sample, len(m.samples))
	copy(out, m.samples)
	return out
}

// Len returns the number of retained samples.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.samples)
}

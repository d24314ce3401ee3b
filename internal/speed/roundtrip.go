package speed

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header conventions.
const (
	// DefaultTimingHeader carries server processing time per the W3C
	// Server-Timing spec, e.g. "total;dur=123.4".
	DefaultTimingHeader = "Server-Timing"
	// DefaultCacheHeader marks cache hits when its value starts with "HIT".
	DefaultCacheHeader = "X-Cache"
)

// RoundTripper records a Sample for every request it carries.
type RoundTripper struct {
	// Next is the wrapped transport; nil means http.DefaultTransport.
	Next         http.RoundTripper
	Monitor      *Monitor
	TimingHeader string
	CacheHeader  string
	// Now overrides the wall clock; nil means time.Now.
	Now func() time.Time
}

// NewRoundTripper wraps next so that every request feeds m.
func NewRoundTripper(next http.RoundTripper, m *Monitor) *RoundTripper {
	return &RoundTripper{
		Next:         next,
		Monitor:      m,
		TimingHeader: DefaultTimingHeader,
		CacheHeader:  DefaultCacheHeader,
	}
}

// RoundTrip implements http.RoundTripper. Failed requests are not sampled:
// they carry no usable timing and connectivity loss is reported separately.
func (rt *RoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	next := rt.Next
	if next == nil {
		next = http.DefaultTransport
	}
	now := rt.Now
	if now == nil {
		now = time.Now
	}

	start := now()
	resp, err := next.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	elapsed := now().Sub(start)

	if rt.Monitor != nil {
		rt.Monitor.RecordSample(rt.sampleFor(req, resp, start, elapsed))
	}
	return resp, nil
}

func (rt *RoundTripper) sampleFor(req *http.Request, resp *http.Response, start time.Time, elapsed time.Duration) Sample {
	network := elapsed
	if server, ok := ParseServerTiming(resp.Header.Get(rt.timingHeader())); ok && server < elapsed {
		network = elapsed - server
	}

	var size int64
	if req.ContentLength > 0 {
		size += req.ContentLength
	}
	if resp.ContentLength > 0 {
		size += resp.ContentLength
	}

	return Sample{
		Timestamp:   start,
		Duration:    network,
		SizeBits:    size * 8,
		Method:      req.Method,
		RelativeURL: req.URL.RequestURI(),
		FromCache:   IsCacheHit(resp.Header.Get(rt.cacheHeader())),
	}
}

func (rt *RoundTripper) timingHeader() string {
	if rt.TimingHeader == "" {
		return DefaultTimingHeader
	}
	return rt.TimingHeader
}

func (rt *RoundTripper) cacheHeader() string {
	if rt.CacheHeader == "" {
		return DefaultCacheHeader
	}
	return rt.CacheHeader
}

// IsCacheHit interprets a cache indicator header value.
func IsCacheHit(value string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(value)), "HIT")
}

// ParseServerTiming extracts server processing time from a Server-Timing
// header. The "total" metric wins; otherwise the largest dur is used.
func ParseServerTiming(header string) (time.Duration, bool) {
	if strings.TrimSpace(header) == "" {
		return 0, false
	}

	var (
		best  float64
		found bool
	)
	for _, metric := range strings.Split(header, ",") {
		parts := strings.Split(metric, ";")
		name := strings.TrimSpace(parts[0])
		for _, p := range parts[1:] {
			k, v, ok := strings.Cut(strings.TrimSpace(p), "=")
			if !ok || !strings.EqualFold(k, "dur") {
				continue
			}
			ms, err := strconv.ParseFloat(strings.Trim(v, `"`), 64)
			if err != nil || !validMillis(ms) {
				continue
			}
			if strings.EqualFold(name, "total") {
				return msToDuration(ms), true
			}
			if !found || ms > best {
				best = ms
				found = true
			}
		}
	}
	if !found {
		return 0, false
	}
	return msToDuration(best), true
}

// validMillis rejects values that do not fit a time.Duration.
func validMillis(ms float64) bool {
	if math.IsNaN(ms) || math.IsInf(ms, 0) || ms < 0 {
		return false
	}
	return ms*float64(time.Millisecond) < math.MaxInt64
}

func msToDuration(ms float64) time.Duration {
	return time.Duration(ms * float64(time.Millisecond))
}

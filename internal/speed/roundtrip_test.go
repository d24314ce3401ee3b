package speed

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/pwasync/internal/testutil"
)

func TestParseServerTiming(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
		ok     bool
	}{
		{"empty", "", 0, false},
		{"total wins", "db;dur=50, total;dur=120.5, app;dur=300", 120500 * time.Microsecond, true},
		{"largest without total", "db;dur=50, app;dur=75", 75 * time.Millisecond, true},
		{"quoted", `app;desc="handler";dur="12"`, 12 * time.Millisecond, true},
		{"no dur", "cache;desc=miss", 0, false},
		{"garbage dur", "app;dur=abc", 0, false},
		{"negative dur", "total;dur=-5", 0, false},
		{"infinite dur", "total;dur=inf", 0, false},
		{"nan dur", "total;dur=NaN", 0, false},
		{"overflowing dur", "total;dur=1e300", 0, false},
		{"invalid total falls back", "total;dur=inf, app;dur=20", 20 * time.Millisecond, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseServerTiming(tt.header)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsCacheHit(t *testing.T) {
	assert.True(t, IsCacheHit("HIT"))
	assert.True(t, IsCacheHit(" hit from edge"))
	assert.False(t, IsCacheHit("MISS"))
	assert.False(t, IsCacheHit(""))
}

func TestRoundTripper_SubtractsServerTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server-Timing", "total;dur=400")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	clock := testutil.NewSteppingClock(time.Second)
	m := NewMonitor(WithLivenessPattern(""), WithClock(clock.Now))
	rt := NewRoundTripper(srv.Client().Transport, m)
	rt.Now = clock.Now

	client := &http.Client{Transport: rt}
	resp, err := client.Get(srv.URL + "/ping?x=1")
	require.NoError(t, err)
	resp.Body.Close()

	samples := m.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, 600*time.Millisecond, samples[0].Duration)
	assert.Equal(t, http.MethodGet, samples[0].Method)
	assert.Equal(t, "/ping?x=1", samples[0].RelativeURL)
}

func TestRoundTripper_CacheHitNotRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Cache", "HIT")
	}))
	defer srv.Close()

	m := NewMonitor()
	client := &http.Client{Transport: NewRoundTripper(srv.Client().Transport, m)}
	resp, err := client.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, 0, m.Len())
}

func TestRoundTripper_FailedRequestNotRecorded(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	m := NewMonitor()
	client := &http.Client{Transport: NewRoundTripper(nil, m)}
	_, err := client.Get(url + "/ping")
	require.Error(t, err)

	assert.Equal(t, 0, m.Len())
}

func TestRoundTripper_NoTimingHeaderUsesWallTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	clock := testutil.NewSteppingClock(2 * time.Second)
	m := NewMonitor(WithClock(clock.Now))
	rt := NewRoundTripper(srv.Client().Transport, m)
	rt.Now = clock.Now

	client := &http.Client{Transport: rt}
	resp, err := client.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()

	samples := m.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, 2*time.Second, samples[0].Duration)
}

func TestRoundTripper_MalformedTimingUsesWallTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server-Timing", "total;dur=1e300")
	}))
	defer srv.Close()

	clock := testutil.NewSteppingClock(3 * time.Second)
	m := NewMonitor(WithClock(clock.Now))
	rt := NewRoundTripper(srv.Client().Transport, m)
	rt.Now = clock.Now

	client := &http.Client{Transport: rt}
	resp, err := client.Get(srv.URL + "/ping")
	require.NoError(t, err)
	resp.Body.Close()

	samples := m.Samples()
	require.Len(t, samples, 1)
	assert.Equal(t, 3*time.Second, samples[0].Duration)
	assert.True(t, m.IsSlow(time.Second, 0))
}

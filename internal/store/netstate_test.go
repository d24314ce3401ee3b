package store

import (
	"errors"
	"testing"
	"time"

	"github.com/roach88/pwasync/internal/netstate"
)

func TestLoadNetworkState_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, _, err := s.LoadNetworkState(t.Context())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadNetworkState() error = %v, want ErrNotFound", err)
	}
}

func TestSaveNetworkState_RoundTripAndReplace(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	first := netstate.State{BrowserOnline: true, AutoOffline: true}
	if err := s.SaveNetworkState(ctx, first, at); err != nil {
		t.Fatalf("SaveNetworkState() failed: %v", err)
	}
	second := netstate.State{BrowserOnline: true, ForcedOffline: true, SlowNetwork: true}
	if err := s.SaveNetworkState(ctx, second, at.Add(time.Minute)); err != nil {
		t.Fatalf("SaveNetworkState() failed: %v", err)
	}

	got, savedAt, err := s.LoadNetworkState(ctx)
	if err != nil {
		t.Fatalf("LoadNetworkState() failed: %v", err)
	}
	if got != second {
		t.Errorf("LoadNetworkState() = %+v, want %+v", got, second)
	}
	if !savedAt.Equal(at.Add(time.Minute)) {
		t.Errorf("savedAt = %v, want %v", savedAt, at.Add(time.Minute))
	}
}

func TestAppendNetworkHistory_PrunesPastRetention(t *testing.T) {
	s := createTestStore(t, WithHistoryRetention(time.Hour))
	ctx := t.Context()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	states := []netstate.State{
		{BrowserOnline: true},
		{BrowserOnline: false},
		{BrowserOnline: true, ForcedOffline: true},
	}
	offsets := []time.Duration{0, 30 * time.Minute, 90 * time.Minute}
	for i, st := range states {
		if err := s.AppendNetworkHistory(ctx, st, start.Add(offsets[i])); err != nil {
			t.Fatalf("AppendNetworkHistory() failed: %v", err)
		}
	}

	entries, err := s.NetworkHistory(ctx, time.Time{})
	if err != nil {
		t.Fatalf("NetworkHistory() failed: %v", err)
	}
	// The first entry is older than 90m - 1h and must be gone.
	if len(entries) != 2 {
		t.Fatalf("NetworkHistory() returned %d entries, want 2", len(entries))
	}
	if entries[0].State != states[1] || entries[1].State != states[2] {
		t.Errorf("entries = %+v", entries)
	}
	if !entries[0].RecordedAt.Equal(start.Add(30 * time.Minute)) {
		t.Errorf("entries[0].RecordedAt = %v", entries[0].RecordedAt)
	}
}

func TestNetworkHistory_Since(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		if err := s.AppendNetworkHistory(ctx, netstate.Default(), start.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("AppendNetworkHistory() failed: %v", err)
		}
	}

	entries, err := s.NetworkHistory(ctx, start.Add(time.Minute))
	if err != nil {
		t.Fatalf("NetworkHistory() failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("NetworkHistory(since) returned %d entries, want 2", len(entries))
	}
}

package netstate

import (
	"fmt"
	"strings"
	"time"
)

// Field names one of the four connectivity flags.
type Field string

const (
	FieldBrowserOnline Field = "browserOnline"
	FieldForcedOffline Field = "forcedOffline"
	FieldAutoOffline   Field = "autoOffline"
	FieldSlowNetwork   Field = "slowNetwork"
)

// State is an immutable snapshot of the connectivity flags. The zero value
// is a valid (offline) state; Default() is what a fresh device starts with.
type State struct {
	BrowserOnline bool
	ForcedOffline bool
	AutoOffline   bool
	SlowNetwork   bool
}

// Default returns the state used when nothing has been persisted yet.
func Default() State {
	return State{BrowserOnline: true}
}

// IsOnline reports whether the engine may talk to the server.
func (s State) IsOnline() bool {
	return s.BrowserOnline && !s.ForcedOffline && !(s.AutoOffline && s.SlowNetwork)
}

// IsOfflineVirtually reports a reachable transport that policy treats as offline.
func (s State) IsOfflineVirtually() bool {
	return s.BrowserOnline && !s.IsOnline()
}

// Flags is the serialized form of a State.
type Flags struct {
	BrowserOnline bool `json:"browserOnline"`
	ForcedOffline bool `json:"forcedOffline"`
	AutoOffline   bool `json:"autoOffline"`
	SlowNetwork   bool `json:"slowNetwork"`
}

// Serialize returns the flags object.
func (s State) Serialize() Flags {
	return Flags(s)
}

// FromFlags rebuilds a State from its serialized form.
func FromFlags(f Flags) State {
	return State(f)
}

// Equal reports whether both states carry the same flags.
func (s State) Equal(other State) bool {
	return s == other
}

// String renders a human label, e.g. "online" or
// "offline (virtual: forced)". Two states with the same label are equal.
func (s State) String() string {
	var b strings.Builder
	switch {
	case s.IsOnline():
		b.WriteString("online")
	case s.IsOfflineVirtually():
		b.WriteString("offline (virtual")
		var reasons []string
		if s.ForcedOffline {
			reasons = append(reasons, "forced")
		}
		if s.AutoOffline && s.SlowNetwork {
			reasons = append(reasons, "slow network")
		}
		b.WriteString(": " + strings.Join(reasons, ", ") + ")")
	default:
		b.WriteString("offline")
	}
	fmt.Fprintf(&b, " [browser=%s forced=%s auto=%s slow=%s]",
		onOff(s.BrowserOnline), onOff(s.ForcedOffline), onOff(s.AutoOffline), onOff(s.SlowNetwork))
	return b.String()
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// Diff lists the fields whose value differs between s and other, in a
// fixed order.
func (s State) Diff(other State) []Field {
	var fields []Field
	if s.BrowserOnline != other.BrowserOnline {
		fields = append(fields, FieldBrowserOnline)
	}
	if s.ForcedOffline != other.ForcedOffline {
		fields = append(fields, FieldForcedOffline)
	}
	if s.AutoOffline != other.AutoOffline {
		fields = append(fields, FieldAutoOffline)
	}
	if s.SlowNetwork != other.SlowNetwork {
		fields = append(fields, FieldSlowNetwork)
	}
	return fields
}

// Partial is a policy update. Nil fields are left unchanged. BrowserOnline
// is deliberately absent: only the transport layer may set it, through
// Manager.ReportConnectivity.
type Partial struct {
	ForcedOffline *bool
	AutoOffline   *bool
	SlowNetwork   *bool
}

// Bool is a helper for building Partial literals.
func Bool(v bool) *bool {
	return &v
}

// Empty reports whether the partial carries no fields.
func (p Partial) Empty() bool {
	return p.ForcedOffline == nil && p.AutoOffline == nil && p.SlowNetwork == nil
}

// Merge returns a new State with p applied on top of s.
func (s State) Merge(p Partial) State {
	next := s
	if p.ForcedOffline != nil {
		next.ForcedOffline = *p.ForcedOffline
	}
	if p.AutoOffline != nil {
		next.AutoOffline = *p.AutoOffline
	}
	if p.SlowNetwork != nil {
		next.SlowNetwork = *p.SlowNetwork
	}
	return next
}

// Change is delivered to subscribers for every accepted state change.
type Change struct {
	Previous State
	Current  State
	Changed  []Field
	At       time.Time
}

// WentOnline reports a transition from offline to online.
func (c Change) WentOnline() bool {
	return !c.Previous.IsOnline() && c.Current.IsOnline()
}

// WentOffline reports a transition from online to offline.
func (c Change) WentOffline() bool {
	return c.Previous.IsOnline() && !c.Current.IsOnline()
}

// HistoryEntry is one record of the transition log.
type HistoryEntry struct {
	State      State
	RecordedAt time.Time
}

// PollConfig controls the speed poll loop.
type PollConfig struct {
	Interval      time.Duration `json:"interval"`
	SlowThreshold time.Duration `json:"slowThreshold"`
	Window        time.Duration `json:"window"`
}

// DefaultPollConfig returns the built-in polling configuration.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		Interval:      30 * time.Second,
		SlowThreshold: 1500 * time.Millisecond,
		Window:        5 * time.Minute,
	}
}

// WithDefaults fills zero fields from DefaultPollConfig.
func (c PollConfig) WithDefaults() PollConfig {
	d := DefaultPollConfig()
	if c.Interval <= 0 {
		c.Interval = d.Interval
	}
	if c.SlowThreshold <= 0 {
		c.SlowThreshold = d.SlowThreshold
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	return c
}

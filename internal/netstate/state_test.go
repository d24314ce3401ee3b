package netstate

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestState_IsOnline_AllCombinations(t *testing.T) {
	for i := 0; i < 16; i++ {
		s := State{
			BrowserOnline: i&1 != 0,
			ForcedOffline: i&2 != 0,
			AutoOffline:   i&4 != 0,
			SlowNetwork:   i&8 != 0,
		}
		want := s.BrowserOnline && !s.ForcedOffline && !(s.AutoOffline && s.SlowNetwork)
		assert.Equal(t, want, s.IsOnline(), "state %+v", s)
		assert.Equal(t, s.BrowserOnline && !want, s.IsOfflineVirtually(), "state %+v", s)
	}
}

func TestDefault_IsOnline(t *testing.T) {
	assert.True(t, Default().IsOnline())
	assert.False(t, State{}.IsOnline())
}

func TestState_SlowWithoutAutoOfflineStaysOnline(t *testing.T) {
	s := State{BrowserOnline: true, SlowNetwork: true}
	assert.True(t, s.IsOnline())
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Default(), "online [browser=on forced=off auto=off slow=off]"},
		{State{}, "offline [browser=off forced=off auto=off slow=off]"},
		{State{BrowserOnline: true, ForcedOffline: true}, "offline (virtual: forced) [browser=on forced=on auto=off slow=off]"},
		{
			State{BrowserOnline: true, ForcedOffline: true, AutoOffline: true, SlowNetwork: true},
			"offline (virtual: forced, slow network) [browser=on forced=on auto=on slow=on]",
		},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}

func TestState_SerializeRoundTrip(t *testing.T) {
	s := State{BrowserOnline: true, AutoOffline: true}

	data, err := json.Marshal(s.Serialize())
	require.NoError(t, err)
	assert.JSONEq(t, `{"browserOnline":true,"forcedOffline":false,"autoOffline":true,"slowNetwork":false}`, string(data))

	var f Flags
	require.NoError(t, json.Unmarshal(data, &f))
	assert.True(t, FromFlags(f).Equal(s))
}

func TestState_Diff(t *testing.T) {
	a := Default()
	b := State{BrowserOnline: false, ForcedOffline: true}

	assert.Equal(t, []Field{FieldBrowserOnline, FieldForcedOffline}, a.Diff(b))
	assert.Empty(t, a.Diff(a))
}

func TestState_Merge(t *testing.T) {
	s := Default()

	next := s.Merge(Partial{AutoOffline: Bool(true)})
	assert.Equal(t, State{BrowserOnline: true, AutoOffline: true}, next)
	// Receiver untouched.
	assert.Equal(t, Default(), s)

	assert.Equal(t, next, next.Merge(Partial{}))
	assert.True(t, Partial{}.Empty())
}

func TestChange_Transitions(t *testing.T) {
	on := Default()
	off := State{}

	assert.True(t, Change{Previous: off, Current: on}.WentOnline())
	assert.False(t, Change{Previous: off, Current: on}.WentOffline())
	assert.True(t, Change{Previous: on, Current: off}.WentOffline())
	assert.False(t, Change{Previous: on, Current: on}.WentOnline())
}

func TestPollConfig_WithDefaults(t *testing.T) {
	c := PollConfig{SlowThreshold: 3 * time.Second}.WithDefaults()
	d := DefaultPollConfig()

	assert.Equal(t, d.Interval, c.Interval)
	assert.Equal(t, d.Window, c.Window)
	assert.Equal(t, 3*time.Second, c.SlowThreshold)
}

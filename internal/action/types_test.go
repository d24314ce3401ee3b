package action

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	for _, s := range []string{"queued", "syncing", "synced", "error"} {
		st, err := ParseStatus(s)
		require.NoError(t, err)
		assert.Equal(t, Status(s), st)
	}

	_, err := ParseStatus("done")
	assert.Error(t, err)
}

func TestOutcome_String(t *testing.T) {
	assert.Equal(t, "success", OutcomeSuccess.String())
	assert.Equal(t, "retryable", OutcomeRetryable.String())
	assert.Equal(t, "fatal", OutcomeFatal.String())
	assert.Equal(t, "outcome(9)", Outcome(9).String())
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload([]byte(`  {"action":"UpdateRow","id":42} `))
	require.NoError(t, err)
	assert.Equal(t, `{"action":"UpdateRow","id":42}`, string(p))

	_, err = ParsePayload([]byte("   "))
	assert.Error(t, err)

	_, err = ParsePayload([]byte("{not json"))
	assert.Error(t, err)
}

func TestItem_JSONKeepsPayloadVerbatim(t *testing.T) {
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	item := Item{
		ID:        "a1",
		Topic:     TopicOffline,
		Payload:   Payload(`{"action":"UpdateRow","id":42}`),
		Status:    StatusQueued,
		CreatedAt: created,
		Seq:       7,
	}

	data, err := json.Marshal(item)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"id":"a1","topic":"offline","payload":{"action":"UpdateRow","id":42},"status":"queued","tries":0,"createdAt":"2026-01-02T03:04:05Z"}`,
		string(data))

	var back Item
	require.NoError(t, json.Unmarshal(data, &back))
	assert.JSONEq(t, string(item.Payload), string(back.Payload))
	assert.Zero(t, back.Seq, "seq is never serialized")
}

func TestItemError_Error(t *testing.T) {
	assert.Equal(t, "denied", (&ItemError{Message: "denied"}).Error())
	assert.Equal(t, "denied (log id 7XK)", (&ItemError{ID: "7XK", Message: "denied"}).Error())
}

func TestNormalizeTopic(t *testing.T) {
	tests := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "offline", want: "offline"},
		{in: "  UI5 ", want: "ui5"},
		{in: "Café", want: "café"},
		{in: "", wantErr: true},
		{in: "two words", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeTopic(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

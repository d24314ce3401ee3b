package action

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of a queued action.
//
//	Queued --dispatch--> Syncing --ok--> [deleted]
//	Syncing --retryable--> Queued
//	Syncing --fatal--> Error
//	Error --user retry / resync--> Queued
type Status string

const (
	StatusQueued  Status = "queued"
	StatusSyncing Status = "syncing"
	StatusSynced  Status = "synced"
	StatusError   Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusQueued, StatusSyncing, StatusSynced, StatusError:
		return true
	}
	return false
}

// ParseStatus converts a user-supplied string into a Status.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("invalid status %q: must be one of queued, syncing, synced, error", s)
	}
	return st, nil
}

// Outcome classifies a single dispatch attempt.
type Outcome int

const (
	// OutcomeSuccess means the server accepted the action. The item is deleted.
	OutcomeSuccess Outcome = iota + 1
	// OutcomeRetryable covers network errors and timeouts. The item goes back to Queued.
	OutcomeRetryable
	// OutcomeFatal means the server rejected the action. The item is parked in Error.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Payload is the opaque action description (action alias, target object,
// serialized task data). It is always valid JSON.
type Payload json.RawMessage

// NewPayload marshals v into a Payload.
func NewPayload(v any) (Payload, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return Payload(data), nil
}

// ParsePayload validates raw bytes as JSON and returns them as a Payload.
func ParsePayload(data []byte) (Payload, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("payload is empty")
	}
	if !json.Valid(trimmed) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return Payload(trimmed), nil
}

// MarshalJSON emits the payload verbatim.
func (p Payload) MarshalJSON() ([]byte, error) {
	if len(p) == 0 {
		return []byte("null"), nil
	}
	return []byte(p), nil
}

// UnmarshalJSON stores a copy of the raw payload.
func (p *Payload) UnmarshalJSON(data []byte) error {
	*p = append((*p)[:0], data...)
	return nil
}

// Item is a single queued action. The JSON shape is the persisted and
// exported queue record.
type Item struct {
	ID            string     `json:"id"`
	Topic         string     `json:"topic"`
	Payload       Payload    `json:"payload"`
	Status        Status     `json:"status"`
	Tries         int        `json:"tries"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastAttemptAt *time.Time `json:"lastAttemptAt,omitempty"`
	LastError     *ItemError `json:"lastError,omitempty"`

	// Seq breaks createdAt ties so replay order is stable. Not exported.
	Seq int64 `json:"-"`
}

// ItemError is the server-side error captured for operator inspection.
type ItemError struct {
	ID      string `json:"id,omitempty"`
	Message string `json:"message"`
}

func (e *ItemError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s (log id %s)", e.Message, e.ID)
	}
	return e.Message
}

// Counts backs the badge indicators.
type Counts struct {
	Queued  int `json:"queued"`
	Syncing int `json:"syncing"`
	Error   int `json:"error"`
	Total   int `json:"total"`
}

// Filter narrows a List query. Zero values mean "any".
type Filter struct {
	Topic    string
	Statuses []Status
}

// Export is the document produced by "export selected as file".
type Export struct {
	DeviceID string `json:"deviceId"`
	Actions  []Item `json:"actions"`
}

// Result is what a transport reports for one dispatch.
type Result struct {
	OK        bool
	Retryable bool
	// ErrorID is the server-side log id of a rejection, when provided.
	ErrorID      string
	ErrorMessage string
}

// Classify maps a transport result onto an attempt outcome.
func (r Result) Classify() Outcome {
	switch {
	case r.OK:
		return OutcomeSuccess
	case r.Retryable:
		return OutcomeRetryable
	default:
		return OutcomeFatal
	}
}

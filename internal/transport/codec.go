package transport

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/pwasync/internal/action"
)

// Codec selects the request body encoding.
type Codec string

const (
	CodecJSON    Codec = "json"
	CodecMsgpack Codec = "msgpack"
)

// ParseCodec validates a codec name. Empty means JSON.
func ParseCodec(s string) (Codec, error) {
	switch Codec(strings.ToLower(strings.TrimSpace(s))) {
	case "", CodecJSON:
		return CodecJSON, nil
	case CodecMsgpack:
		return CodecMsgpack, nil
	default:
		return "", fmt.Errorf("unknown codec %q: must be json or msgpack", s)
	}
}

// ContentType returns the MIME type sent for the codec.
func (c Codec) ContentType() string {
	if c == CodecMsgpack {
		return "application/msgpack"
	}
	return "application/json"
}

// Envelope is the request body for one replayed action.
type Envelope struct {
	ID        string    `json:"id" msgpack:"id"`
	Topic     string    `json:"topic" msgpack:"topic"`
	Payload   any       `json:"payload" msgpack:"payload"`
	Tries     int       `json:"tries" msgpack:"tries"`
	CreatedAt time.Time `json:"createdAt" msgpack:"createdAt"`
	DeviceID  string    `json:"deviceId,omitempty" msgpack:"deviceId,omitempty"`
}

// rejection is the error body a server may send with a 4xx response. Both
// the nested and flat shapes are accepted.
type rejection struct {
	Error *struct {
		ID      string `json:"id" msgpack:"id"`
		Message string `json:"message" msgpack:"message"`
	} `json:"error" msgpack:"error"`
	ErrorID      string `json:"errorId" msgpack:"errorId"`
	ErrorMessage string `json:"errorMessage" msgpack:"errorMessage"`
}

func (r rejection) fields() (id, message string) {
	if r.Error != nil {
		return r.Error.ID, r.Error.Message
	}
	return r.ErrorID, r.ErrorMessage
}

// encodeEnvelope builds and encodes the request body for item.
func encodeEnvelope(c Codec, item action.Item, deviceID string) ([]byte, error) {
	env := Envelope{
		ID:        item.ID,
		Topic:     item.Topic,
		Tries:     item.Tries,
		CreatedAt: item.CreatedAt,
		DeviceID:  deviceID,
	}

	switch c {
	case CodecMsgpack:
		// The payload is JSON at rest; decode it so the server receives a
		// native msgpack structure rather than an embedded JSON string.
		var payload any
		if len(item.Payload) > 0 {
			if err := json.Unmarshal(item.Payload, &payload); err != nil {
				return nil, fmt.Errorf("decode payload: %w", err)
			}
		}
		env.Payload = payload
		return msgpack.Marshal(env)
	default:
		env.Payload = json.RawMessage(item.Payload)
		if len(item.Payload) == 0 {
			env.Payload = nil
		}
		return json.Marshal(env)
	}
}

// decodeRejection parses an error body according to its content type.
// Unparseable bodies yield empty fields.
func decodeRejection(contentType string, body []byte) (id, message string) {
	var r rejection
	var err error
	if strings.Contains(contentType, "msgpack") {
		err = msgpack.Unmarshal(body, &r)
	} else {
		err = json.Unmarshal(body, &r)
	}
	if err != nil {
		return "", ""
	}
	return r.fields()
}

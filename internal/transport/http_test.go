package transport

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/speed"
	"github.com/roach88/pwasync/internal/testutil"
)

func testItem() action.Item {
	return action.Item{
		ID:        "a-1",
		Topic:     "offline",
		Payload:   action.Payload(`{"action":"UpdateRow","id":42}`),
		Tries:     2,
		CreatedAt: testutil.Epoch,
	}
}

// recorder captures the last request body and headers seen by a server.
type recorder struct {
	mu      sync.Mutex
	body    []byte
	headers http.Header
	hits    int
}

func (r *recorder) record(req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.body = body
	r.headers = req.Header.Clone()
	r.hits++
}

func newServer(t *testing.T, rec *recorder, handle func(w http.ResponseWriter)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rec.record(req)
		handle(w)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresURL(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{URL: "not a url"})
	assert.Error(t, err)
}

func TestNew_DerivesLivenessURL(t *testing.T) {
	h, err := New(Config{URL: "https://api.example.com/v1/actions"})
	require.NoError(t, err)
	assert.Equal(t, "https://api.example.com/ping", h.config.LivenessURL)
	assert.Equal(t, DefaultTimeout, h.config.Timeout)
	assert.Equal(t, CodecJSON, h.config.Codec)
}

func TestSend_SuccessJSON(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter) { w.WriteHeader(http.StatusNoContent) })

	h, err := New(Config{
		URL:      srv.URL + "/actions",
		DeviceID: "dev-1",
		Headers:  map[string]string{"Authorization": "Bearer t"},
	})
	require.NoError(t, err)

	res, err := h.Send(t.Context(), testItem())
	require.NoError(t, err)
	assert.True(t, res.OK)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "application/json", rec.headers.Get("Content-Type"))
	assert.Equal(t, "a-1", rec.headers.Get("Idempotency-Key"))
	assert.Equal(t, "dev-1", rec.headers.Get("X-Device-ID"))
	assert.Equal(t, "Bearer t", rec.headers.Get("Authorization"))

	var env struct {
		ID       string          `json:"id"`
		Topic    string          `json:"topic"`
		Payload  json.RawMessage `json:"payload"`
		Tries    int             `json:"tries"`
		DeviceID string          `json:"deviceId"`
	}
	require.NoError(t, json.Unmarshal(rec.body, &env))
	assert.Equal(t, "a-1", env.ID)
	assert.Equal(t, "offline", env.Topic)
	assert.JSONEq(t, `{"action":"UpdateRow","id":42}`, string(env.Payload))
	assert.Equal(t, 2, env.Tries)
	assert.Equal(t, "dev-1", env.DeviceID)
}

func TestSend_SuccessMsgpack(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter) { w.WriteHeader(http.StatusOK) })

	h, err := New(Config{URL: srv.URL, Codec: CodecMsgpack})
	require.NoError(t, err)

	res, err := h.Send(t.Context(), testItem())
	require.NoError(t, err)
	assert.True(t, res.OK)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, "application/msgpack", rec.headers.Get("Content-Type"))

	var env struct {
		ID      string         `msgpack:"id"`
		Payload map[string]any `msgpack:"payload"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.body, &env))
	assert.Equal(t, "a-1", env.ID)
	assert.Equal(t, "UpdateRow", env.Payload["action"])
}

func TestSend_ClassifiesStatus(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantOK    bool
		retryable bool
		errorID   string
		message   string
	}{
		{name: "created", status: http.StatusCreated, wantOK: true},
		{name: "server error", status: http.StatusInternalServerError, retryable: true, message: "500 Internal Server Error"},
		{name: "unavailable", status: http.StatusServiceUnavailable, retryable: true, message: "503 Service Unavailable"},
		{name: "rate limited", status: http.StatusTooManyRequests, retryable: true, message: "429 Too Many Requests"},
		{name: "request timeout", status: http.StatusRequestTimeout, retryable: true, message: "408 Request Timeout"},
		{
			name:    "nested rejection",
			status:  http.StatusUnprocessableEntity,
			body:    `{"error":{"id":"LOG-77","message":"row locked"}}`,
			errorID: "LOG-77",
			message: "row locked",
		},
		{
			name:    "flat rejection",
			status:  http.StatusConflict,
			body:    `{"errorId":"LOG-9","errorMessage":"stale version"}`,
			errorID: "LOG-9",
			message: "stale version",
		},
		{name: "plain text rejection", status: http.StatusBadRequest, body: "missing field", message: "400 Bad Request: missing field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.body != "" && tt.body[0] == '{' {
					w.Header().Set("Content-Type", "application/json")
				}
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			h, err := New(Config{URL: srv.URL})
			require.NoError(t, err)

			res, err := h.Send(t.Context(), testItem())
			require.NoError(t, err)
			assert.Equal(t, tt.wantOK, res.OK)
			assert.Equal(t, tt.retryable, res.Retryable)
			assert.Equal(t, tt.errorID, res.ErrorID)
			assert.Equal(t, tt.message, res.ErrorMessage)
		})
	}
}

func TestSend_MsgpackRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body, _ := msgpack.Marshal(map[string]any{"errorId": "LOG-3", "errorMessage": "denied"})
		w.Header().Set("Content-Type", "application/msgpack")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	h, err := New(Config{URL: srv.URL, Codec: CodecMsgpack})
	require.NoError(t, err)

	res, err := h.Send(t.Context(), testItem())
	require.NoError(t, err)
	assert.Equal(t, action.OutcomeFatal, res.Classify())
	assert.Equal(t, "LOG-3", res.ErrorID)
	assert.Equal(t, "denied", res.ErrorMessage)
}

func TestSend_NetworkErrorReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	h, err := New(Config{URL: url})
	require.NoError(t, err)

	_, err = h.Send(t.Context(), testItem())
	assert.Error(t, err)
}

func TestSend_HonoursContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	h, err := New(Config{URL: srv.URL})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()
	_, err = h.Send(ctx, testItem())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSend_InvalidPayloadIsFatalForMsgpack(t *testing.T) {
	h, err := New(Config{URL: "http://127.0.0.1:1", Codec: CodecMsgpack})
	require.NoError(t, err)

	item := testItem()
	item.Payload = action.Payload(`{broken`)
	res, err := h.Send(t.Context(), item)
	require.NoError(t, err)
	assert.Equal(t, action.OutcomeFatal, res.Classify())
	assert.Contains(t, res.ErrorMessage, "encode request")
}

func TestProbe(t *testing.T) {
	status := http.StatusOK
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		if req.URL.Path != DefaultLivenessPath {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	h, err := New(Config{URL: srv.URL + "/actions"})
	require.NoError(t, err)
	assert.NoError(t, h.Probe(t.Context()))

	mu.Lock()
	status = http.StatusBadGateway
	mu.Unlock()
	err = h.Probe(t.Context())
	require.Error(t, err)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.Code)
}

func TestProbe_Unreachable(t *testing.T) {
	h, err := New(Config{URL: "http://127.0.0.1:1/actions", Timeout: time.Second})
	require.NoError(t, err)
	assert.Error(t, h.Probe(t.Context()))
}

func TestWithMonitor_RecordsSamples(t *testing.T) {
	rec := &recorder{}
	srv := newServer(t, rec, func(w http.ResponseWriter) { w.WriteHeader(http.StatusOK) })

	m := speed.NewMonitor(speed.WithLivenessPattern(DefaultLivenessPath))
	h, err := New(Config{URL: srv.URL + "/actions"}, WithMonitor(m))
	require.NoError(t, err)

	_, err = h.Send(t.Context(), testItem())
	require.NoError(t, err)
	require.NoError(t, h.Probe(t.Context()))

	assert.Equal(t, 2, m.Len())
	require.NoError(t, h.Close())
}

func TestParseCodec(t *testing.T) {
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecJSON, c)

	c, err = ParseCodec(" MsgPack ")
	require.NoError(t, err)
	assert.Equal(t, CodecMsgpack, c)

	_, err = ParseCodec("protobuf")
	assert.Error(t, err)
}

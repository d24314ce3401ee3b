// Package transport implements the engine's transport contract over HTTP.
//
// Each queued action is POSTed to a single server endpoint. Responses are
// classified the way the engine needs them:
//   - 2xx: accepted
//   - 408, 429 and 5xx: retryable
//   - any other 4xx: rejected (fatal), with the server's error id and message
//   - no response at all (network error, timeout): returned as an error,
//     which the engine treats as retryable
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/roach88/pwasync/internal/action"
	"github.com/roach88/pwasync/internal/log"
	"github.com/roach88/pwasync/internal/speed"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 10 * time.Second

// DefaultLivenessPath is appended to the server URL when no liveness URL is
// configured.
const DefaultLivenessPath = "/ping"

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 << 10

// Config configures the HTTP transport.
type Config struct {
	// URL is the endpoint actions are POSTed to (required).
	URL string
	// LivenessURL is probed with GET by Probe. Defaults to the scheme and
	// host of URL plus DefaultLivenessPath.
	LivenessURL string
	// Headers are custom HTTP headers added to each request.
	Headers map[string]string
	// Timeout is the per-request timeout (default 10s).
	Timeout time.Duration
	// Codec selects the request encoding (default json).
	Codec Codec
	// DeviceID is sent in the envelope and as X-Device-ID.
	DeviceID string
}

// StatusError is returned for non-2xx HTTP responses.
// Wrapping the status code allows callers to distinguish retriable (5xx)
// from non-retriable (4xx) failures.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// Retryable reports whether the status is worth retrying later.
func (e *StatusError) Retryable() bool {
	return e.Code >= 500 || e.Code == http.StatusRequestTimeout || e.Code == http.StatusTooManyRequests
}

// HTTP delivers actions to the server.
type HTTP struct {
	config Config
	client *http.Client
	log    *log.Logger
}

// Option configures an HTTP transport.
type Option func(*options)

type options struct {
	monitor *speed.Monitor
	base    http.RoundTripper
	log     *log.Logger
}

// WithMonitor records a speed sample for every request, including probes.
func WithMonitor(m *speed.Monitor) Option {
	return func(o *options) { o.monitor = m }
}

// WithRoundTripper sets the underlying round tripper (default
// http.DefaultTransport).
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) { o.base = rt }
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.log = l }
}

// New creates an HTTP transport from the given config.
// Returns an error if the URL is missing or invalid.
func New(cfg Config, opts ...Option) (*HTTP, error) {
	if cfg.URL == "" {
		return nil, errors.New("transport requires a server URL")
	}
	u, err := url.Parse(cfg.URL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("transport: invalid server URL %q", cfg.URL)
	}
	if cfg.LivenessURL == "" {
		cfg.LivenessURL = (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: DefaultLivenessPath}).String()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Codec == "" {
		cfg.Codec = CodecJSON
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	var rt http.RoundTripper = o.base
	if o.monitor != nil {
		rt = speed.NewRoundTripper(o.base, o.monitor)
	}

	return &HTTP{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout, Transport: rt},
		log:    log.OrNop(o.log).Named("transport"),
	}, nil
}

// Send POSTs one action and classifies the response.
func (h *HTTP) Send(ctx context.Context, item action.Item) (action.Result, error) {
	body, err := encodeEnvelope(h.config.Codec, item, h.config.DeviceID)
	if err != nil {
		// A payload we cannot encode will never be accepted.
		return action.Result{ErrorMessage: fmt.Sprintf("encode request: %v", err)}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.config.URL, bytes.NewReader(body))
	if err != nil {
		return action.Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", h.config.Codec.ContentType())
	req.Header.Set("Accept", h.config.Codec.ContentType())
	req.Header.Set("Idempotency-Key", item.ID)
	h.setHeaders(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return action.Result{}, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		// Drain body to allow connection reuse
		_, _ = io.Copy(io.Discard, resp.Body)
		return action.Result{OK: true}, nil
	}

	statusErr := &StatusError{Code: resp.StatusCode}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	id, message := decodeRejection(resp.Header.Get("Content-Type"), raw)
	if message == "" {
		message = statusMessage(resp.StatusCode, raw)
	}

	h.log.Debug("action not accepted", map[string]any{
		"item":      item.ID,
		"status":    resp.StatusCode,
		"retryable": statusErr.Retryable(),
	})
	return action.Result{
		Retryable:    statusErr.Retryable(),
		ErrorID:      id,
		ErrorMessage: message,
	}, nil
}

// Probe checks that the server answers at all. Any response below 500
// counts as reachable.
func (h *HTTP) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.config.LivenessURL, nil)
	if err != nil {
		return fmt.Errorf("probe: create request: %w", err)
	}
	h.setHeaders(req)

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 500 {
		return fmt.Errorf("probe: %w", &StatusError{Code: resp.StatusCode})
	}
	return nil
}

func (h *HTTP) setHeaders(req *http.Request) {
	if h.config.DeviceID != "" {
		req.Header.Set("X-Device-ID", h.config.DeviceID)
	}
	for k, v := range h.config.Headers {
		req.Header.Set(k, v)
	}
}

// Close releases transport resources.
func (h *HTTP) Close() error {
	h.client.CloseIdleConnections()
	return nil
}

func statusMessage(code int, body []byte) string {
	msg := fmt.Sprintf("%d %s", code, http.StatusText(code))
	if text := strings.TrimSpace(string(body)); text != "" {
		if len(text) > 200 {
			text = text[:200] + "..."
		}
		msg += ": " + text
	}
	return msg
}

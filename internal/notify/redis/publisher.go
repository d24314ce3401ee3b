// Package redis publishes engine events to a Redis pub/sub channel.
//
// Network state changes and sync pass reports are sent as JSON. Publishes
// retry with exponential backoff on connection errors.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/roach88/pwasync/internal/engine"
	"github.com/roach88/pwasync/internal/netstate"
)

// DefaultChannel is the default pub/sub channel name.
const DefaultChannel = "pwasync:events"

// DefaultTimeout is the default per-publish timeout.
const DefaultTimeout = 5 * time.Second

// DefaultRetries is the default number of retry attempts.
const DefaultRetries = 3

// Event types.
const (
	EventNetworkChanged = "network_changed"
	EventSyncCompleted  = "sync_completed"
)

// Config configures the Redis publisher.
type Config struct {
	// URL is the Redis connection URL (required).
	// Format: redis://[:password@]host:port[/db]
	URL string
	// Channel is the pub/sub channel name (default: pwasync:events).
	Channel string
	// Timeout is the per-publish timeout (default 5s).
	Timeout time.Duration
	// Retries is the number of retry attempts on failure (default 3).
	Retries int
	// DeviceID is stamped on every event.
	DeviceID string
}

// Event is the published message.
type Event struct {
	Type      string    `json:"type"`
	DeviceID  string    `json:"deviceId,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Set for network_changed.
	Previous *netstate.Flags `json:"previous,omitempty"`
	Current  *netstate.Flags `json:"current,omitempty"`
	Changed  []netstate.Field `json:"changed,omitempty"`
	Online   *bool            `json:"online,omitempty"`

	// Set for sync_completed.
	Report *engine.SyncReport `json:"report,omitempty"`
}

// Publisher sends engine events via Redis PUBLISH.
type Publisher struct {
	config Config
	client *goredis.Client
	now    func() time.Time
	// backoff is the delay unit between retries.
	backoff time.Duration
}

// New creates a Redis publisher from the given config.
// Returns an error if the URL is empty or invalid.
func New(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis notifier requires a URL")
	}

	opts, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis notifier: invalid URL: %w", err)
	}

	if cfg.Channel == "" {
		cfg.Channel = DefaultChannel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	return &Publisher{
		config:  cfg,
		client:  goredis.NewClient(opts),
		now:     time.Now,
		backoff: 500 * time.Millisecond,
	}, nil
}

// NetworkChanged publishes a network_changed event.
func (p *Publisher) NetworkChanged(ctx context.Context, c netstate.Change) error {
	prev, cur := c.Previous.Serialize(), c.Current.Serialize()
	online := c.Current.IsOnline()
	at := c.At
	if at.IsZero() {
		at = p.now()
	}
	return p.publish(ctx, &Event{
		Type:      EventNetworkChanged,
		DeviceID:  p.config.DeviceID,
		Timestamp: at.UTC(),
		Previous:  &prev,
		Current:   &cur,
		Changed:   c.Changed,
		Online:    &online,
	})
}

// SyncCompleted publishes a sync_completed event.
func (p *Publisher) SyncCompleted(ctx context.Context, r engine.SyncReport) error {
	return p.publish(ctx, &Event{
		Type:      EventSyncCompleted,
		DeviceID:  p.config.DeviceID,
		Timestamp: p.now().UTC(),
		Report:    &r,
	})
}

func (p *Publisher) publish(ctx context.Context, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("redis: marshal event: %w", err)
	}

	var lastErr error
	// attempts = 1 initial + retries
	attempts := 1 + p.config.Retries

	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("redis: context canceled: %w", err)
		}

		if i > 0 {
			backoff := time.Duration(1<<uint(i-1)) * p.backoff
			select {
			case <-ctx.Done():
				return fmt.Errorf("redis: context canceled during backoff: %w", ctx.Err())
			case <-time.After(backoff):
			}
		}

		publishCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
		lastErr = p.client.Publish(publishCtx, p.config.Channel, body).Err()
		cancel()

		if lastErr == nil {
			return nil
		}
	}

	return fmt.Errorf("redis: failed after %d attempts: %w", attempts, lastErr)
}

// Close releases publisher resources.
func (p *Publisher) Close() error {
	return p.client.Close()
}

var _ engine.Notifier = (*Publisher)(nil)

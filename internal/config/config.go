// Package config handles pwasync.yaml loading.
//
// All values are optional and have defaults. CLI flags always override
// config values.
package config

import (
	"fmt"
	"time"

	"github.com/roach88/pwasync/internal/netstate"
)

// DefaultPath is the config file looked up when --config is not given.
const DefaultPath = "pwasync.yaml"

// DefaultDatabase is the SQLite file used when none is configured.
const DefaultDatabase = "pwasync.db"

// Config represents a pwasync.yaml configuration file.
type Config struct {
	Database string        `yaml:"database"`
	DeviceID string        `yaml:"device_id"`
	Server   ServerConfig  `yaml:"server"`
	Network  NetworkConfig `yaml:"network"`
	Sync     SyncConfig    `yaml:"sync"`
	Notify   NotifyConfig  `yaml:"notify"`
	API      APIConfig     `yaml:"api"`
}

// ServerConfig describes the endpoint queued actions are replayed to.
type ServerConfig struct {
	URL         string            `yaml:"url"`
	LivenessURL string            `yaml:"liveness_url"`
	Timeout     Duration          `yaml:"timeout"`
	Codec       string            `yaml:"codec"`
	Headers     map[string]string `yaml:"headers,omitempty"`
}

// NetworkConfig tunes connectivity tracking and the speed poll.
type NetworkConfig struct {
	PollInterval     Duration `yaml:"poll_interval"`
	SlowThreshold    Duration `yaml:"slow_threshold"`
	SpeedWindow      Duration `yaml:"speed_window"`
	SampleRetention  Duration `yaml:"sample_retention"`
	HistoryRetention Duration `yaml:"history_retention"`
	LivenessPattern  string   `yaml:"liveness_pattern"`
	AutoOffline      bool     `yaml:"auto_offline"`
}

// SyncConfig controls replay behavior.
type SyncConfig struct {
	AutoOnReconnect bool     `yaml:"auto_on_reconnect"`
	ItemTimeout     Duration `yaml:"item_timeout"`
}

// NotifyConfig enables the optional Redis event publisher.
type NotifyConfig struct {
	RedisURL string   `yaml:"redis_url"`
	Channel  string   `yaml:"channel"`
	Retries  int      `yaml:"retries"`
	Timeout  Duration `yaml:"timeout"`
}

// APIConfig configures the local operator HTTP API.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	poll := netstate.DefaultPollConfig()
	return &Config{
		Database: DefaultDatabase,
		Server: ServerConfig{
			Timeout: Duration{10 * time.Second},
			Codec:   "json",
		},
		Network: NetworkConfig{
			PollInterval:     Duration{poll.Interval},
			SlowThreshold:    Duration{poll.SlowThreshold},
			SpeedWindow:      Duration{poll.Window},
			SampleRetention:  Duration{10 * time.Minute},
			HistoryRetention: Duration{24 * time.Hour},
			LivenessPattern:  "/ping",
		},
		Sync: SyncConfig{
			AutoOnReconnect: true,
			ItemTimeout:     Duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Channel: "pwasync:events",
			Retries: 3,
			Timeout: Duration{5 * time.Second},
		},
		API: APIConfig{
			Listen: "127.0.0.1:8787",
		},
	}
}

// PollConfig returns the manager's poll settings.
func (c *Config) PollConfig() netstate.PollConfig {
	return netstate.PollConfig{
		Interval:      c.Network.PollInterval.Duration,
		SlowThreshold: c.Network.SlowThreshold.Duration,
		Window:        c.Network.SpeedWindow.Duration,
	}.WithDefaults()
}

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/roach88/pwasync/internal/netstate"
)

const (
	settingDeviceID   = "device_id"
	settingPollConfig = "poll_config"
)

func (s *Store) getSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) putSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// DeviceID returns the persisted device id, generating and storing one on
// first use. The id only changes if the database is wiped.
func (s *Store) DeviceID(ctx context.Context) (string, error) {
	id, err := s.getSetting(ctx, settingDeviceID)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("device id: %w", err)
	}

	id = uuid.NewString()
	// ON CONFLICT DO NOTHING keeps the first id if two callers race.
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO NOTHING
	`, settingDeviceID, id); err != nil {
		return "", fmt.Errorf("device id: %w", err)
	}
	return s.getSetting(ctx, settingDeviceID)
}

// SetDeviceID pins the device id (used when configured explicitly).
func (s *Store) SetDeviceID(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("set device id: empty id")
	}
	if err := s.putSetting(ctx, settingDeviceID, id); err != nil {
		return fmt.Errorf("set device id: %w", err)
	}
	return nil
}

// PollConfig returns the persisted polling configuration.
// Returns ErrNotFound if none was saved.
func (s *Store) PollConfig(ctx context.Context) (netstate.PollConfig, error) {
	raw, err := s.getSetting(ctx, settingPollConfig)
	if err != nil {
		return netstate.PollConfig{}, fmt.Errorf("poll config: %w", err)
	}
	var cfg netstate.PollConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return netstate.PollConfig{}, fmt.Errorf("poll config: decode: %w", err)
	}
	return cfg, nil
}

// SavePollConfig persists the polling configuration.
func (s *Store) SavePollConfig(ctx context.Context, cfg netstate.PollConfig) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save poll config: %w", err)
	}
	if err := s.putSetting(ctx, settingPollConfig, string(data)); err != nil {
		return fmt.Errorf("save poll config: %w", err)
	}
	return nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/pwasync/internal/netstate"
)

// LoadNetworkState returns the persisted state and when it was saved.
// Returns ErrNotFound if nothing has been saved yet.
func (s *Store) LoadNetworkState(ctx context.Context) (netstate.State, time.Time, error) {
	var (
		browser, forced, auto, slow int
		savedAt                     int64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT browser_online, forced_offline, auto_offline, slow_network, saved_at
		FROM network_state WHERE id = 1
	`).Scan(&browser, &forced, &auto, &slow, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return netstate.State{}, time.Time{}, fmt.Errorf("load network state: %w", ErrNotFound)
	}
	if err != nil {
		return netstate.State{}, time.Time{}, fmt.Errorf("load network state: %w", err)
	}

	state := netstate.State{
		BrowserOnline: browser != 0,
		ForcedOffline: forced != 0,
		AutoOffline:   auto != 0,
		SlowNetwork:   slow != 0,
	}
	return state, fromUnixNano(savedAt), nil
}

// SaveNetworkState replaces the persisted state.
func (s *Store) SaveNetworkState(ctx context.Context, state netstate.State, savedAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO network_state (id, browser_online, forced_offline, auto_offline, slow_network, saved_at)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			browser_online = excluded.browser_online,
			forced_offline = excluded.forced_offline,
			auto_offline   = excluded.auto_offline,
			slow_network   = excluded.slow_network,
			saved_at       = excluded.saved_at
	`,
		boolToInt(state.BrowserOnline),
		boolToInt(state.ForcedOffline),
		boolToInt(state.AutoOffline),
		boolToInt(state.SlowNetwork),
		toUnixNano(savedAt),
	)
	if err != nil {
		return fmt.Errorf("save network state: %w", err)
	}
	return nil
}

// AppendNetworkHistory records a transition and prunes entries older than
// the retention horizon, in one transaction.
func (s *Store) AppendNetworkHistory(ctx context.Context, state netstate.State, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append network history: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	_, err = tx.ExecContext(ctx, `
		INSERT INTO network_history (browser_online, forced_offline, auto_offline, slow_network, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`,
		boolToInt(state.BrowserOnline),
		boolToInt(state.ForcedOffline),
		boolToInt(state.AutoOffline),
		boolToInt(state.SlowNetwork),
		toUnixNano(at),
	)
	if err != nil {
		return fmt.Errorf("append network history: insert: %w", err)
	}

	if s.historyRetention > 0 {
		horizon := at.Add(-s.historyRetention)
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM network_history WHERE recorded_at < ?`, toUnixNano(horizon)); err != nil {
			return fmt.Errorf("append network history: prune: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append network history: commit: %w", err)
	}
	return nil
}

// NetworkHistory returns transitions recorded at or after since, oldest first.
func (s *Store) NetworkHistory(ctx context.Context, since time.Time) ([]netstate.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT browser_online, forced_offline, auto_offline, slow_network, recorded_at
		FROM network_history
		WHERE recorded_at >= ?
		ORDER BY recorded_at ASC, seq ASC
	`, toUnixNano(since))
	if err != nil {
		return nil, fmt.Errorf("query network history: %w", err)
	}
	defer rows.Close()

	entries := []netstate.HistoryEntry{}
	for rows.Next() {
		var (
			browser, forced, auto, slow int
			recordedAt                  int64
		)
		if err := rows.Scan(&browser, &forced, &auto, &slow, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan network history: %w", err)
		}
		entries = append(entries, netstate.HistoryEntry{
			State: netstate.State{
				BrowserOnline: browser != 0,
				ForcedOffline: forced != 0,
				AutoOffline:   auto != 0,
				SlowNetwork:   slow != 0,
			},
			RecordedAt: fromUnixNano(recordedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate network history: %w", err)
	}
	return entries, nil
}

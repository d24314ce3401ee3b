package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/pwasync/internal/action"
)

const actionColumns = `seq, id, topic, payload, status, tries, created_at, last_attempt_at, last_error`

// Enqueue appends a new Queued action and returns its generated id.
//
// This is the one write the caller cannot recover from locally: there is no
// other record of the action, so any error is returned as-is.
func (s *Store) Enqueue(ctx context.Context, topic string, payload action.Payload) (string, error) {
	normalized, err := action.NormalizeTopic(topic)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	if _, err := action.ParsePayload(payload); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	id := s.ids.Generate()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO actions (id, topic, payload, status, tries, created_at)
		VALUES (?, ?, ?, ?, 0, ?)
	`,
		id,
		normalized,
		string(payload),
		string(action.StatusQueued),
		toUnixNano(s.timestamp()),
	)
	if err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}

	return id, nil
}

// Get retrieves a single action by id.
// Returns ErrNotFound if it does not exist.
func (s *Store) Get(ctx context.Context, id string) (action.Item, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+actionColumns+` FROM actions WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return action.Item{}, fmt.Errorf("get action %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return action.Item{}, fmt.Errorf("get action %s: %w", id, err)
	}
	return item, nil
}

// GetMany returns the actions with the given ids in FIFO order.
// Unknown ids are skipped. Returns an empty slice (not nil) if none match.
func (s *Store) GetMany(ctx context.Context, ids []string) ([]action.Item, error) {
	if len(ids) == 0 {
		return []action.Item{}, nil
	}

	query := `SELECT ` + actionColumns + ` FROM actions WHERE id IN (` + placeholders(len(ids)) + `)
		ORDER BY created_at ASC, seq ASC`
	return s.queryItems(ctx, query, stringArgs(ids)...)
}

// List returns actions matching the filter in FIFO order.
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) List(ctx context.Context, f action.Filter) ([]action.Item, error) {
	var (
		where []string
		args  []any
	)
	if f.Topic != "" {
		topic, err := action.NormalizeTopic(f.Topic)
		if err != nil {
			return nil, fmt.Errorf("list actions: %w", err)
		}
		where = append(where, "topic = ?")
		args = append(args, topic)
	}
	if len(f.Statuses) > 0 {
		where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
		for _, st := range f.Statuses {
			args = append(args, string(st))
		}
	}

	query := `SELECT ` + actionColumns + ` FROM actions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at ASC, seq ASC`

	return s.queryItems(ctx, query, args...)
}

// Delete removes an action. Deleting an unknown id is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete action %s: %w", id, err)
	}
	return nil
}

// DeleteMany removes the given actions and returns how many were deleted.
func (s *Store) DeleteMany(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM actions WHERE id IN (`+placeholders(len(ids))+`)`,
		stringArgs(ids)...)
	if err != nil {
		return 0, fmt.Errorf("delete actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete actions: rows affected: %w", err)
	}
	return int(n), nil
}

// MarkSyncing moves a Queued action to Syncing right before dispatch.
// Returns ErrNotFound for an unknown id and ErrStatusConflict when the
// action is not Queued (for example, already picked up by another pass).
func (s *Store) MarkSyncing(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = ?
		WHERE id = ? AND status = ?
	`, string(action.StatusSyncing), id, string(action.StatusQueued))
	if err != nil {
		return fmt.Errorf("mark syncing %s: %w", id, err)
	}
	return s.requireTransition(ctx, res, id, "mark syncing")
}

// MarkAttempt records the outcome of a dispatch attempt.
//
//   - OutcomeSuccess deletes the action (the queue only holds pending work)
//   - OutcomeRetryable increments tries and returns the action to Queued
//   - OutcomeFatal increments tries, stores itemErr and parks the action in Error
//
// Every attempt increments tries, whatever its outcome.
func (s *Store) MarkAttempt(ctx context.Context, id string, outcome action.Outcome, itemErr *action.ItemError) error {
	var (
		res sql.Result
		err error
	)
	now := toUnixNano(s.timestamp())

	switch outcome {
	case action.OutcomeSuccess:
		res, err = s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id)

	case action.OutcomeRetryable:
		res, err = s.db.ExecContext(ctx, `
			UPDATE actions
			SET status = ?, tries = tries + 1, last_attempt_at = ?
			WHERE id = ?
		`, string(action.StatusQueued), now, id)

	case action.OutcomeFatal:
		if itemErr == nil {
			itemErr = &action.ItemError{Message: "rejected by server"}
		}
		errJSON, mErr := json.Marshal(itemErr)
		if mErr != nil {
			return fmt.Errorf("mark attempt %s: marshal error: %w", id, mErr)
		}
		res, err = s.db.ExecContext(ctx, `
			UPDATE actions
			SET status = ?, tries = tries + 1, last_attempt_at = ?, last_error = ?
			WHERE id = ?
		`, string(action.StatusError), now, string(errJSON), id)

	default:
		return fmt.Errorf("mark attempt %s: unknown outcome %v", id, outcome)
	}
	if err != nil {
		return fmt.Errorf("mark attempt %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark attempt %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark attempt %s: %w", id, ErrNotFound)
	}
	return nil
}

// Requeue moves Error actions back to Queued (explicit user retry).
// The stored error is kept until the next attempt overwrites it. Actions
// in any other status are left alone. Returns the number requeued.
func (s *Store) Requeue(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := append([]any{string(action.StatusQueued), string(action.StatusError)}, stringArgs(ids)...)
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = ?
		WHERE status = ? AND id IN (`+placeholders(len(ids))+`)
	`, args...)
	if err != nil {
		return 0, fmt.Errorf("requeue actions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("requeue actions: rows affected: %w", err)
	}
	return int(n), nil
}

// RecoverSyncing resets actions left in Syncing by a process that died
// mid-dispatch. Tries are left unchanged since no outcome was recorded.
func (s *Store) RecoverSyncing(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE actions SET status = ? WHERE status = ?
	`, string(action.StatusQueued), string(action.StatusSyncing))
	if err != nil {
		return 0, fmt.Errorf("recover syncing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recover syncing: rows affected: %w", err)
	}
	return int(n), nil
}

// Counts returns per-status totals, optionally restricted to one topic.
func (s *Store) Counts(ctx context.Context, topic string) (action.Counts, error) {
	query := `SELECT status, COUNT(*) FROM actions`
	var args []any
	if topic != "" {
		normalized, err := action.NormalizeTopic(topic)
		if err != nil {
			return action.Counts{}, fmt.Errorf("count actions: %w", err)
		}
		query += ` WHERE topic = ?`
		args = append(args, normalized)
	}
	query += ` GROUP BY status`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return action.Counts{}, fmt.Errorf("count actions: %w", err)
	}
	defer rows.Close()

	var c action.Counts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return action.Counts{}, fmt.Errorf("count actions: scan: %w", err)
		}
		switch action.Status(status) {
		case action.StatusQueued:
			c.Queued = n
		case action.StatusSyncing:
			c.Syncing = n
		case action.StatusError:
			c.Error = n
		}
		c.Total += n
	}
	if err := rows.Err(); err != nil {
		return action.Counts{}, fmt.Errorf("count actions: iterate: %w", err)
	}
	return c, nil
}

func (s *Store) requireTransition(ctx context.Context, res sql.Result, id, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", op, id, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, id); err != nil {
		return fmt.Errorf("%s %s: %w", op, id, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, id, ErrStatusConflict)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]action.Item, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var items []action.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}

	// Return empty slice instead of nil
	if items == nil {
		items = []action.Item{}
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem decodes one action row. Optional columns tolerate NULL.
func scanItem(row rowScanner) (action.Item, error) {
	var (
		item        action.Item
		payload     string
		status      string
		createdAt   int64
		lastAttempt sql.NullInt64
		lastError   sql.NullString
	)
	if err := row.Scan(
		&item.Seq, &item.ID, &item.Topic, &payload, &status,
		&item.Tries, &createdAt, &lastAttempt, &lastError,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return action.Item{}, err
		}
		return action.Item{}, fmt.Errorf("scan action: %w", err)
	}

	item.Payload = action.Payload(payload)
	item.Status = action.Status(status)
	if !item.Status.Valid() {
		item.Status = action.StatusQueued
	}
	item.CreatedAt = fromUnixNano(createdAt)
	if lastAttempt.Valid {
		t := fromUnixNano(lastAttempt.Int64)
		item.LastAttemptAt = &t
	}
	if lastError.Valid && lastError.String != "" {
		var ie action.ItemError
		if err := json.Unmarshal([]byte(lastError.String), &ie); err != nil {
			// Older builds stored the bare message.
			ie = action.ItemError{Message: lastError.String}
		}
		item.LastError = &ie
	}
	return item, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func stringArgs(values []string) []any {
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/roach88/pwasync/internal/action"
)

func TestEnqueue_AssignsIDAndDefaults(t *testing.T) {
	s := createTestStore(t)

	id := mustEnqueue(t, s, "offline", `{"action":"UpdateRow","id":42}`)
	if id != "a-1" {
		t.Errorf("id = %q, want a-1", id)
	}

	item, err := s.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.Topic != "offline" {
		t.Errorf("topic = %q, want offline", item.Topic)
	}
	if item.Status != action.StatusQueued {
		t.Errorf("status = %q, want queued", item.Status)
	}
	if item.Tries != 0 {
		t.Errorf("tries = %d, want 0", item.Tries)
	}
	if item.LastAttemptAt != nil || item.LastError != nil {
		t.Errorf("new item should have no attempt metadata: %+v", item)
	}
	if string(item.Payload) != `{"action":"UpdateRow","id":42}` {
		t.Errorf("payload = %s", item.Payload)
	}
}

func TestEnqueue_NormalizesTopic(t *testing.T) {
	s := createTestStore(t)

	id := mustEnqueue(t, s, "  UI5 ", `{}`)
	item, err := s.Get(t.Context(), id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.Topic != "ui5" {
		t.Errorf("topic = %q, want ui5", item.Topic)
	}
}

func TestEnqueue_RejectsInvalidInput(t *testing.T) {
	s := createTestStore(t)

	if _, err := s.Enqueue(t.Context(), "", action.Payload(`{}`)); err == nil {
		t.Error("expected error for empty topic")
	}
	if _, err := s.Enqueue(t.Context(), "offline", action.Payload(`{broken`)); err == nil {
		t.Error("expected error for invalid payload")
	}
}

func TestEnqueue_FailsOnClosedStore(t *testing.T) {
	s := createTestStore(t)
	s.Close()

	if _, err := s.Enqueue(t.Context(), "offline", action.Payload(`{}`)); err == nil {
		t.Error("Enqueue() on closed store must surface the error")
	}
}

func TestGet_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, err := s.Get(t.Context(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestList_FIFOPerTopic(t *testing.T) {
	s := createTestStore(t)

	for i := 1; i <= 3; i++ {
		mustEnqueue(t, s, "offline", fmt.Sprintf(`{"n":%d}`, i))
		mustEnqueue(t, s, "ui5", fmt.Sprintf(`{"n":%d}`, i))
	}

	items, err := s.List(t.Context(), action.Filter{Topic: "offline"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("List() returned %d items, want 3", len(items))
	}
	for i, item := range items {
		want := fmt.Sprintf(`{"n":%d}`, i+1)
		if string(item.Payload) != want {
			t.Errorf("items[%d].payload = %s, want %s", i, item.Payload, want)
		}
		if item.Topic != "offline" {
			t.Errorf("items[%d].topic = %q", i, item.Topic)
		}
	}
}

func TestList_SameTimestampKeepsInsertionOrder(t *testing.T) {
	// A frozen clock gives every row the same created_at; seq breaks the tie.
	s := createTestStore(t, WithClock(newStepClock(0).Now))

	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, mustEnqueue(t, s, "offline", `{}`))
	}

	items, err := s.List(t.Context(), action.Filter{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	for i, item := range items {
		if item.ID != ids[i] {
			t.Errorf("items[%d].id = %q, want %q", i, item.ID, ids[i])
		}
	}
}

func TestList_FilterByStatus(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	keep := mustEnqueue(t, s, "offline", `{}`)
	bad := mustEnqueue(t, s, "offline", `{}`)
	if err := s.MarkAttempt(ctx, bad, action.OutcomeFatal, &action.ItemError{Message: "denied"}); err != nil {
		t.Fatalf("MarkAttempt() failed: %v", err)
	}

	queued, err := s.List(ctx, action.Filter{Statuses: []action.Status{action.StatusQueued}})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(queued) != 1 || queued[0].ID != keep {
		t.Errorf("queued = %+v, want only %s", queued, keep)
	}

	both, err := s.List(ctx, action.Filter{Statuses: []action.Status{action.StatusQueued, action.StatusError}})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(both) != 2 {
		t.Errorf("List(queued,error) returned %d items, want 2", len(both))
	}
}

func TestList_EmptyReturnsEmptySlice(t *testing.T) {
	s := createTestStore(t)

	items, err := s.List(t.Context(), action.Filter{Topic: "offline"})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if items == nil {
		t.Error("List() returned nil, want empty slice")
	}
}

func TestGetMany_OrdersFIFOAndSkipsUnknown(t *testing.T) {
	s := createTestStore(t)

	first := mustEnqueue(t, s, "offline", `{}`)
	second := mustEnqueue(t, s, "ui5", `{}`)

	items, err := s.GetMany(t.Context(), []string{second, "nope", first})
	if err != nil {
		t.Fatalf("GetMany() failed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("GetMany() returned %d items, want 2", len(items))
	}
	if items[0].ID != first || items[1].ID != second {
		t.Errorf("GetMany() order = [%s %s], want [%s %s]", items[0].ID, items[1].ID, first, second)
	}
}

func TestDelete(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	id := mustEnqueue(t, s, "offline", `{}`)
	if err := s.Delete(ctx, id); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrNotFound", err)
	}
	if err := s.Delete(ctx, id); err != nil {
		t.Errorf("second Delete() should be a no-op: %v", err)
	}
}

func TestDeleteMany(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	a := mustEnqueue(t, s, "offline", `{}`)
	b := mustEnqueue(t, s, "offline", `{}`)
	c := mustEnqueue(t, s, "offline", `{}`)

	n, err := s.DeleteMany(ctx, []string{a, c, "unknown"})
	if err != nil {
		t.Fatalf("DeleteMany() failed: %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteMany() = %d, want 2", n)
	}

	items, _ := s.List(ctx, action.Filter{})
	if len(items) != 1 || items[0].ID != b {
		t.Errorf("remaining = %+v, want only %s", items, b)
	}
}

func TestMarkSyncing(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	id := mustEnqueue(t, s, "offline", `{}`)
	if err := s.MarkSyncing(ctx, id); err != nil {
		t.Fatalf("MarkSyncing() failed: %v", err)
	}

	item, _ := s.Get(ctx, id)
	if item.Status != action.StatusSyncing {
		t.Errorf("status = %q, want syncing", item.Status)
	}

	if err := s.MarkSyncing(ctx, id); !errors.Is(err, ErrStatusConflict) {
		t.Errorf("second MarkSyncing() error = %v, want ErrStatusConflict", err)
	}
	if err := s.MarkSyncing(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkSyncing(missing) error = %v, want ErrNotFound", err)
	}
}

func TestMarkAttempt_SuccessDeletes(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	id := mustEnqueue(t, s, "offline", `{}`)
	if err := s.MarkAttempt(ctx, id, action.OutcomeSuccess, nil); err != nil {
		t.Fatalf("MarkAttempt() failed: %v", err)
	}
	if _, err := s.Get(ctx, id); !errors.Is(err, ErrNotFound) {
		t.Errorf("successful item still present: %v", err)
	}
}

func TestMarkAttempt_RetryableRequeuesAndCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	id := mustEnqueue(t, s, "offline", `{}`)
	for i := 0; i < 2; i++ {
		if err := s.MarkSyncing(ctx, id); err != nil {
			t.Fatalf("MarkSyncing() failed: %v", err)
		}
		if err := s.MarkAttempt(ctx, id, action.OutcomeRetryable, nil); err != nil {
			t.Fatalf("MarkAttempt() failed: %v", err)
		}
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.Status != action.StatusQueued {
		t.Errorf("status = %q, want queued", item.Status)
	}
	if item.Tries != 2 {
		t.Errorf("tries = %d, want 2", item.Tries)
	}
	if item.LastAttemptAt == nil {
		t.Error("lastAttemptAt not set")
	}
	if item.LastError != nil {
		t.Errorf("retryable attempt must not set lastError: %+v", item.LastError)
	}
}

func TestMarkAttempt_FatalParksInError(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	id := mustEnqueue(t, s, "offline", `{}`)
	err := s.MarkAttempt(ctx, id, action.OutcomeFatal, &action.ItemError{ID: "LOG-1", Message: "permission denied"})
	if err != nil {
		t.Fatalf("MarkAttempt() failed: %v", err)
	}

	item, _ := s.Get(ctx, id)
	if item.Status != action.StatusError {
		t.Errorf("status = %q, want error", item.Status)
	}
	if item.Tries != 1 {
		t.Errorf("tries = %d, want 1", item.Tries)
	}
	if item.LastError == nil || item.LastError.Message != "permission denied" || item.LastError.ID != "LOG-1" {
		t.Errorf("lastError = %+v", item.LastError)
	}
}

func TestMarkAttempt_UnknownID(t *testing.T) {
	s := createTestStore(t)

	err := s.MarkAttempt(t.Context(), "missing", action.OutcomeRetryable, nil)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkAttempt() error = %v, want ErrNotFound", err)
	}
}

func TestScanItem_LegacyPlainTextError(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	id := mustEnqueue(t, s, "offline", `{}`)
	if _, err := s.db.Exec(`UPDATE actions SET status = 'error', last_error = 'boom' WHERE id = ?`, id); err != nil {
		t.Fatalf("seed legacy error: %v", err)
	}

	item, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if item.LastError == nil || item.LastError.Message != "boom" {
		t.Errorf("lastError = %+v, want message boom", item.LastError)
	}
}

func TestRequeue_OnlyMovesErrorItems(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	queued := mustEnqueue(t, s, "offline", `{}`)
	failed := mustEnqueue(t, s, "offline", `{}`)
	if err := s.MarkAttempt(ctx, failed, action.OutcomeFatal, &action.ItemError{Message: "x"}); err != nil {
		t.Fatalf("MarkAttempt() failed: %v", err)
	}

	n, err := s.Requeue(ctx, []string{queued, failed})
	if err != nil {
		t.Fatalf("Requeue() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Requeue() = %d, want 1", n)
	}

	item, _ := s.Get(ctx, failed)
	if item.Status != action.StatusQueued {
		t.Errorf("status = %q, want queued", item.Status)
	}
	if item.Tries != 1 {
		t.Errorf("requeue must not touch tries: got %d", item.Tries)
	}
}

func TestRecoverSyncing(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	id := mustEnqueue(t, s, "offline", `{}`)
	if err := s.MarkSyncing(ctx, id); err != nil {
		t.Fatalf("MarkSyncing() failed: %v", err)
	}

	n, err := s.RecoverSyncing(ctx)
	if err != nil {
		t.Fatalf("RecoverSyncing() failed: %v", err)
	}
	if n != 1 {
		t.Errorf("RecoverSyncing() = %d, want 1", n)
	}

	item, _ := s.Get(ctx, id)
	if item.Status != action.StatusQueued || item.Tries != 0 {
		t.Errorf("recovered item = %+v, want queued with 0 tries", item)
	}
}

func TestCounts(t *testing.T) {
	s := createTestStore(t)
	ctx := t.Context()

	mustEnqueue(t, s, "offline", `{}`)
	mustEnqueue(t, s, "offline", `{}`)
	bad := mustEnqueue(t, s, "offline", `{}`)
	mustEnqueue(t, s, "ui5", `{}`)
	if err := s.MarkAttempt(ctx, bad, action.OutcomeFatal, nil); err != nil {
		t.Fatalf("MarkAttempt() failed: %v", err)
	}

	all, err := s.Counts(ctx, "")
	if err != nil {
		t.Fatalf("Counts() failed: %v", err)
	}
	want := action.Counts{Queued: 3, Error: 1, Total: 4}
	if all != want {
		t.Errorf("Counts() = %+v, want %+v", all, want)
	}

	offline, err := s.Counts(ctx, "offline")
	if err != nil {
		t.Fatalf("Counts(offline) failed: %v", err)
	}
	want = action.Counts{Queued: 2, Error: 1, Total: 3}
	if offline != want {
		t.Errorf("Counts(offline) = %+v, want %+v", offline, want)
	}
}

// Package engine implements the offline-first sync engine.
//
// The engine ties together three collaborators:
//   - store.Store: the durable action queue
//   - netstate.Manager: the connectivity state machine
//   - Transport: whatever delivers one action to the server
//
// ARCHITECTURE:
//
// Orchestrator:
// Replays queued actions against the transport. Items within one pass are
// dispatched strictly one at a time in FIFO order (createdAt, then insertion
// sequence). A pass never stops on a failed item; each failure is recorded
// on the item and the pass moves on.
//
// Single In-Flight Guard:
// At most one pass runs at a time. A call that asks for the same work as the
// running pass joins it and returns its report (Coalesced=true). A call that
// asks for different work waits for the running pass and then runs its own,
// so a distinct set of ids is never dropped.
//
// Engine:
// Owns the lifecycle (Init, Run, Shutdown) and the operator surface (sync
// now, resync all, delete selected, export selected). It subscribes to the
// network manager and starts a pass whenever the client comes back online.
//
// CRITICAL PATTERNS:
//
// Every dispatch attempt increments tries, whatever its outcome.
//
// A transport timeout is retryable, never fatal: the server-side effect is
// unknown and discarding the item could silently lose user work.
//
// Going offline stops new dispatches; a request already in flight is left to
// finish and its outcome is recorded.
package engine

// Package store provides SQLite-backed durable storage for the sync engine.
//
// The store holds:
//   - Actions: queued user actions with status and retry metadata
//   - Network state: the last known connectivity flags (single row)
//   - Network history: append-only transition log with a retention horizon
//   - Settings: device id and polling configuration
//
// The store is the only component that touches persistent storage. All
// mutation goes through its narrow API.
//
// # Ordering
//
// Action reads are FIFO: ORDER BY created_at ASC, seq ASC. The seq column
// is the insertion counter and breaks ties between actions created within
// the same clock tick, so replay order never depends on row layout.
//
// # Record compatibility
//
// Nullable columns are read through sql.Null* types and missing optional
// values decode to their zero value, so databases written by older or newer
// builds stay readable. Schema changes must be additive and are applied as
// numbered migrations tracked in PRAGMA user_version.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON
package store

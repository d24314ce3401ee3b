// Package action provides the queued-action types shared by the store,
// the sync engine, the transport and the operator surfaces.
//
// This package contains type definitions and pure helpers only. Every other
// internal package may import action; action imports nothing internal.
//
// Key design constraints:
//   - Payload is opaque to the engine: it is carried as raw JSON and only
//     the transport ever looks inside it
//   - Item status transitions are owned by the sync engine (see Status)
//   - All JSON tags use camelCase to match the persisted queue record shape
package action

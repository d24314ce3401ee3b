// Package harness runs end-to-end replay scenarios against a real engine.
//
// Each scenario gets a fresh in-memory SQLite queue, a network state
// manager and a scripted transport. Flow steps drive the engine exactly as
// the CLI and API do, and every step, dispatch and network transition is
// recorded in an ordered trace.
//
// # Scenario Format
//
//	name: reject_parks_item
//	description: "A rejected action is parked and the rest still replay"
//	transport:
//	  - match: reject
//	    outcome: fatal
//	    error_id: LOG-9
//	    message: row locked
//	setup:
//	  - topic: offline
//	    payload: { n: 1 }
//	flow:
//	  - network: { forced_offline: true }
//	  - sync: {}
//	    expect: { skipped: 1 }
//	  - network: { forced_offline: false }
//	  - sync: {}
//	    expect: { succeeded: 1 }
//	assertions:
//	  - type: counts
//	    expect: { total: 0 }
//	  - type: dispatch_order
//	    items: [a-1]
//
// A flow step holds exactly one of enqueue, network, connectivity, sync or
// delete. Its expect map is matched as a subset of the step's completion
// result. A step that fails records {"error": "<code>"}; expect it with
// `expect: { error: POLICY_CONFLICT }`.
//
// # Transport Rules
//
// Rules are tried in order for every dispatch. A rule applies when its
// match string occurs in the payload (or is empty) and it has uses left.
// Outcomes are ok, retryable, fatal and network (a transport error).
// Dispatches no rule claims are accepted.
//
// # Assertion Types
//
//   - counts: badge counts, optionally for one topic
//   - item: one item's status, tries and last error, or exists: false
//   - dispatch_order: items were first dispatched in this order
//   - dispatch_count: number of dispatches, for one item or overall
//   - network: final network flags plus online and offline_virtually
//
// # Determinism
//
// Item ids come from a sequence generator ("a-1", "a-2", ...) and every
// clock is a stepping testutil.ManualClock, so traces are stable enough for
// golden comparison with RunWithGolden.
package harness

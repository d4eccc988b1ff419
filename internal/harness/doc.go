// Package harness runs conformance scenarios against a real sync engine.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: create_superseded_by_push
//	description: "The authoritative insert replaces the temporary record"
//	kind: messages
//	seed:
//	  - { key: srv-9, scope: P1, at: 1, fields: { body: "hi" } }
//	steps:
//	  - bind: P1
//	  - hold: mutations
//	  - create: { body: "hello" }
//	    async: true
//	  - expect: { keys: [srv-9, tmp-1], pending: 1 }
//	  - push:
//	      op: insert
//	      record: { key: srv-1, at: 2000, fields: { body: "hello" } }
//	  - release: mutations
//	  - await: true
//	    expect: { keys: [srv-9, srv-1], pending: 0 }
//
// Each step names exactly one action, optionally followed by an expect
// clause checked once the engine has settled. A step may also hold only an
// expect clause.
//
// # Actions
//
//   - bind, unbind, refetch: scope control
//   - create, update, delete: optimistic mutations through the engine
//   - push: a raw change event on the push channel, nothing stored
//   - partner: a write by another client, stored and published
//   - fail: make the next insert, update, delete or fetch fail
//   - hold, release: park remote fetches or mutations; release waits for the
//     async operations parked on the gate
//   - drop: fail the live subscription
//   - await: wait for every async operation and record its outcome
//
// bind, refetch, create, update and delete accept async: true. The
// operation then runs in the background and the step returns once it has
// finished or is parked on a held gate.
//
// # Deterministic Testing
//
// Every run uses a fresh in-memory backend, temporary keys tmp-1, tmp-2,
// ..., server keys srv-1, srv-2, ... and a stepping clock, so the recorded
// trace is identical across runs and can be compared to a golden file.
package harness

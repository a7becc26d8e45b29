// Package store provides SQLite-backed persistence for budgeting records.
//
// The store has two layers:
//   - Store: the attached database (one file, one engine handle). Its
//     options decide whether remote change notifications are delivered.
//   - Session: a unit of work over a Store. Sessions keep an identity map,
//     track property-level changes against a snapshot, and write everything
//     in one transaction on Save.
//
// # Identity
//
// Every table has an INTEGER pk (physical identity) and a nullable, non-unique
// TEXT id (logical identity). Duplicate logical ids are representable on
// purpose; reconciliation collapses them.
//
// # Deterministic Results
//
// Every fetch is ordered by pk ascending. Unsaved inserts follow persisted
// rows in insertion order.
//
// # Merge Policy
//
// Changes saved by another session are folded into a session with
// MergeChanges. Under InMemoryTrump a property the session has modified
// keeps its in-memory value; every other property is refreshed from the
// store. Under StoreTrump stored values overwrite everything.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: one writer, no SQLITE_BUSY from the pool
package store

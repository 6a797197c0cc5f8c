// Package store provides durable storage for the audit trail.
//
// The SQLite implementation in this package and the postgres implementation
// in store/postgres satisfy the same Backend contract:
//   - Commits: one row per committed transaction, keyed by commit id
//   - Audit log: append-only entries keyed by (object_id, commit_id)
//   - Event order counter: single row advanced only by compare-and-set
//   - Business events: persisted event records and their state
//   - Live objects: current state of objects mutated by business events
//
// # Critical Patterns
//
// Append-only: entries are never updated except for the archived flag.
// Appending an exact duplicate is a no-op; a different entry for an existing
// (object_id, commit_id) fails with a CONFLICTING_ENTRY error.
//
// Deterministic reads: every query ends its ORDER BY with a unique key.
// Empty results are empty slices, never nil.
//
// Large id sets are staged in session-scoped temporary tables and joined,
// rather than expanded into parameter lists. Temporary tables are created on
// first use, reused within the session and dropped when it closes.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL
//   - busy_timeout=5000
//   - foreign_keys=ON
//   - a single pooled connection, so temporary tables are visible to every
//     statement issued through the store
package store

// Package store provides SQLite-backed durable storage for treesync.
//
// Three tables:
//   - sync_records: one row per work item linking it to its remote object
//   - duplicate_events: append-only audit of duplicate-resolution decisions
//   - operations: append-only log of every executed remote mutation
//
// sync_records is the single source of truth that prevents re-creating remote
// objects that are already mirrored. Rows are replaced, never deleted.
//
// # Ordering
//
// Append-only tables are read in insertion order (ORDER BY seq ASC).
// sync_records are read in work_item_id order (COLLATE BINARY).
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store

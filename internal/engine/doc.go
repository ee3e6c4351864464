// Package engine implements the treesync reconciliation engine.
//
// The engine keeps one work-item subtree (a top-level task and its subtasks)
// mirrored as an issue and its sub-issues in a remote tracker. It never creates
// a second remote object for an item that is already mirrored, survives
// restarts through the Metadata Store, and routes every remote write through
// the rate-limited batch executor.
//
// ARCHITECTURE:
//
// Reconcile(root) runs four phases:
//  1. Parent: resolve the top-level item and create it if needed. The parent
//     must be linked before any subtask operation is submitted.
//  2. Subtasks: resolve every subtask against children of the parent's remote
//     object, then submit all creations as one executor call. Each success is
//     persisted from inside its operation, not at the end of the batch.
//  3. Gate: re-read the container, diff expected against observed objects,
//     and re-resolve and re-submit whatever is missing, for a bounded number
//     of passes. Leftovers are reported as hard failures.
//  4. Drift: push local statuses whose mapped remote state differs from the
//     last known remote state. Failed SyncStatus calls are retried here.
//
// Duplicate resolution (Resolver) decides per item between an existing valid
// link, auto-linking a near-identical remote object, and creating a new one,
// auditing every decision that looked at candidates.
//
// CONCURRENCY:
//
// Executor workers run concurrently. Per-run state lives in an explicit
// SessionState; an item is claimed before it is resolved, and the session
// marks it created only inside the Metadata Store's per-key commit, so no
// concurrent resolution can observe a created-but-unrecorded window.
//
// FAILURES:
//
// Operation failures are collected in reports, never returned as errors, and
// each one is appended as a note on the affected work item. Orphaned links
// and refreshed remote numbers are noted the same way. Hierarchy violations
// are noted on the offending item and abort the subtree before any write.
package engine

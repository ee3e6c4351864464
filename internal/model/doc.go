// Package model defines the shared data model of the treesync engine.
//
// The model has two sides:
//
//   - Local: WorkItem, a node in a two-level task hierarchy (tasks and subtasks).
//   - Remote: RemoteObject, the mirrored issue or sub-issue in an issue tracker.
//
// SyncRecord is the durable link between the two. DuplicateEvent is the audit
// record written whenever the duplicate resolver inspects remote candidates.
//
// # Identity
//
// Subtask IDs are composed as "parentID.localIndex" (e.g. "3.2"). Only two levels
// exist; a subtask never has subtasks of its own.
//
// Queued remote mutations carry a content-addressed OperationID computed over
// canonical JSON (see canonical.go and hash.go). The same logical operation in the
// same run always hashes to the same ID, which keeps retry bookkeeping and the
// operation log stable.
package model

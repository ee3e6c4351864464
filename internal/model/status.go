package model

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a local WorkItem.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusBlocked   Status = "blocked"
	StatusInReview  Status = "in_review"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
)

// Statuses lists every local status in declaration order.
var Statuses = []Status{
	StatusPending,
	StatusActive,
	StatusBlocked,
	StatusInReview,
	StatusDone,
	StatusCancelled,
}

// Valid reports whether s is one of the fixed local statuses.
func (s Status) Valid() bool {
	for _, v := range Statuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus parses a local status, accepting surrounding whitespace,
// any letter case and "-" in place of "_".
func ParseStatus(raw string) (Status, error) {
	s := Status(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_"))
	if !s.Valid() {
		return "", fmt.Errorf("invalid status %q: must be one of %v", raw, Statuses)
	}
	return s, nil
}

// RemoteStatus is the lifecycle state of a RemoteObject in the issue tracker.
type RemoteStatus string

const (
	RemoteBacklog    RemoteStatus = "backlog"
	RemoteInProgress RemoteStatus = "in_progress"
	RemoteInReview   RemoteStatus = "in_review"
	RemoteDone       RemoteStatus = "done"
	RemoteBlocked    RemoteStatus = "blocked"
	RemoteCancelled  RemoteStatus = "cancelled"
)

// RemoteStatuses lists every remote status in declaration order.
var RemoteStatuses = []RemoteStatus{
	RemoteBacklog,
	RemoteInProgress,
	RemoteInReview,
	RemoteDone,
	RemoteBlocked,
	RemoteCancelled,
}

// Valid reports whether s is a known remote status.
func (s RemoteStatus) Valid() bool {
	for _, v := range RemoteStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Resolution is the outcome recorded on a DuplicateEvent.
type Resolution string

const (
	ResolutionLinked       Resolution = "linked"
	ResolutionCreated      Resolution = "created"
	ResolutionManualReview Resolution = "manual_review"
)

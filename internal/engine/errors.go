package engine

import (
	"errors"
	"fmt"
)

// SyncError is a classified synchronization failure.
//
// SyncError includes structured fields for diagnostics and notes.
type SyncError struct {
	// Code identifies the error category.
	Code ErrorCode

	// WorkItemID identifies the affected work item, if any.
	WorkItemID string

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes synchronization failures.
type ErrorCode string

const (
	// ErrCodeTransient is a remote failure worth retrying (rate limit, timeout).
	ErrCodeTransient ErrorCode = "TRANSIENT_REMOTE"

	// ErrCodeOrphaned means a stored link points at a remote object that is gone.
	ErrCodeOrphaned ErrorCode = "ORPHANED_LINK"

	// ErrCodeMismatch means the remote object's handle changed externally.
	ErrCodeMismatch ErrorCode = "HANDLE_MISMATCH"

	// ErrCodeAmbiguousDuplicate means a candidate scored in the review band.
	ErrCodeAmbiguousDuplicate ErrorCode = "AMBIGUOUS_DUPLICATE"

	// ErrCodeHierarchy is a violated two-level hierarchy precondition.
	ErrCodeHierarchy ErrorCode = "HIERARCHY_VIOLATION"

	// ErrCodePersist means a sync record could not be persisted.
	ErrCodePersist ErrorCode = "PERSIST_FAILED"

	// ErrCodeRemote is any other remote failure.
	ErrCodeRemote ErrorCode = "REMOTE_FAILED"
)

// Error implements the error interface.
func (e *SyncError) Error() string {
	msg := e.Detail()
	if e.WorkItemID != "" {
		return fmt.Sprintf("%s: %s (work_item=%s)", e.Code, msg, e.WorkItemID)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

// Detail is the message and cause without the code and work item, for
// notes written on the work item itself.
func (e *SyncError) Detail() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return e.Err.Error()
	default:
		return e.Message + ": " + e.Err.Error()
	}
}

// Unwrap returns the underlying cause.
func (e *SyncError) Unwrap() error {
	return e.Err
}

// Transient reports whether the batch executor should retry the failure.
// A record that failed to persist after its remote object was created is
// retried: the retry finds the object by title and links it.
func (e *SyncError) Transient() bool {
	return e.Code == ErrCodeTransient || e.Code == ErrCodePersist
}

// IsHierarchyError returns true if err is a hierarchy violation.
// Uses errors.As to handle wrapped errors.
func IsHierarchyError(err error) bool {
	return hasCode(err, ErrCodeHierarchy)
}

// IsPersistError returns true if err is a persistence failure.
func IsPersistError(err error) bool {
	return hasCode(err, ErrCodePersist)
}

func hasCode(err error, code ErrorCode) bool {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// newHierarchyError creates a SyncError for a hierarchy violation.
func newHierarchyError(workItemID, format string, args ...any) *SyncError {
	return &SyncError{
		Code:       ErrCodeHierarchy,
		WorkItemID: workItemID,
		Message:    fmt.Sprintf(format, args...),
	}
}

// newPersistError wraps a failed sync record write.
func newPersistError(workItemID string, err error) *SyncError {
	return &SyncError{
		Code:       ErrCodePersist,
		WorkItemID: workItemID,
		Message:    "sync record not persisted",
		Err:        err,
	}
}

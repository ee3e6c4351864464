package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/tracker"
)

func TestSyncError_Format(t *testing.T) {
	err := &SyncError{Code: ErrCodeRemote, WorkItemID: "T1", Message: "create", Err: errors.New("boom")}
	assert.Equal(t, "REMOTE_FAILED: create: boom (work_item=T1)", err.Error())

	bare := &SyncError{Code: ErrCodeHierarchy, Message: "bad tree"}
	assert.Equal(t, "HIERARCHY_VIOLATION: bad tree", bare.Error())
}

func TestSyncError_Detail(t *testing.T) {
	assert.Equal(t, "create: boom", (&SyncError{Code: ErrCodeRemote, WorkItemID: "T1", Message: "create", Err: errors.New("boom")}).Detail())
	assert.Equal(t, "boom", (&SyncError{Code: ErrCodeRemote, Err: errors.New("boom")}).Detail())
	assert.Equal(t, "bad tree", (&SyncError{Code: ErrCodeHierarchy, WorkItemID: "T1", Message: "bad tree"}).Detail())
}

func TestRemoteError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      ErrorCode
		transient bool
	}{
		{"rate limited", fmt.Errorf("create: %w", tracker.ErrRateLimited), ErrCodeTransient, true},
		{"timeout", tracker.ErrTimeout, ErrCodeTransient, true},
		{"not found", tracker.ErrNotFound, ErrCodeOrphaned, false},
		{"other", errors.New("bad request"), ErrCodeRemote, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := remoteError("T1", tt.err)
			var se *SyncError
			assert.ErrorAs(t, err, &se)
			assert.Equal(t, tt.code, se.Code)
			assert.Equal(t, tt.transient, batch.IsTransient(err))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestPersistErrorIsTransient(t *testing.T) {
	err := newPersistError("T1", errors.New("locked"))
	assert.True(t, IsPersistError(err))
	assert.True(t, batch.IsTransient(err))
	assert.False(t, IsHierarchyError(err))
}

func TestIsHierarchyError_Wrapped(t *testing.T) {
	err := fmt.Errorf("reconcile: %w", newHierarchyError("T1.1", "parent %s is not linked", "T1"))
	assert.True(t, IsHierarchyError(err))
	assert.Contains(t, err.Error(), "parent T1 is not linked")
	assert.False(t, IsHierarchyError(errors.New("plain")))
}

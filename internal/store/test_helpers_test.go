package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/treesync/internal/model"
)

// createTestStore creates a new store in a temp directory for testing.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var testTime = time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)

// createTestRecord creates a sync record with minimal required fields.
func createTestRecord(workItemID, remoteID, number string) model.SyncRecord {
	return model.SyncRecord{
		WorkItemID:            workItemID,
		RemoteID:              remoteID,
		RemoteNumber:          number,
		RemoteContainerID:     "team-1",
		LastSyncedAt:          testTime,
		LastKnownRemoteStatus: model.RemoteBacklog,
	}
}

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/model"
)

func TestPutRecord_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestRecord("T1", "r-1", "ENG-1")
	rec.RemoteParentID = ""
	require.NoError(t, s.PutRecord(ctx, rec))

	got, found, err := s.GetRecord(ctx, "T1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, rec, got)
}

func TestPutRecord_ReplacesExisting(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, createTestRecord("T1", "r-1", "ENG-1")))

	updated := createTestRecord("T1", "r-1", "ENG-7")
	updated.LastKnownRemoteStatus = model.RemoteDone
	updated.LastSyncedAt = testTime.Add(time.Hour)
	require.NoError(t, s.PutRecord(ctx, updated))

	got, found, err := s.GetRecord(ctx, "T1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "ENG-7", got.RemoteNumber)
	assert.Equal(t, model.RemoteDone, got.LastKnownRemoteStatus)
	assert.True(t, got.LastSyncedAt.Equal(testTime.Add(time.Hour)))

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM sync_records").Scan(&count))
	assert.Equal(t, 1, count, "one record per work item")
}

func TestPutRecord_RejectsEmptyIDs(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	assert.Error(t, s.PutRecord(ctx, createTestRecord("", "r-1", "ENG-1")))
	assert.Error(t, s.PutRecord(ctx, createTestRecord("T1", "", "ENG-1")))
}

func TestPutRecord_StoresUTC(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	rec := createTestRecord("T1", "r-1", "ENG-1")
	rec.LastSyncedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("X", 3600))
	require.NoError(t, s.PutRecord(ctx, rec))

	got, _, err := s.GetRecord(ctx, "T1")
	require.NoError(t, err)
	assert.True(t, got.LastSyncedAt.Equal(rec.LastSyncedAt))
	assert.Equal(t, time.UTC, got.LastSyncedAt.Location())
}

func TestGetRecord_NotFound(t *testing.T) {
	s := createTestStore(t)

	_, found, err := s.GetRecord(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFindByRemoteID(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutRecord(ctx, createTestRecord("T1", "r-1", "ENG-1")))
	require.NoError(t, s.PutRecord(ctx, createTestRecord("T2", "r-2", "ENG-2")))

	got, found, err := s.FindByRemoteID(ctx, "r-2")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "T2", got.WorkItemID)

	_, found, err = s.FindByRemoteID(ctx, "r-9")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListSubtreeRecords(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, rec := range []model.SyncRecord{
		createTestRecord("T1", "r-1", "ENG-1"),
		createTestRecord("T1.2", "r-3", "ENG-3"),
		createTestRecord("T1.1", "r-2", "ENG-2"),
		createTestRecord("T10", "r-4", "ENG-4"),
		createTestRecord("T10.1", "r-5", "ENG-5"),
	} {
		require.NoError(t, s.PutRecord(ctx, rec))
	}

	recs, err := s.ListSubtreeRecords(ctx, "T1")
	require.NoError(t, err)

	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.WorkItemID
	}
	assert.Equal(t, []string{"T1", "T1.1", "T1.2"}, ids, "T10 must not match T1 prefix")
}

func TestListSubtreeRecords_Empty(t *testing.T) {
	s := createTestStore(t)

	recs, err := s.ListSubtreeRecords(context.Background(), "T1")
	require.NoError(t, err)
	assert.NotNil(t, recs)
	assert.Empty(t, recs)
}

func TestDuplicateEvents_Ordered(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	cand := &model.RemoteObject{
		RemoteID:     "r-1",
		RemoteNumber: "ENG-1",
		Title:        "User Login",
		Status:       model.RemoteBacklog,
		ContainerID:  "team-1",
	}
	require.NoError(t, s.WriteDuplicateEvent(ctx, model.DuplicateEvent{
		WorkItemID: "T1",
		Candidate:  cand,
		Confidence: 0.8,
		Resolution: model.ResolutionManualReview,
		RunID:      "run-1",
		RecordedAt: testTime,
	}))
	require.NoError(t, s.WriteDuplicateEvent(ctx, model.DuplicateEvent{
		WorkItemID: "T1",
		Confidence: 0,
		Resolution: model.ResolutionCreated,
		RunID:      "run-2",
		RecordedAt: testTime.Add(time.Minute),
	}))
	require.NoError(t, s.WriteDuplicateEvent(ctx, model.DuplicateEvent{
		WorkItemID: "T2",
		Resolution: model.ResolutionCreated,
		RecordedAt: testTime,
	}))

	events, err := s.ReadDuplicateEvents(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, model.ResolutionManualReview, events[0].Resolution)
	require.NotNil(t, events[0].Candidate)
	assert.Equal(t, *cand, *events[0].Candidate)
	assert.InDelta(t, 0.8, events[0].Confidence, 1e-9)
	assert.Equal(t, "run-1", events[0].RunID)

	assert.Equal(t, model.ResolutionCreated, events[1].Resolution)
	assert.Nil(t, events[1].Candidate)
}

func TestOperations_ByItemAndRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	entries := []OperationEntry{
		{RunID: "run-1", OperationID: "op-a", WorkItemID: "T1", Kind: "create", Outcome: OutcomeSucceeded, Attempts: 1, RecordedAt: testTime},
		{RunID: "run-1", OperationID: "op-b", WorkItemID: "T1.1", Kind: "create", Outcome: OutcomeFailed, Attempts: 3, Error: "rate limited", RecordedAt: testTime},
		{RunID: "run-2", OperationID: "op-c", WorkItemID: "T1", Kind: "update_status", Outcome: OutcomeSucceeded, Attempts: 1, RecordedAt: testTime},
	}
	for _, e := range entries {
		require.NoError(t, s.WriteOperation(ctx, e))
	}

	byItem, err := s.ReadOperations(ctx, "T1")
	require.NoError(t, err)
	require.Len(t, byItem, 2)
	assert.Equal(t, "op-a", byItem[0].OperationID)
	assert.Equal(t, "op-c", byItem[1].OperationID)
	assert.Less(t, byItem[0].Seq, byItem[1].Seq)

	byRun, err := s.ReadRunOperations(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, byRun, 2)
	assert.Equal(t, OutcomeFailed, byRun[1].Outcome)
	assert.Equal(t, 3, byRun[1].Attempts)
	assert.Equal(t, "rate limited", byRun[1].Error)
}

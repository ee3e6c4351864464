package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/metadata"
	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/tracker"
)

func TestSyncStatus_RoundTrip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.reconcile(t, "T2").OK())

	res, err := env.engine.SyncStatus(ctx, "T2", model.StatusDone)

	require.NoError(t, err)
	assert.Equal(t, SyncApplied, res.Outcome)
	assert.False(t, res.Reconciled)
	assert.Equal(t, model.RemoteDone, res.RemoteStatus)

	item, err := env.items.GetWorkItem(ctx, "T2")
	require.NoError(t, err)
	assert.Equal(t, model.StatusDone, item.Status)

	rec := env.record(t, "T2")
	assert.Equal(t, model.RemoteDone, rec.LastKnownRemoteStatus)
	assert.Equal(t, model.RemoteDone, env.object(t, rec.RemoteID).Status)

	rep, err := env.engine.Validate(ctx, "T2")
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.True(t, rep.InSync())
}

func TestSyncStatus_ReconcilesUnlinkedItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	res, err := env.engine.SyncStatus(ctx, "T1.3", model.StatusActive)

	require.NoError(t, err)
	assert.Equal(t, SyncApplied, res.Outcome)
	assert.True(t, res.Reconciled)
	assert.Equal(t, 10, env.remote.Len(), "whole subtree reconciled")

	rec := env.record(t, "T1.3")
	assert.Equal(t, rec.RemoteID, res.RemoteID)
	assert.Equal(t, model.RemoteInProgress, env.object(t, rec.RemoteID).Status)
	// Ten creations plus exactly one status update.
	assert.Equal(t, 11, env.remote.Writes())
}

func TestSyncStatus_RemoteFailureIsDeferred(t *testing.T) {
	var wrapper *failingUpdates
	env := newTestEnv(t, withTrackerWrapper(func(m *tracker.Memory) tracker.Tracker {
		wrapper = &failingUpdates{Memory: m, err: errors.New("tracker unavailable")}
		return wrapper
	}))
	ctx := context.Background()
	require.True(t, env.reconcile(t, "T3").OK())

	res, err := env.engine.SyncStatus(ctx, "T3", model.StatusBlocked)

	require.NoError(t, err)
	assert.Equal(t, SyncDeferred, res.Outcome)
	assert.Contains(t, res.Error, "tracker unavailable")

	item, err := env.items.GetWorkItem(ctx, "T3")
	require.NoError(t, err)
	assert.Equal(t, model.StatusBlocked, item.Status, "local change is kept")

	notes := env.notes(t, "T3")
	require.Len(t, notes, 1)
	assert.Contains(t, notes[0], "not mirrored")

	assert.Equal(t, model.RemoteBacklog, env.record(t, "T3").LastKnownRemoteStatus)

	rep, err := env.engine.Validate(ctx, "T3")
	require.NoError(t, err)
	assert.True(t, rep.OK())
	assert.False(t, rep.InSync())
}

func TestSyncStatus_InvalidStatus(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.SyncStatus(context.Background(), "T2", "wip")

	require.Error(t, err)
	assert.Zero(t, env.remote.Writes())
}

func TestSyncStatus_UnknownItem(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.SyncStatus(context.Background(), "T9", model.StatusDone)

	require.Error(t, err)
}

func TestValidate_ReportsEveryLinkState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	require.True(t, env.reconcile(t, "T1").OK())

	env.remote.Delete(env.record(t, "T1.1").RemoteID)
	require.NoError(t, env.remote.Renumber(env.record(t, "T1.2").RemoteID, "OPS-7"))
	writes := env.remote.Writes()

	rep, err := env.engine.Validate(ctx, "T1")

	require.NoError(t, err)
	require.Len(t, rep.Items, 10)
	assert.False(t, rep.OK())

	byID := make(map[string]ItemValidation)
	for _, iv := range rep.Items {
		byID[iv.WorkItemID] = iv
	}
	assert.Equal(t, metadata.Valid, byID["T1"].Result)
	assert.True(t, byID["T1"].StatusInSync)
	assert.Equal(t, metadata.Orphaned, byID["T1.1"].Result)
	assert.Equal(t, metadata.Mismatch, byID["T1.2"].Result)
	assert.Equal(t, "OPS-7", byID["T1.2"].ObservedNumber)

	assert.Equal(t, writes, env.remote.Writes())
	assert.NotEqual(t, "OPS-7", env.record(t, "T1.2").RemoteNumber, "validate never writes")
}

func TestValidate_Unlinked(t *testing.T) {
	env := newTestEnv(t)

	rep, err := env.engine.Validate(context.Background(), "T3")

	require.NoError(t, err)
	require.Len(t, rep.Items, 1)
	assert.Equal(t, Unlinked, rep.Items[0].Result)
	assert.False(t, rep.OK())
}

package engine

import (
	"context"
	"fmt"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/model"
)

// repairDrift pushes the mapped local status of every linked item whose last
// known remote status differs. Failures are noted and retried on the next
// reconcile; they never fail the item.
func (e *Engine) repairDrift(ctx context.Context, rn *run, tree subtree) error {
	var ops []batch.Operation
	for _, it := range tree.items() {
		if rn.state(it.ID) != StateLinked {
			continue
		}
		rec, found, err := e.meta.Get(ctx, it.ID)
		if err != nil || !found {
			continue
		}
		desired, err := Statuses.ToRemote(it.Status)
		if err != nil {
			e.logger.Warn("unmapped local status", "work_item", it.ID, "status", it.Status)
			continue
		}
		if rec.LastKnownRemoteStatus == desired {
			continue
		}
		ops = append(ops, e.statusOp(rn.sess, it.ID, rec, desired))
	}
	if len(ops) == 0 {
		return nil
	}

	sum, err := e.exec.Execute(ctx, ops)
	rn.addOperations(sum)
	e.logOperations(ctx, rn.sess.RunID, sum)

	rn.mu.Lock()
	rn.updates += len(sum.Succeeded)
	rn.mu.Unlock()

	for _, r := range sum.Failed {
		e.note(ctx, r.WorkItemID, fmt.Sprintf("status update failed after %d attempt(s), will retry on next reconcile: %v", r.Attempts, r.Err))
	}
	return err
}

// statusOp builds the single remote status update for one linked item.
func (e *Engine) statusOp(sess *SessionState, workItemID string, rec model.SyncRecord, desired model.RemoteStatus) batch.Operation {
	return batch.Operation{
		ID: model.MustOperationID(sess.RunID, model.OpUpdateStatus, workItemID, map[string]string{
			"remote_id": rec.RemoteID,
			"status":    string(desired),
		}),
		WorkItemID: workItemID,
		Kind:       model.OpUpdateStatus,
		Run: func(ctx context.Context, _ int) error {
			if err := e.remote.UpdateObjectStatus(ctx, rec.RemoteID, desired); err != nil {
				return remoteError(workItemID, err)
			}
			updated := rec
			updated.LastKnownRemoteStatus = desired
			updated.LastSyncedAt = e.clock().Now()
			if err := e.meta.Commit(ctx, workItemID, updated, func() { sess.MarkLinked(updated) }); err != nil {
				return newPersistError(workItemID, err)
			}
			return nil
		},
	}
}

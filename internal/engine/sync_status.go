package engine

import (
	"context"
	"fmt"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/model"
)

// SyncOutcome is the result of a status synchronization.
type SyncOutcome string

const (
	// SyncApplied: the remote object now carries the mapped status.
	SyncApplied SyncOutcome = "synced"
	// SyncDeferred: the local change stands; the remote update will be
	// retried by the next reconcile.
	SyncDeferred SyncOutcome = "deferred"
)

// SyncResult reports one SyncStatus call.
type SyncResult struct {
	WorkItemID   string             `json:"work_item_id"`
	LocalStatus  model.Status       `json:"local_status"`
	RemoteStatus model.RemoteStatus `json:"remote_status"`
	RemoteID     string             `json:"remote_id,omitempty"`
	RemoteNumber string             `json:"remote_number,omitempty"`
	Outcome      SyncOutcome        `json:"outcome"`
	Reconciled   bool               `json:"reconciled,omitempty"`
	Error        string             `json:"error,omitempty"`
}

// SyncStatus applies status locally and mirrors it to the remote object.
//
// The local change always happens first and is never rolled back. If the
// item has no record yet its subtree is reconciled first. The remote update
// runs as one executor operation; a failure is noted on the work item and
// reported as SyncDeferred with a nil error.
func (e *Engine) SyncStatus(ctx context.Context, workItemID string, status model.Status) (*SyncResult, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("sync status %s: invalid status %q", workItemID, status)
	}
	remoteStatus, err := Statuses.ToRemote(status)
	if err != nil {
		return nil, fmt.Errorf("sync status %s: %w", workItemID, err)
	}

	item, err := e.items.GetWorkItem(ctx, workItemID)
	if err != nil {
		return nil, fmt.Errorf("sync status %s: %w", workItemID, err)
	}
	if item.Status != status {
		if err := e.items.SetStatus(ctx, workItemID, status); err != nil {
			return nil, fmt.Errorf("sync status %s: set local status: %w", workItemID, err)
		}
	}

	res := &SyncResult{
		WorkItemID:   workItemID,
		LocalStatus:  status,
		RemoteStatus: remoteStatus,
	}

	rec, found, err := e.meta.Get(ctx, workItemID)
	if err != nil {
		return e.deferSync(ctx, res, err), nil
	}
	if !found {
		root := item.ID
		if item.IsSubtask() {
			root = item.ParentID
		}
		res.Reconciled = true
		rep, err := e.Reconcile(ctx, root)
		if err != nil {
			return e.deferSync(ctx, res, err), nil
		}
		rec, found, err = e.meta.Get(ctx, workItemID)
		if err != nil || !found {
			return e.deferSync(ctx, res, fmt.Errorf("no remote object after reconcile (ok=%t)", rep.OK())), nil
		}
		if rec.LastKnownRemoteStatus == remoteStatus {
			// The reconcile's drift phase already pushed the status.
			res.RemoteID, res.RemoteNumber = rec.RemoteID, rec.RemoteNumber
			res.Outcome = SyncApplied
			return res, nil
		}
	}
	res.RemoteID, res.RemoteNumber = rec.RemoteID, rec.RemoteNumber

	sess := e.NewSession()
	result, err := e.exec.RunOne(ctx, e.statusOp(sess, workItemID, rec, remoteStatus))
	e.logOperations(ctx, sess.RunID, summaryOf(result))
	if err != nil {
		return e.deferSync(ctx, res, err), nil
	}
	if result.Err != nil {
		return e.deferSync(ctx, res, result.Err), nil
	}

	e.logger.Info("status synced",
		"work_item", workItemID,
		"status", status,
		"remote_id", rec.RemoteID,
		"remote_status", remoteStatus)
	res.Outcome = SyncApplied
	return res, nil
}

func (e *Engine) deferSync(ctx context.Context, res *SyncResult, cause error) *SyncResult {
	res.Outcome = SyncDeferred
	res.Error = cause.Error()
	e.logger.Warn("status sync deferred",
		"work_item", res.WorkItemID,
		"status", res.LocalStatus,
		"error", cause)
	e.note(ctx, res.WorkItemID, fmt.Sprintf("status %s not mirrored, will retry on next reconcile: %v", res.LocalStatus, cause))
	return res
}

func summaryOf(r batch.Result) batch.Summary {
	if r.Err != nil {
		return batch.Summary{Failed: []batch.Result{r}}
	}
	return batch.Summary{Succeeded: []batch.Result{r}}
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/tracker"
)

// subtree is a validated reconciliation scope.
type subtree struct {
	parent   model.WorkItem
	subtasks []model.WorkItem
	// subtaskRoot is set when the caller asked for a single subtask; the
	// parent must then already be linked and is not written.
	subtaskRoot bool
}

// items returns the items whose remote objects this run is responsible for.
func (t subtree) items() []model.WorkItem {
	if t.subtaskRoot {
		return t.subtasks
	}
	return append([]model.WorkItem{t.parent}, t.subtasks...)
}

// Reconcile ensures every item of the subtree rooted at root has a valid,
// linked remote object, using a fresh SessionState.
//
// Operation failures are reported in the returned report, not as an error.
// A hierarchy violation aborts before any write and is returned as a
// *SyncError with ErrCodeHierarchy. Cancellation between batches returns the
// partial report together with ctx.Err().
func (e *Engine) Reconcile(ctx context.Context, root string) (*ReconciliationReport, error) {
	return e.ReconcileSession(ctx, e.NewSession(), root)
}

// ReconcileSession is Reconcile with a caller-provided session.
func (e *Engine) ReconcileSession(ctx context.Context, sess *SessionState, root string) (*ReconciliationReport, error) {
	rn := newRun(sess, root)

	tree, err := e.loadSubtree(ctx, root)
	if err != nil {
		e.noteHierarchy(ctx, err)
		return rn.report(), err
	}
	for _, it := range tree.items() {
		rn.track(it.ID)
	}

	e.warmStart(ctx, sess, tree)

	e.logger.Info("reconcile started",
		"run", sess.RunID,
		"root", root,
		"subtasks", len(tree.subtasks),
		"container", sess.Container.ContainerID)

	parentRemoteID, ok, err := e.reconcileParent(ctx, rn, tree)
	if err != nil {
		return rn.report(), err
	}
	if !ok {
		e.logger.Warn("parent not linked, skipping subtasks",
			"run", sess.RunID,
			"root", tree.parent.ID)
		return rn.report(), nil
	}

	if err := e.reconcileSubtasks(ctx, rn, tree.subtasks, parentRemoteID); err != nil {
		return rn.report(), err
	}

	if err := e.runGate(ctx, rn, tree, parentRemoteID); err != nil {
		return rn.report(), err
	}

	if err := e.repairDrift(ctx, rn, tree); err != nil {
		return rn.report(), err
	}

	rep := rn.report()
	e.logger.Info("reconcile finished",
		"run", sess.RunID,
		"root", root,
		"ok", rep.OK(),
		"operations", len(rep.Operations),
		"hard_failures", len(rep.HardFailures))
	return rep, nil
}

// loadSubtree reads and validates the scope of root.
func (e *Engine) loadSubtree(ctx context.Context, root string) (subtree, error) {
	items, err := e.items.ListWorkItems(ctx, root)
	if err != nil {
		return subtree{}, fmt.Errorf("list work items %s: %w", root, err)
	}

	idx := slices.IndexFunc(items, func(it model.WorkItem) bool { return it.ID == root })
	if idx < 0 {
		return subtree{}, newHierarchyError(root, "work item not found")
	}
	rootItem := items[idx]

	if rootItem.IsSubtask() {
		parent, err := e.items.GetWorkItem(ctx, rootItem.ParentID)
		if err != nil {
			return subtree{}, newHierarchyError(root, "parent %s: %v", rootItem.ParentID, err)
		}
		if err := model.ValidateHierarchy([]model.WorkItem{parent, rootItem}); err != nil {
			return subtree{}, &SyncError{Code: ErrCodeHierarchy, WorkItemID: root, Err: err}
		}
		return subtree{parent: parent, subtasks: []model.WorkItem{rootItem}, subtaskRoot: true}, nil
	}

	if err := model.ValidateHierarchy(items); err != nil {
		return subtree{}, &SyncError{Code: ErrCodeHierarchy, WorkItemID: root, Err: err}
	}

	var subs []model.WorkItem
	for i, it := range items {
		if i == idx {
			continue
		}
		if it.ParentID != root {
			return subtree{}, newHierarchyError(it.ID, "not part of subtree %s", root)
		}
		subs = append(subs, it)
	}
	slices.SortFunc(subs, func(a, b model.WorkItem) int {
		_, ai, _ := model.SplitSubtaskID(a.ID)
		_, bi, _ := model.SplitSubtaskID(b.ID)
		return ai - bi
	})
	return subtree{parent: rootItem, subtasks: subs}, nil
}

// warmStart seeds the session with the subtree's persisted records. Records
// whose object shows up unchanged in one container listing count as
// validated, so only the rest cost a GetObject each during resolution.
func (e *Engine) warmStart(ctx context.Context, sess *SessionState, tree subtree) {
	recs, err := e.meta.ListSubtree(ctx, tree.parent.ID)
	if err != nil {
		e.logger.Warn("warm start failed", "root", tree.parent.ID, "error", err)
		return
	}
	if len(recs) == 0 {
		return
	}

	listing, err := sess.ListContainer(ctx, e.remote, sess.Container.ContainerID)
	if err != nil {
		e.logger.Warn("warm start listing failed, validating records one by one",
			"root", tree.parent.ID,
			"error", err)
	}
	confirmed := sess.WarmStart(recs, listing)
	e.logger.Debug("warm start",
		"root", tree.parent.ID,
		"records", len(recs),
		"confirmed", confirmed)
}

// resolve runs the resolver and notes any orphaned link or refreshed handle
// on the work item. Ambiguous duplicates are noted after creation, once the
// new object's number is known.
func (e *Engine) resolve(ctx context.Context, sess *SessionState, item model.WorkItem, parentRemoteID string) (Decision, error) {
	dec, err := e.resolver.Resolve(ctx, sess, item, parentRemoteID)
	if err != nil {
		return dec, err
	}
	for _, n := range dec.Notices {
		if n.Code == ErrCodeAmbiguousDuplicate {
			continue
		}
		e.note(ctx, item.ID, n.Detail())
	}
	return dec, nil
}

// noteHierarchy records a hierarchy violation on the offending work item.
func (e *Engine) noteHierarchy(ctx context.Context, err error) {
	var se *SyncError
	if !errors.As(err, &se) || se.Code != ErrCodeHierarchy || se.WorkItemID == "" {
		return
	}
	e.note(ctx, se.WorkItemID, "hierarchy violation: "+se.Detail())
}

// reconcileParent links or creates the parent. ok is false when the parent
// did not end linked; err is non-nil only for hierarchy violations and
// cancellation.
func (e *Engine) reconcileParent(ctx context.Context, rn *run, tree subtree) (remoteID string, ok bool, err error) {
	parent := tree.parent
	sess := rn.sess

	if tree.subtaskRoot {
		dec, err := e.resolve(ctx, sess, parent, "")
		if err != nil {
			return "", false, err
		}
		if dec.Action == ActionCreate {
			err := newHierarchyError(tree.subtasks[0].ID, "parent %s is not linked; reconcile %s first", parent.ID, parent.ID)
			e.noteHierarchy(ctx, err)
			return "", false, err
		}
		return dec.Record.RemoteID, true, nil
	}

	if !sess.Claim(parent.ID) {
		rn.failed(parent.ID, fmt.Errorf("already being reconciled in this run"))
		return "", false, nil
	}
	defer sess.Release(parent.ID)

	rn.setState(parent.ID, StateResolving)
	dec, err := e.resolve(ctx, sess, parent, "")
	if err != nil {
		rn.failed(parent.ID, err)
		e.note(ctx, parent.ID, fmt.Sprintf("resolve failed: %v", err))
		return "", false, nil
	}

	if dec.Action != ActionCreate {
		rn.linked(parent.ID, dec.Record, dec)
		return dec.Record.RemoteID, true, nil
	}

	sum, err := e.exec.Execute(ctx, []batch.Operation{e.createOp(rn, parent, "", dec)})
	e.applyCreateSummary(ctx, rn, sum)
	if err != nil {
		return "", false, err
	}
	if !sum.OK() {
		return "", false, nil
	}

	rec, found, err := e.meta.Get(ctx, parent.ID)
	if err != nil || !found {
		rn.failed(parent.ID, fmt.Errorf("record missing after create: %v", err))
		return "", false, nil
	}
	return rec.RemoteID, true, nil
}

// reconcileSubtasks resolves every subtask and submits all creations as one
// executor call.
func (e *Engine) reconcileSubtasks(ctx context.Context, rn *run, subs []model.WorkItem, parentRemoteID string) error {
	sess := rn.sess
	var (
		ops     []batch.Operation
		claimed []string
	)
	defer func() {
		for _, id := range claimed {
			sess.Release(id)
		}
	}()

	for _, sub := range subs {
		if !sess.Claim(sub.ID) {
			rn.failed(sub.ID, fmt.Errorf("already being reconciled in this run"))
			continue
		}
		claimed = append(claimed, sub.ID)

		rn.setState(sub.ID, StateResolving)
		dec, err := e.resolve(ctx, sess, sub, parentRemoteID)
		if err != nil {
			rn.failed(sub.ID, err)
			e.note(ctx, sub.ID, fmt.Sprintf("resolve failed: %v", err))
			continue
		}
		if dec.Action != ActionCreate {
			rn.linked(sub.ID, dec.Record, dec)
			continue
		}
		ops = append(ops, e.createOp(rn, sub, parentRemoteID, dec))
	}

	if len(ops) == 0 {
		return nil
	}
	sum, err := e.exec.Execute(ctx, ops)
	e.applyCreateSummary(ctx, rn, sum)
	return err
}

// createOp builds the creation operation for one item. The record is
// persisted from inside the operation so a crash loses at most the
// operation in flight.
func (e *Engine) createOp(rn *run, item model.WorkItem, parentRemoteID string, dec Decision) batch.Operation {
	sess := rn.sess
	return batch.Operation{
		ID: model.MustOperationID(sess.RunID, model.OpCreate, item.ID, map[string]string{
			"title":            item.Title,
			"parent_remote_id": parentRemoteID,
		}),
		WorkItemID: item.ID,
		Kind:       model.OpCreate,
		Run: func(ctx context.Context, attempt int) error {
			rn.setState(item.ID, StateWriting)

			if attempt > 1 {
				rec, found, err := e.adoptEarlierAttempt(ctx, sess, item, parentRemoteID)
				if err != nil {
					return err
				}
				if found {
					rn.linked(item.ID, rec, dec)
					return nil
				}
			}

			created, err := e.remote.CreateObject(ctx, tracker.CreateRequest{
				Title:          item.Title,
				Body:           item.Body,
				ContainerID:    sess.Container.ContainerID,
				ParentRemoteID: parentRemoteID,
			})
			if err != nil {
				return remoteError(item.ID, err)
			}

			rec := model.SyncRecord{
				WorkItemID:            item.ID,
				RemoteID:              created.RemoteID,
				RemoteNumber:          created.RemoteNumber,
				RemoteParentID:        parentRemoteID,
				RemoteContainerID:     sess.Container.ContainerID,
				LastSyncedAt:          e.clock().Now(),
				LastKnownRemoteStatus: model.RemoteBacklog,
			}
			if err := e.meta.Commit(ctx, item.ID, rec, func() { sess.MarkCreated(rec) }); err != nil {
				return newPersistError(item.ID, err)
			}
			rn.linked(item.ID, rec, dec)

			e.logger.Info("created remote object",
				"run", sess.RunID,
				"work_item", item.ID,
				"remote_id", rec.RemoteID,
				"remote_number", rec.RemoteNumber,
				"attempt", attempt)

			if dec.Flagged && dec.Candidate != nil {
				e.flagDuplicate(ctx, item, rec, dec)
			}
			return nil
		},
	}
}

// adoptEarlierAttempt links an exact-title object in scope that a previous,
// apparently failed attempt created.
func (e *Engine) adoptEarlierAttempt(ctx context.Context, sess *SessionState, item model.WorkItem, parentRemoteID string) (model.SyncRecord, bool, error) {
	objs, err := e.remote.ListObjects(ctx, sess.Container.ContainerID, item.Title)
	if err != nil {
		return model.SyncRecord{}, false, remoteError(item.ID, err)
	}
	for _, obj := range objs {
		if obj.Title != item.Title || obj.ParentRemoteID != parentRemoteID {
			continue
		}
		claimed, err := e.resolver.claimedByOther(ctx, item.ID, obj.RemoteID)
		if err != nil {
			return model.SyncRecord{}, false, err
		}
		if claimed {
			continue
		}
		rec := recordFromObject(item.ID, obj, parentRemoteID, e.clock().Now())
		if err := e.meta.Commit(ctx, item.ID, rec, func() { sess.MarkCreated(rec) }); err != nil {
			return model.SyncRecord{}, false, newPersistError(item.ID, err)
		}
		e.logger.Info("adopted object from earlier attempt",
			"work_item", item.ID,
			"remote_id", rec.RemoteID)
		return rec, true, nil
	}
	return model.SyncRecord{}, false, nil
}

// flagDuplicate leaves an audit trail for a creation that resembled an
// existing object: a comment on the new object and a note on the work item.
func (e *Engine) flagDuplicate(ctx context.Context, item model.WorkItem, rec model.SyncRecord, dec Decision) {
	text := fmt.Sprintf("Possible duplicate of %s %q (confidence %.2f). Review and merge manually.",
		dec.Candidate.RemoteNumber, dec.Candidate.Title, dec.Score)
	if err := e.remote.AddComment(ctx, rec.RemoteID, text); err != nil {
		e.logger.Warn("duplicate comment failed",
			"work_item", item.ID,
			"remote_id", rec.RemoteID,
			"error", err)
	}
	for _, n := range dec.Notices {
		if n.Code == ErrCodeAmbiguousDuplicate {
			e.note(ctx, item.ID, fmt.Sprintf("created %s; %s, needs manual review", rec.RemoteNumber, n.Detail()))
		}
	}
}

// applyCreateSummary records creation outcomes: failures mark the item
// failed and leave a note.
func (e *Engine) applyCreateSummary(ctx context.Context, rn *run, sum batch.Summary) {
	rn.addOperations(sum)
	e.logOperations(ctx, rn.sess.RunID, sum)

	for _, r := range sum.Failed {
		rn.failed(r.WorkItemID, r.Err)
		e.note(ctx, r.WorkItemID, fmt.Sprintf("%s failed after %d attempt(s): %v", r.Kind, r.Attempts, r.Err))
	}
}

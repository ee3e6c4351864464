package engine

import (
	"context"
	"fmt"

	"github.com/roach88/treesync/internal/model"
)

// runGate verifies that every item of the subtree is observable in the
// container and re-creates what is missing, for at most the configured
// number of passes. Items still missing afterwards become hard failures.
func (e *Engine) runGate(ctx context.Context, rn *run, tree subtree, parentRemoteID string) error {
	budget := NewRecoveryBudget(e.recovery.MaxPasses)
	expected := tree.items()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		missing, err := e.findMissing(ctx, rn.sess, expected)
		if err != nil {
			e.logger.Warn("gate could not observe container", "root", rn.root, "error", err)
			return nil
		}
		if len(missing) == 0 {
			return nil
		}

		// Freshly created objects may not be listed yet.
		if err := e.clock().Sleep(ctx, e.recovery.IndexWait); err != nil {
			return err
		}
		missing, err = e.findMissing(ctx, rn.sess, expected)
		if err != nil {
			e.logger.Warn("gate could not observe container", "root", rn.root, "error", err)
			return nil
		}
		if len(missing) == 0 {
			return nil
		}

		if err := budget.Take(rn.root); err != nil {
			e.reportHardFailures(ctx, rn, missing, err)
			return nil
		}
		rn.mu.Lock()
		rn.passes = budget.Used()
		rn.mu.Unlock()

		e.logger.Info("recovery pass",
			"run", rn.sess.RunID,
			"root", rn.root,
			"pass", budget.Used(),
			"missing", len(missing))

		parentRemoteID = e.recoverMissing(ctx, rn, tree, missing, parentRemoteID)
	}
}

// findMissing returns the expected items whose linked object is not listed
// in the container.
func (e *Engine) findMissing(ctx context.Context, sess *SessionState, expected []model.WorkItem) ([]model.WorkItem, error) {
	objs, err := e.remote.ListObjects(ctx, sess.Container.ContainerID, "")
	if err != nil {
		return nil, err
	}
	observed := make(map[string]bool, len(objs))
	for _, o := range objs {
		observed[o.RemoteID] = true
	}

	var missing []model.WorkItem
	for _, it := range expected {
		rec, found, err := e.meta.Get(ctx, it.ID)
		if err != nil {
			return nil, err
		}
		if !found || !observed[rec.RemoteID] {
			missing = append(missing, it)
		}
	}
	return missing, nil
}

// recoverMissing re-resolves and re-submits each missing item as its own
// single-operation batch. Returns the parent's remote ID, which changes when
// the parent itself had to be re-created.
func (e *Engine) recoverMissing(ctx context.Context, rn *run, tree subtree, missing []model.WorkItem, parentRemoteID string) string {
	sess := rn.sess

	for _, it := range missing {
		if ctx.Err() != nil {
			return parentRemoteID
		}

		scope := ""
		if it.IsSubtask() {
			scope = parentRemoteID
		}

		sess.Invalidate(it.ID)
		dec, err := e.resolve(ctx, sess, it, scope)
		if err != nil {
			rn.failed(it.ID, err)
			if !it.IsSubtask() {
				return parentRemoteID
			}
			continue
		}

		if dec.Action != ActionCreate {
			rn.linked(it.ID, dec.Record, dec)
			rn.update(it.ID, func(o *ItemOutcome) { o.Recovered = true })
			if !it.IsSubtask() {
				parentRemoteID = dec.Record.RemoteID
			}
			continue
		}

		res, err := e.exec.RunOne(ctx, e.createOp(rn, it, scope, dec))
		e.applyCreateSummary(ctx, rn, summaryOf(res))
		if err != nil {
			return parentRemoteID
		}

		if res.Err == nil {
			rn.update(it.ID, func(o *ItemOutcome) { o.Recovered = true })
			if !it.IsSubtask() {
				if rec, found, err := e.meta.Get(ctx, it.ID); err == nil && found {
					parentRemoteID = rec.RemoteID
				}
			}
		} else if !it.IsSubtask() {
			// Subtasks cannot be recovered under a missing parent.
			return parentRemoteID
		}
	}
	return parentRemoteID
}

func (e *Engine) reportHardFailures(ctx context.Context, rn *run, missing []model.WorkItem, cause error) {
	rn.mu.Lock()
	for _, it := range missing {
		rn.hard = append(rn.hard, it.ID)
	}
	rn.mu.Unlock()

	for _, it := range missing {
		err := fmt.Errorf("remote object missing after %d recovery pass(es)", e.recovery.MaxPasses)
		rn.failed(it.ID, err)
		e.note(ctx, it.ID, err.Error()+"; operator attention required")
		e.logger.Error("hard failure",
			"run", rn.sess.RunID,
			"work_item", it.ID,
			"cause", cause)
	}
}

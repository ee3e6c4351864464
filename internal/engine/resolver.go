package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/metadata"
	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/similarity"
	"github.com/roach88/treesync/internal/tracker"
)

// Action is what the resolver decided for one work item.
type Action string

const (
	// ActionLinked: the item already has a valid link. Nothing to do.
	ActionLinked Action = "linked"
	// ActionAutoLink: a near-identical remote object was linked. No remote write.
	ActionAutoLink Action = "auto_link"
	// ActionCreate: a new remote object must be created.
	ActionCreate Action = "create"
)

// Decision is the resolver's verdict for one work item.
type Decision struct {
	Action Action

	// Record is the persisted link for ActionLinked and ActionAutoLink.
	Record model.SyncRecord

	// Candidate is the best-scoring remote object, if any was considered.
	Candidate *model.RemoteObject
	Score     float64

	// Flagged is set when the best candidate scored in the review band.
	Flagged bool

	// Refreshed is set when a mismatched handle was refreshed.
	Refreshed bool

	// Orphaned is set when a stored link no longer resolved.
	Orphaned bool

	// Notices are the conditions met on the way to the decision that the
	// work item's owner should hear about: ErrCodeOrphaned, ErrCodeMismatch
	// and ErrCodeAmbiguousDuplicate.
	Notices []*SyncError
}

func (d *Decision) notice(code ErrorCode, workItemID, format string, args ...any) {
	d.Notices = append(d.Notices, &SyncError{
		Code:       code,
		WorkItemID: workItemID,
		Message:    fmt.Sprintf(format, args...),
	})
}

// AuditLog persists duplicate decisions and operation outcomes.
// *store.Store implements it.
type AuditLog interface {
	WriteDuplicateEvent(ctx context.Context, ev model.DuplicateEvent) error
}

// Resolver decides per work item between an existing link, linking a found
// duplicate, and creating a new remote object.
type Resolver struct {
	meta   *metadata.Store
	remote tracker.Reader
	audit  AuditLog
	clock  batch.Clock
	logger *slog.Logger
}

// NewResolver creates a resolver.
func NewResolver(meta *metadata.Store, remote tracker.Reader, audit AuditLog, clock batch.Clock, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = batch.RealClock{}
	}
	return &Resolver{meta: meta, remote: remote, audit: audit, clock: clock, logger: logger}
}

// Resolve decides what to do for item. parentRemoteID is the remote ID of the
// item's parent and must be set for subtasks.
//
// An existing valid record short-circuits to ActionLinked without looking at
// candidates. A mismatched record is refreshed in place (no remote write). An
// orphaned record is re-resolved like an unlinked item. Every decision that
// reaches candidate scoring is audited.
func (r *Resolver) Resolve(ctx context.Context, sess *SessionState, item model.WorkItem, parentRemoteID string) (Decision, error) {
	if item.IsSubtask() && parentRemoteID == "" {
		return Decision{}, newHierarchyError(item.ID, "parent %s is not linked", item.ParentID)
	}

	if sess.ValidatedThisRun(item.ID) {
		if rec, ok := sess.Record(item.ID); ok {
			return Decision{Action: ActionLinked, Record: rec}, nil
		}
	}

	dec, done, err := r.checkExisting(ctx, sess, item)
	if err != nil || done {
		return dec, err
	}

	cand, score, err := r.bestCandidate(ctx, sess, item, parentRemoteID)
	if err != nil {
		return Decision{}, err
	}
	dec.Candidate = cand
	dec.Score = score

	var resolution model.Resolution
	switch similarity.Classify(score) {
	case similarity.DecisionAutoLink:
		rec := recordFromObject(item.ID, *cand, parentRemoteID, r.clock.Now())
		if err := r.meta.Commit(ctx, item.ID, rec, func() { sess.MarkLinked(rec) }); err != nil {
			return Decision{}, newPersistError(item.ID, err)
		}
		dec.Action = ActionAutoLink
		dec.Record = rec
		resolution = model.ResolutionLinked
		r.logger.Info("auto-linked existing remote object",
			"work_item", item.ID,
			"remote_id", cand.RemoteID,
			"remote_number", cand.RemoteNumber,
			"score", score)
	case similarity.DecisionReview:
		dec.Action = ActionCreate
		dec.Flagged = true
		dec.notice(ErrCodeAmbiguousDuplicate, item.ID, "possible duplicate of %s (confidence %.2f)", cand.RemoteNumber, score)
		resolution = model.ResolutionManualReview
		r.logger.Warn("ambiguous duplicate flagged for review",
			"work_item", item.ID,
			"candidate", cand.RemoteNumber,
			"score", score)
	default:
		dec.Action = ActionCreate
		resolution = model.ResolutionCreated
	}

	ev := model.DuplicateEvent{
		WorkItemID: item.ID,
		Candidate:  cand,
		Confidence: score,
		Resolution: resolution,
		RunID:      sess.RunID,
		RecordedAt: r.clock.Now().UTC(),
	}
	sess.RecordDuplicate(ev)
	if r.audit != nil {
		if err := r.audit.WriteDuplicateEvent(ctx, ev); err != nil {
			r.logger.Error("duplicate event not persisted",
				"work_item", item.ID,
				"resolution", resolution,
				"error", err)
		}
	}
	return dec, nil
}

// checkExisting handles an item that already has a record. done is true when
// the decision is final.
func (r *Resolver) checkExisting(ctx context.Context, sess *SessionState, item model.WorkItem) (dec Decision, done bool, err error) {
	rec, found, err := r.meta.Get(ctx, item.ID)
	if err != nil {
		return Decision{}, true, fmt.Errorf("resolve %s: %w", item.ID, err)
	}
	if !found {
		return Decision{}, false, nil
	}

	v, err := r.meta.ValidateRecord(ctx, rec)
	if err != nil {
		return Decision{}, true, remoteError(item.ID, err)
	}

	switch v.Result {
	case metadata.Valid:
		if v.Remote.Status != rec.LastKnownRemoteStatus {
			rec.LastKnownRemoteStatus = v.Remote.Status
			rec.LastSyncedAt = r.clock.Now()
			if err := r.meta.Commit(ctx, item.ID, rec, func() { sess.MarkLinked(rec) }); err != nil {
				return Decision{}, true, newPersistError(item.ID, err)
			}
		} else {
			sess.MarkLinked(rec)
		}
		return Decision{Action: ActionLinked, Record: rec}, true, nil

	case metadata.Mismatch:
		r.logger.Warn("remote handle changed, refreshing record",
			"work_item", item.ID,
			"remote_id", rec.RemoteID,
			"stored", rec.RemoteNumber,
			"observed", v.Remote.RemoteNumber)
		dec = Decision{Action: ActionLinked, Refreshed: true}
		dec.notice(ErrCodeMismatch, item.ID, "remote number changed from %s to %s; record refreshed",
			rec.RemoteNumber, v.Remote.RemoteNumber)
		rec.RemoteNumber = v.Remote.RemoteNumber
		rec.LastKnownRemoteStatus = v.Remote.Status
		rec.LastSyncedAt = r.clock.Now()
		if err := r.meta.Commit(ctx, item.ID, rec, func() { sess.MarkLinked(rec) }); err != nil {
			return Decision{}, true, newPersistError(item.ID, err)
		}
		dec.Record = rec
		return dec, true, nil

	default:
		r.logger.Warn("orphaned link, re-resolving",
			"work_item", item.ID,
			"remote_id", rec.RemoteID,
			"remote_number", rec.RemoteNumber)
		sess.Invalidate(item.ID)
		dec = Decision{Orphaned: true}
		dec.notice(ErrCodeOrphaned, item.ID, "remote object %s (%s) no longer exists; re-resolving",
			rec.RemoteNumber, rec.RemoteID)
		return dec, false, nil
	}
}

// bestCandidate scores the in-scope remote objects against item's title.
// Objects linked to other work items are never candidates. Ties keep the
// earliest-created object.
func (r *Resolver) bestCandidate(ctx context.Context, sess *SessionState, item model.WorkItem, parentRemoteID string) (*model.RemoteObject, float64, error) {
	objs, err := sess.ListContainer(ctx, r.remote, sess.Container.ContainerID)
	if err != nil {
		return nil, 0, remoteError(item.ID, err)
	}

	var (
		best      *model.RemoteObject
		bestScore float64
	)
	for _, obj := range objs {
		if obj.ParentRemoteID != parentRemoteID {
			continue
		}
		score := similarity.Similarity(item.Title, obj.Title)
		if score <= 0 || (best != nil && score <= bestScore) {
			continue
		}
		claimed, err := r.claimedByOther(ctx, item.ID, obj.RemoteID)
		if err != nil {
			return nil, 0, err
		}
		if claimed {
			continue
		}
		o := obj
		best, bestScore = &o, score
	}
	return best, bestScore, nil
}

func (r *Resolver) claimedByOther(ctx context.Context, workItemID, remoteID string) (bool, error) {
	rec, found, err := r.meta.FindByRemoteID(ctx, remoteID)
	if err != nil {
		return false, fmt.Errorf("resolve %s: %w", workItemID, err)
	}
	return found && rec.WorkItemID != workItemID, nil
}

// recordFromObject builds the link between an item and a remote object.
func recordFromObject(workItemID string, obj model.RemoteObject, parentRemoteID string, now time.Time) model.SyncRecord {
	return model.SyncRecord{
		WorkItemID:            workItemID,
		RemoteID:              obj.RemoteID,
		RemoteNumber:          obj.RemoteNumber,
		RemoteParentID:        parentRemoteID,
		RemoteContainerID:     obj.ContainerID,
		LastSyncedAt:          now,
		LastKnownRemoteStatus: obj.Status,
	}
}

// remoteError classifies a tracker failure.
func remoteError(workItemID string, err error) error {
	code := ErrCodeRemote
	if batch.IsTransient(err) {
		code = ErrCodeTransient
	}
	if tracker.IsNotFound(err) {
		code = ErrCodeOrphaned
	}
	return &SyncError{Code: code, WorkItemID: workItemID, Err: err}
}

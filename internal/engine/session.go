package engine

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/tracker"
)

// ContainerContext holds the remote defaults for one run.
type ContainerContext struct {
	ContainerID string `json:"container_id"`
	TeamID      string `json:"team_id,omitempty"`
	AssigneeID  string `json:"assignee_id,omitempty"`
}

// SessionState is the process-scoped memory of one reconciliation run.
//
// It remembers which items this run claimed, created and validated, and the
// duplicate decisions it made, so one run does not repeat remote calls. It is
// never a substitute for the Metadata Store: a fresh session over the same
// store makes the same decisions.
//
// Thread-safety: all methods are safe for concurrent use.
type SessionState struct {
	RunID     string
	Container ContainerContext

	mu         sync.Mutex
	claims     map[string]bool
	created    map[string]string
	validated  map[string]bool
	duplicates []model.DuplicateEvent
	records    map[string]model.SyncRecord

	lists singleflight.Group
}

// NewSessionState creates an empty session.
func NewSessionState(runID string, container ContainerContext) *SessionState {
	return &SessionState{
		RunID:     runID,
		Container: container,
		claims:    make(map[string]bool),
		created:   make(map[string]string),
		validated: make(map[string]bool),
		records:   make(map[string]model.SyncRecord),
	}
}

// Claim marks a work item as being resolved by the caller.
// Returns false if another caller already holds the claim.
func (s *SessionState) Claim(workItemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.claims[workItemID] {
		return false
	}
	s.claims[workItemID] = true
	return true
}

// Release drops a claim.
func (s *SessionState) Release(workItemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.claims, workItemID)
}

// MarkCreated records that this run created the item's remote object.
// Called from inside the Metadata Store commit so the mark and the durable
// record appear together.
func (s *SessionState) MarkCreated(rec model.SyncRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created[rec.WorkItemID] = rec.RemoteID
	s.validated[rec.WorkItemID] = true
	s.records[rec.WorkItemID] = rec
}

// MarkLinked records a record this run validated or linked.
func (s *SessionState) MarkLinked(rec model.SyncRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validated[rec.WorkItemID] = true
	s.records[rec.WorkItemID] = rec
}

// Invalidate forgets everything known about an item, forcing the next
// resolution to consult the Metadata Store and the tracker.
func (s *SessionState) Invalidate(workItemID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.validated, workItemID)
	delete(s.records, workItemID)
}

// CreatedThisRun reports whether this run created the item's remote object.
func (s *SessionState) CreatedThisRun(workItemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.created[workItemID]
	return ok
}

// ValidatedThisRun reports whether the item's link was confirmed this run.
func (s *SessionState) ValidatedThisRun(workItemID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validated[workItemID]
}

// Record returns the cached record for an item.
func (s *SessionState) Record(workItemID string) (model.SyncRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[workItemID]
	return rec, ok
}

// WarmStart loads persisted records into the session cache. A record counts
// as validated when listing holds its object with the same number and status
// and the same parent; anything else is left for the resolver to check
// against the tracker. Items already validated this run are kept as they are.
// Returns the number of records validated from the listing.
func (s *SessionState) WarmStart(recs []model.SyncRecord, listing []model.RemoteObject) int {
	byID := make(map[string]model.RemoteObject, len(listing))
	for _, obj := range listing {
		byID[obj.RemoteID] = obj
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	confirmed := 0
	for _, r := range recs {
		if s.validated[r.WorkItemID] {
			continue
		}
		s.records[r.WorkItemID] = r
		obj, ok := byID[r.RemoteID]
		if !ok || obj.RemoteNumber != r.RemoteNumber ||
			obj.Status != r.LastKnownRemoteStatus ||
			obj.ParentRemoteID != r.RemoteParentID {
			continue
		}
		s.validated[r.WorkItemID] = true
		confirmed++
	}
	return confirmed
}

// RecordDuplicate appends an audit event.
func (s *SessionState) RecordDuplicate(ev model.DuplicateEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.duplicates = append(s.duplicates, ev)
}

// Duplicates returns the audit events of this run in decision order.
func (s *SessionState) Duplicates() []model.DuplicateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.duplicates)
}

// ListContainer lists the container's objects. Concurrent calls for the same
// container share one tracker request.
func (s *SessionState) ListContainer(ctx context.Context, r tracker.Reader, containerID string) ([]model.RemoteObject, error) {
	v, err, _ := s.lists.Do(containerID, func() (any, error) {
		return r.ListObjects(ctx, containerID, "")
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]model.RemoteObject)), nil
}

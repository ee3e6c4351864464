package engine

import (
	"slices"
	"sync"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/model"
)

// ItemState is the per-item reconciliation state.
//
//	unsynced -> resolving -> writing -> linked | failed
type ItemState string

const (
	StateUnsynced  ItemState = "unsynced"
	StateResolving ItemState = "resolving"
	StateWriting   ItemState = "writing"
	StateLinked    ItemState = "linked"
	StateFailed    ItemState = "failed"
)

// ItemOutcome is the result of reconciling one work item.
type ItemOutcome struct {
	WorkItemID   string    `json:"work_item_id"`
	State        ItemState `json:"state"`
	Action       Action    `json:"action,omitempty"`
	RemoteID     string    `json:"remote_id,omitempty"`
	RemoteNumber string    `json:"remote_number,omitempty"`
	Score        float64   `json:"score,omitempty"`
	Flagged      bool      `json:"flagged,omitempty"`
	Refreshed    bool      `json:"refreshed,omitempty"`
	Recovered    bool      `json:"recovered,omitempty"`
	// Created is set when this run created the item's current remote object.
	Created bool `json:"created,omitempty"`
	// Notices lists the conditions noted on the work item this run.
	Notices []ErrorCode `json:"notices,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OperationOutcome is one executed remote operation.
type OperationOutcome struct {
	OperationID string              `json:"operation_id"`
	WorkItemID  string              `json:"work_item_id"`
	Kind        model.OperationKind `json:"kind"`
	Attempts    int                 `json:"attempts"`
	Error       string              `json:"error,omitempty"`
}

// ReconciliationReport summarizes one Reconcile call.
type ReconciliationReport struct {
	RunID          string                 `json:"run_id"`
	Root           string                 `json:"root"`
	Items          []ItemOutcome          `json:"items"`
	Operations     []OperationOutcome     `json:"operations"`
	Duplicates     []model.DuplicateEvent `json:"duplicates"`
	RecoveryPasses int                    `json:"recovery_passes"`
	HardFailures   []string               `json:"hard_failures"`
	StatusUpdates  int                    `json:"status_updates"`
}

// OK reports whether every item ended linked.
func (r *ReconciliationReport) OK() bool {
	for _, it := range r.Items {
		if it.State != StateLinked {
			return false
		}
	}
	return len(r.HardFailures) == 0
}

// Item returns the outcome for one work item.
func (r *ReconciliationReport) Item(id string) (ItemOutcome, bool) {
	for _, it := range r.Items {
		if it.WorkItemID == id {
			return it, true
		}
	}
	return ItemOutcome{}, false
}

// Failed returns the IDs of items that did not end linked.
func (r *ReconciliationReport) Failed() []string {
	var ids []string
	for _, it := range r.Items {
		if it.State != StateLinked {
			ids = append(ids, it.WorkItemID)
		}
	}
	return ids
}

// run tracks one reconciliation while it executes. Outcomes are updated from
// executor workers, so every access goes through mu.
type run struct {
	sess *SessionState
	root string

	mu         sync.Mutex
	order      []string
	outcomes   map[string]*ItemOutcome
	operations []OperationOutcome
	passes     int
	hard       []string
	updates    int
}

func newRun(sess *SessionState, root string) *run {
	return &run{
		sess:     sess,
		root:     root,
		outcomes: make(map[string]*ItemOutcome),
	}
}

func (r *run) track(id string) {
	r.update(id, func(o *ItemOutcome) {
		if o.State == "" {
			o.State = StateUnsynced
		}
	})
}

func (r *run) update(id string, fn func(o *ItemOutcome)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	o, ok := r.outcomes[id]
	if !ok {
		o = &ItemOutcome{WorkItemID: id, State: StateUnsynced}
		r.outcomes[id] = o
		r.order = append(r.order, id)
	}
	fn(o)
}

func (r *run) setState(id string, s ItemState) {
	r.update(id, func(o *ItemOutcome) { o.State = s })
}

func (r *run) linked(id string, rec model.SyncRecord, dec Decision) {
	r.update(id, func(o *ItemOutcome) {
		o.State = StateLinked
		o.RemoteID = rec.RemoteID
		o.RemoteNumber = rec.RemoteNumber
		o.Error = ""
		if dec.Action != "" {
			o.Action = dec.Action
		}
		if dec.Score > o.Score {
			o.Score = dec.Score
		}
		o.Flagged = o.Flagged || dec.Flagged
		o.Refreshed = o.Refreshed || dec.Refreshed
		for _, n := range dec.Notices {
			if !slices.Contains(o.Notices, n.Code) {
				o.Notices = append(o.Notices, n.Code)
			}
		}
	})
}

func (r *run) failed(id string, err error) {
	r.update(id, func(o *ItemOutcome) {
		o.State = StateFailed
		if err != nil {
			o.Error = err.Error()
		}
	})
}

func (r *run) state(id string) ItemState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if o, ok := r.outcomes[id]; ok {
		return o.State
	}
	return StateUnsynced
}

func (r *run) addOperations(sum batch.Summary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := append(slices.Clone(sum.Succeeded), sum.Failed...)
	for _, res := range all {
		oo := OperationOutcome{
			OperationID: res.OperationID,
			WorkItemID:  res.WorkItemID,
			Kind:        res.Kind,
			Attempts:    res.Attempts,
		}
		if res.Err != nil {
			oo.Error = res.Err.Error()
		}
		r.operations = append(r.operations, oo)
	}
}

func (r *run) report() *ReconciliationReport {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := &ReconciliationReport{
		RunID:          r.sess.RunID,
		Root:           r.root,
		Items:          make([]ItemOutcome, 0, len(r.order)),
		Operations:     slices.Clone(r.operations),
		Duplicates:     r.sess.Duplicates(),
		RecoveryPasses: r.passes,
		HardFailures:   slices.Clone(r.hard),
		StatusUpdates:  r.updates,
	}
	for _, id := range r.order {
		o := *r.outcomes[id]
		o.Notices = slices.Clone(o.Notices)
		o.Created = r.sess.CreatedThisRun(id)
		rep.Items = append(rep.Items, o)
	}
	if rep.Operations == nil {
		rep.Operations = []OperationOutcome{}
	}
	if rep.Duplicates == nil {
		rep.Duplicates = []model.DuplicateEvent{}
	}
	if rep.HardFailures == nil {
		rep.HardFailures = []string{}
	}
	return rep
}

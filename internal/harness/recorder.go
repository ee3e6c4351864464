package harness

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/tracker"
)

// recorder wraps a tracker and appends a trace event for every write.
// Reads are not recorded: their number depends on session caching, not on
// what the engine decided to do.
type recorder struct {
	tracker.Tracker

	mu     sync.Mutex
	events []TraceEvent
}

func newRecorder(t tracker.Tracker) *recorder {
	return &recorder{Tracker: t}
}

// step appends a step event and returns its index so the outcome can be
// filled in once the step has run.
func (r *recorder) step(action string, args map[string]string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, TraceEvent{
		Seq:    len(r.events) + 1,
		Type:   EventStep,
		Action: action,
		Args:   args,
	})
	return len(r.events) - 1
}

func (r *recorder) finish(index int, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[index].Outcome = outcome
}

func (r *recorder) call(action string, args map[string]string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, TraceEvent{
		Seq:     len(r.events) + 1,
		Type:    EventCall,
		Action:  action,
		Args:    args,
		Outcome: outcome,
	})
}

func (r *recorder) trace() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TraceEvent(nil), r.events...)
}

func (r *recorder) CreateObject(ctx context.Context, req tracker.CreateRequest) (tracker.Created, error) {
	created, err := r.Tracker.CreateObject(ctx, req)
	args := map[string]string{
		"title":        req.Title,
		"container_id": req.ContainerID,
	}
	if req.ParentRemoteID != "" {
		args["parent_remote_id"] = req.ParentRemoteID
	}
	outcome := errOutcome(err)
	if err == nil {
		outcome = fmt.Sprintf("%s %s", created.RemoteID, created.RemoteNumber)
	}
	r.call(string(model.OpCreate), args, outcome)
	return created, err
}

func (r *recorder) UpdateObjectStatus(ctx context.Context, remoteID string, status model.RemoteStatus) error {
	err := r.Tracker.UpdateObjectStatus(ctx, remoteID, status)
	r.call(string(model.OpUpdateStatus), map[string]string{
		"remote_id": remoteID,
		"status":    string(status),
	}, errOutcome(err))
	return err
}

func (r *recorder) AddComment(ctx context.Context, remoteID, text string) error {
	err := r.Tracker.AddComment(ctx, remoteID, text)
	r.call(string(model.OpComment), map[string]string{
		"remote_id": remoteID,
		"text":      text,
	}, errOutcome(err))
	return err
}

func errOutcome(err error) string {
	if err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

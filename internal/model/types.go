package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WorkItem is a node in the local two-level hierarchy.
type WorkItem struct {
	ID       string `json:"id" yaml:"id"`
	Title    string `json:"title" yaml:"title"`
	Body     string `json:"body,omitempty" yaml:"body,omitempty"`
	Status   Status `json:"status" yaml:"status"`
	ParentID string `json:"parent_id,omitempty" yaml:"-"`
}

// IsSubtask reports whether the item has a parent.
func (w WorkItem) IsSubtask() bool {
	return w.ParentID != ""
}

// SubtaskID composes the ID of the index-th subtask (1-based) of parent.
func SubtaskID(parentID string, index int) string {
	return parentID + "." + strconv.Itoa(index)
}

// SplitSubtaskID splits "parent.index" into its parts.
// ok is false for IDs that are not subtask IDs.
func SplitSubtaskID(id string) (parentID string, index int, ok bool) {
	dot := strings.LastIndex(id, ".")
	if dot <= 0 || dot == len(id)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(id[dot+1:])
	if err != nil || n < 1 {
		return "", 0, false
	}
	return id[:dot], n, true
}

// ValidateHierarchy checks the two-level invariant over a set of items:
// every subtask's parent exists and is itself top-level, and subtask IDs
// are composed from their parent's ID.
func ValidateHierarchy(items []WorkItem) error {
	byID := make(map[string]WorkItem, len(items))
	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("work item with empty id (title %q)", it.Title)
		}
		if _, dup := byID[it.ID]; dup {
			return fmt.Errorf("duplicate work item id %q", it.ID)
		}
		byID[it.ID] = it
	}

	for _, it := range items {
		if !it.IsSubtask() {
			continue
		}
		parent, ok := byID[it.ParentID]
		if !ok {
			return fmt.Errorf("work item %q: parent %q not found", it.ID, it.ParentID)
		}
		if parent.IsSubtask() {
			return fmt.Errorf("work item %q: parent %q is itself a subtask", it.ID, it.ParentID)
		}
		if p, _, ok := SplitSubtaskID(it.ID); !ok || p != it.ParentID {
			return fmt.Errorf("work item %q: id must be %q.<index>", it.ID, it.ParentID)
		}
	}
	return nil
}

// RemoteObject is the tracker-side representation of a WorkItem.
type RemoteObject struct {
	RemoteID       string       `json:"remote_id"`
	RemoteNumber   string       `json:"remote_number"`
	Title          string       `json:"title"`
	Body           string       `json:"body,omitempty"`
	Status         RemoteStatus `json:"status"`
	ContainerID    string       `json:"container_id"`
	ParentRemoteID string       `json:"parent_remote_id,omitempty"`
}

// SyncRecord is the durable link between one WorkItem and its RemoteObject.
type SyncRecord struct {
	WorkItemID            string       `json:"work_item_id"`
	RemoteID              string       `json:"remote_id"`
	RemoteNumber          string       `json:"remote_number"`
	RemoteParentID        string       `json:"remote_parent_id,omitempty"`
	RemoteContainerID     string       `json:"remote_container_id"`
	LastSyncedAt          time.Time    `json:"last_synced_at"`
	LastKnownRemoteStatus RemoteStatus `json:"last_known_remote_status"`
}

// DuplicateEvent audits one duplicate-resolution decision.
// Candidate is nil when no remote candidate was found.
type DuplicateEvent struct {
	WorkItemID string        `json:"work_item_id"`
	Candidate  *RemoteObject `json:"candidate,omitempty"`
	Confidence float64       `json:"confidence"`
	Resolution Resolution    `json:"resolution"`
	RunID      string        `json:"run_id,omitempty"`
	RecordedAt time.Time     `json:"recorded_at"`
}

package engine

import (
	"context"

	"github.com/roach88/treesync/internal/metadata"
	"github.com/roach88/treesync/internal/model"
)

// Unlinked marks an item that has no sync record.
const Unlinked metadata.Validity = "unlinked"

// ItemValidation is the health of one item's link.
type ItemValidation struct {
	WorkItemID     string             `json:"work_item_id"`
	Result         metadata.Validity  `json:"result"`
	RemoteID       string             `json:"remote_id,omitempty"`
	RemoteNumber   string             `json:"remote_number,omitempty"`
	ObservedNumber string             `json:"observed_number,omitempty"`
	LocalStatus    model.Status       `json:"local_status"`
	RemoteStatus   model.RemoteStatus `json:"remote_status,omitempty"`
	StatusInSync   bool               `json:"status_in_sync"`
	Error          string             `json:"error,omitempty"`
}

// ValidationReport is the read-only health of a subtree.
type ValidationReport struct {
	Root  string           `json:"root"`
	Items []ItemValidation `json:"items"`
}

// OK reports whether every item is linked to a valid remote object.
func (r *ValidationReport) OK() bool {
	for _, it := range r.Items {
		if it.Result != metadata.Valid {
			return false
		}
	}
	return true
}

// InSync reports whether every item is valid and carries its mapped status.
func (r *ValidationReport) InSync() bool {
	if !r.OK() {
		return false
	}
	for _, it := range r.Items {
		if !it.StatusInSync {
			return false
		}
	}
	return true
}

// Validate checks every link of the subtree rooted at root against the
// tracker. It performs no writes, local or remote.
func (e *Engine) Validate(ctx context.Context, root string) (*ValidationReport, error) {
	tree, err := e.loadSubtree(ctx, root)
	if err != nil {
		return nil, err
	}

	rep := &ValidationReport{Root: root, Items: []ItemValidation{}}
	for _, it := range tree.items() {
		iv := ItemValidation{WorkItemID: it.ID, LocalStatus: it.Status}

		rec, found, err := e.meta.Get(ctx, it.ID)
		switch {
		case err != nil:
			iv.Result = Unlinked
			iv.Error = err.Error()
		case !found:
			iv.Result = Unlinked
		default:
			iv.RemoteID = rec.RemoteID
			iv.RemoteNumber = rec.RemoteNumber
			v, err := e.meta.ValidateRecord(ctx, rec)
			if err != nil {
				return nil, remoteError(it.ID, err)
			}
			iv.Result = v.Result
			if v.Remote != nil {
				iv.ObservedNumber = v.Remote.RemoteNumber
				iv.RemoteStatus = v.Remote.Status
				if want, err := Statuses.ToRemote(it.Status); err == nil {
					iv.StatusInSync = want == v.Remote.Status
				}
			}
		}
		rep.Items = append(rep.Items, iv)
	}
	return rep, nil
}

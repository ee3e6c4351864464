package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/roach88/treesync/internal/model"
)

// PutRecord inserts or replaces the sync record for rec.WorkItemID.
// At most one record exists per work item; a second write replaces the first.
func (s *Store) PutRecord(ctx context.Context, rec model.SyncRecord) error {
	if rec.WorkItemID == "" {
		return fmt.Errorf("put record: empty work item id")
	}
	if rec.RemoteID == "" {
		return fmt.Errorf("put record %s: empty remote id", rec.WorkItemID)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_records
		(work_item_id, remote_id, remote_number, remote_parent_id, remote_container_id, last_synced_at, last_known_remote_status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(work_item_id) DO UPDATE SET
			remote_id = excluded.remote_id,
			remote_number = excluded.remote_number,
			remote_parent_id = excluded.remote_parent_id,
			remote_container_id = excluded.remote_container_id,
			last_synced_at = excluded.last_synced_at,
			last_known_remote_status = excluded.last_known_remote_status
	`,
		rec.WorkItemID,
		rec.RemoteID,
		rec.RemoteNumber,
		rec.RemoteParentID,
		rec.RemoteContainerID,
		formatTime(rec.LastSyncedAt),
		string(rec.LastKnownRemoteStatus),
	)
	if err != nil {
		return fmt.Errorf("put record %s: %w", rec.WorkItemID, err)
	}
	return nil
}

// WriteDuplicateEvent appends an audit event.
func (s *Store) WriteDuplicateEvent(ctx context.Context, ev model.DuplicateEvent) error {
	candidateJSON := ""
	if ev.Candidate != nil {
		b, err := json.Marshal(ev.Candidate)
		if err != nil {
			return fmt.Errorf("write duplicate event: marshal candidate: %w", err)
		}
		candidateJSON = string(b)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO duplicate_events
		(run_id, work_item_id, candidate_json, confidence, resolution, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		ev.RunID,
		ev.WorkItemID,
		candidateJSON,
		ev.Confidence,
		string(ev.Resolution),
		formatTime(ev.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("write duplicate event: %w", err)
	}
	return nil
}

// WriteOperation appends an operation log entry. Seq is assigned by the database.
func (s *Store) WriteOperation(ctx context.Context, op OperationEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO operations
		(run_id, operation_id, work_item_id, kind, outcome, attempts, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.RunID,
		op.OperationID,
		op.WorkItemID,
		op.Kind,
		op.Outcome,
		op.Attempts,
		op.Error,
		formatTime(op.RecordedAt),
	)
	if err != nil {
		return fmt.Errorf("write operation: %w", err)
	}
	return nil
}

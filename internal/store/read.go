package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/treesync/internal/model"
)

const recordColumns = `work_item_id, remote_id, remote_number, remote_parent_id,
	remote_container_id, last_synced_at, last_known_remote_status`

// GetRecord returns the sync record for a work item.
// found is false when no record exists.
func (s *Store) GetRecord(ctx context.Context, workItemID string) (rec model.SyncRecord, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM sync_records
		WHERE work_item_id = ?
	`, workItemID)

	rec, err = scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncRecord{}, false, nil
	}
	if err != nil {
		return model.SyncRecord{}, false, fmt.Errorf("get record %s: %w", workItemID, err)
	}
	return rec, true, nil
}

// FindByRemoteID returns the record linked to remoteID, if any.
func (s *Store) FindByRemoteID(ctx context.Context, remoteID string) (rec model.SyncRecord, found bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+recordColumns+`
		FROM sync_records
		WHERE remote_id = ?
		ORDER BY work_item_id COLLATE BINARY ASC
		LIMIT 1
	`, remoteID)

	rec, err = scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncRecord{}, false, nil
	}
	if err != nil {
		return model.SyncRecord{}, false, fmt.Errorf("find record by remote %s: %w", remoteID, err)
	}
	return rec, true, nil
}

// ListSubtreeRecords returns the records of rootID and its subtasks.
// Returns an empty slice (not nil) when there are none.
func (s *Store) ListSubtreeRecords(ctx context.Context, rootID string) ([]model.SyncRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM sync_records
		WHERE work_item_id = ? OR substr(work_item_id, 1, ?) = ?
		ORDER BY work_item_id COLLATE BINARY ASC
	`, rootID, len(rootID)+1, rootID+".")
	if err != nil {
		return nil, fmt.Errorf("list subtree records %s: %w", rootID, err)
	}
	defer rows.Close()

	records := []model.SyncRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("list subtree records %s: %w", rootID, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return records, nil
}

// ReadDuplicateEvents returns the audit events for a work item in insertion order.
func (s *Store) ReadDuplicateEvents(ctx context.Context, workItemID string) ([]model.DuplicateEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, work_item_id, candidate_json, confidence, resolution, recorded_at
		FROM duplicate_events
		WHERE work_item_id = ?
		ORDER BY seq ASC
	`, workItemID)
	if err != nil {
		return nil, fmt.Errorf("query duplicate events: %w", err)
	}
	defer rows.Close()

	events := []model.DuplicateEvent{}
	for rows.Next() {
		var (
			ev            model.DuplicateEvent
			candidateJSON string
			resolution    string
			recordedAt    string
		)
		if err := rows.Scan(&ev.RunID, &ev.WorkItemID, &candidateJSON, &ev.Confidence, &resolution, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan duplicate event: %w", err)
		}
		if candidateJSON != "" {
			var cand model.RemoteObject
			if err := json.Unmarshal([]byte(candidateJSON), &cand); err != nil {
				return nil, fmt.Errorf("decode candidate: %w", err)
			}
			ev.Candidate = &cand
		}
		ev.Resolution = model.Resolution(resolution)
		if ev.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate duplicate events: %w", err)
	}
	return events, nil
}

// ReadOperations returns the operation log for a work item in insertion order.
func (s *Store) ReadOperations(ctx context.Context, workItemID string) ([]OperationEntry, error) {
	return s.readOperations(ctx, "work_item_id = ?", workItemID)
}

// ReadRunOperations returns every operation logged by one run.
func (s *Store) ReadRunOperations(ctx context.Context, runID string) ([]OperationEntry, error) {
	return s.readOperations(ctx, "run_id = ?", runID)
}

func (s *Store) readOperations(ctx context.Context, where string, arg any) ([]OperationEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, run_id, operation_id, work_item_id, kind, outcome, attempts, error, recorded_at
		FROM operations
		WHERE `+where+`
		ORDER BY seq ASC
	`, arg)
	if err != nil {
		return nil, fmt.Errorf("query operations: %w", err)
	}
	defer rows.Close()

	ops := []OperationEntry{}
	for rows.Next() {
		var (
			op         OperationEntry
			recordedAt string
		)
		if err := rows.Scan(&op.Seq, &op.RunID, &op.OperationID, &op.WorkItemID, &op.Kind,
			&op.Outcome, &op.Attempts, &op.Error, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		if op.RecordedAt, err = parseTime(recordedAt); err != nil {
			return nil, fmt.Errorf("parse recorded_at: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(r rowScanner) (model.SyncRecord, error) {
	var (
		rec          model.SyncRecord
		lastSyncedAt string
		status       string
	)
	if err := r.Scan(&rec.WorkItemID, &rec.RemoteID, &rec.RemoteNumber, &rec.RemoteParentID,
		&rec.RemoteContainerID, &lastSyncedAt, &status); err != nil {
		return model.SyncRecord{}, err
	}

	t, err := parseTime(lastSyncedAt)
	if err != nil {
		return model.SyncRecord{}, fmt.Errorf("parse last_synced_at: %w", err)
	}
	rec.LastSyncedAt = t
	rec.LastKnownRemoteStatus = model.RemoteStatus(status)
	return rec, nil
}

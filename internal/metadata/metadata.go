// Package metadata is the single source of truth for which remote object
// mirrors each work item. It wraps a persistence backend with per-key write
// serialization, persistence retries, and remote validation of stored links.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/tracker"
)

// Persistence is the durable backend. *store.Store implements it.
type Persistence interface {
	GetRecord(ctx context.Context, workItemID string) (model.SyncRecord, bool, error)
	PutRecord(ctx context.Context, rec model.SyncRecord) error
	FindByRemoteID(ctx context.Context, remoteID string) (model.SyncRecord, bool, error)
	ListSubtreeRecords(ctx context.Context, rootID string) ([]model.SyncRecord, error)
}

// Validity classifies a stored record against the remote side.
type Validity string

const (
	Valid    Validity = "valid"
	Orphaned Validity = "invalid_orphaned"
	Mismatch Validity = "invalid_mismatch"
)

// ErrNoRecord is returned by Validate when the work item has no record.
var ErrNoRecord = errors.New("no sync record")

// Validation is the result of Validate.
// Remote is set for Valid and Mismatch.
type Validation struct {
	Result Validity
	Record model.SyncRecord
	Remote *model.RemoteObject
}

// Defaults for persistence retries.
const (
	DefaultWriteAttempts = 3
	DefaultWriteDelay    = 50 * time.Millisecond
)

// Store is the Metadata Store.
//
// Thread-safety: Set and Commit serialize writes per work item key; writes to
// different keys proceed concurrently. Reads are not serialized.
type Store struct {
	db     Persistence
	remote tracker.Reader
	locks  *keyLocks
	logger *slog.Logger

	writeAttempts int
	writeDelay    time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWriteRetry sets how many times a failed persistence write is attempted
// and the pause between attempts.
func WithWriteRetry(attempts int, delay time.Duration) Option {
	return func(s *Store) {
		if attempts < 1 {
			attempts = 1
		}
		s.writeAttempts = attempts
		s.writeDelay = delay
	}
}

// New creates a Metadata Store over db, validating links against remote.
func New(db Persistence, remote tracker.Reader, opts ...Option) *Store {
	s := &Store{
		db:            db,
		remote:        remote,
		locks:         newKeyLocks(),
		logger:        slog.Default(),
		writeAttempts: DefaultWriteAttempts,
		writeDelay:    DefaultWriteDelay,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the record for workItemID; found is false when absent.
func (s *Store) Get(ctx context.Context, workItemID string) (model.SyncRecord, bool, error) {
	return s.db.GetRecord(ctx, workItemID)
}

// Set persists rec as the record for workItemID.
func (s *Store) Set(ctx context.Context, workItemID string, rec model.SyncRecord) error {
	return s.Commit(ctx, workItemID, rec, nil)
}

// Commit persists rec and, only if the write succeeded, runs onCommit while
// still holding the key's lock. Callers use onCommit to publish in-memory
// state that must never be observed ahead of the durable record.
//
// Failed writes are retried; the last error is returned wrapped.
func (s *Store) Commit(ctx context.Context, workItemID string, rec model.SyncRecord, onCommit func()) error {
	if rec.WorkItemID == "" {
		rec.WorkItemID = workItemID
	}
	if rec.WorkItemID != workItemID {
		return fmt.Errorf("set %s: record belongs to %s", workItemID, rec.WorkItemID)
	}

	s.locks.lock(workItemID)
	defer s.locks.unlock(workItemID)

	var err error
	for attempt := 1; attempt <= s.writeAttempts; attempt++ {
		if err = s.db.PutRecord(ctx, rec); err == nil {
			if onCommit != nil {
				onCommit()
			}
			return nil
		}
		s.logger.Warn("sync record write failed",
			"work_item", workItemID,
			"attempt", attempt,
			"error", err)
		if attempt < s.writeAttempts {
			if werr := wait(ctx, s.writeDelay); werr != nil {
				break
			}
		}
	}
	return fmt.Errorf("set %s: %w", workItemID, err)
}

// Validate reads the linked remote object and classifies the stored record.
// It never writes. Returns ErrNoRecord when workItemID has no record.
func (s *Store) Validate(ctx context.Context, workItemID string) (Validation, error) {
	rec, found, err := s.db.GetRecord(ctx, workItemID)
	if err != nil {
		return Validation{}, fmt.Errorf("validate %s: %w", workItemID, err)
	}
	if !found {
		return Validation{}, fmt.Errorf("validate %s: %w", workItemID, ErrNoRecord)
	}
	return s.ValidateRecord(ctx, rec)
}

// ValidateRecord classifies an already-loaded record.
func (s *Store) ValidateRecord(ctx context.Context, rec model.SyncRecord) (Validation, error) {
	obj, err := s.remote.GetObject(ctx, rec.RemoteID)
	if tracker.IsNotFound(err) {
		return Validation{Result: Orphaned, Record: rec}, nil
	}
	if err != nil {
		return Validation{}, fmt.Errorf("validate %s: %w", rec.WorkItemID, err)
	}

	v := Validation{Result: Valid, Record: rec, Remote: &obj}
	if obj.RemoteNumber != rec.RemoteNumber {
		v.Result = Mismatch
	}
	return v, nil
}

// FindByRemoteID returns the record linked to remoteID, if any.
func (s *Store) FindByRemoteID(ctx context.Context, remoteID string) (model.SyncRecord, bool, error) {
	return s.db.FindByRemoteID(ctx, remoteID)
}

// ListSubtree returns the records of rootID and its subtasks.
func (s *Store) ListSubtree(ctx context.Context, rootID string) ([]model.SyncRecord, error) {
	return s.db.ListSubtreeRecords(ctx, rootID)
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/metadata"
	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/store"
	"github.com/roach88/treesync/internal/tracker"
)

// WorkItemStore is the local work-item API the engine consumes.
type WorkItemStore interface {
	GetWorkItem(ctx context.Context, id string) (model.WorkItem, error)
	// ListWorkItems returns root and, for a top-level root, its subtasks.
	ListWorkItems(ctx context.Context, root string) ([]model.WorkItem, error)
	SetStatus(ctx context.Context, id string, status model.Status) error
	AppendNote(ctx context.Context, id, text string) error
}

// OperationLog persists executor outcomes. *store.Store implements it.
type OperationLog interface {
	AuditLog
	WriteOperation(ctx context.Context, op store.OperationEntry) error
}

// Engine reconciles work-item subtrees with a remote tracker.
//
// Thread-safety: Reconcile, SyncStatus and Validate may be called
// concurrently for different subtrees. Each call gets its own SessionState
// unless the caller passes one explicitly.
type Engine struct {
	items    WorkItemStore
	remote   tracker.Tracker
	meta     *metadata.Store
	log      OperationLog
	exec     *batch.Executor
	resolver *Resolver
	runIDs   RunIDGenerator

	container ContainerContext
	recovery  RecoveryConfig
	logger    *slog.Logger
}

// Option allows configuration of engine parameters.
type Option func(*Engine)

// WithContainer sets the remote container defaults for every run.
func WithContainer(c ContainerContext) Option {
	return func(e *Engine) {
		e.container = c
	}
}

// WithRunIDGenerator replaces the UUIDv7 run ID generator.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) {
		e.runIDs = g
	}
}

// WithRecovery sets the validation and recovery gate bounds.
//
// Default: 2 passes, 2s index wait (DefaultRecoveryConfig).
func WithRecovery(c RecoveryConfig) Option {
	return func(e *Engine) {
		e.recovery = c
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// New creates an Engine.
//
// The executor's clock also stamps records and paces the recovery gate.
func New(
	items WorkItemStore,
	remote tracker.Tracker,
	meta *metadata.Store,
	log OperationLog,
	exec *batch.Executor,
	opts ...Option,
) *Engine {
	e := &Engine{
		items:    items,
		remote:   remote,
		meta:     meta,
		log:      log,
		exec:     exec,
		runIDs:   UUIDv7Generator{},
		recovery: DefaultRecoveryConfig(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.resolver = NewResolver(meta, remote, log, exec.Clock(), e.logger)
	return e
}

// NewSession starts a SessionState for one run.
func (e *Engine) NewSession() *SessionState {
	return NewSessionState(e.runIDs.Generate(), e.container)
}

// Resolver returns the engine's duplicate resolver.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

func (e *Engine) clock() batch.Clock {
	return e.exec.Clock()
}

// note appends a synchronization note on a work item. Failures are logged
// only; notes never block synchronization.
func (e *Engine) note(ctx context.Context, workItemID, text string) {
	if err := e.items.AppendNote(ctx, workItemID, "treesync: "+text); err != nil {
		e.logger.Warn("append note failed",
			"work_item", workItemID,
			"error", err)
	}
}

// logOperations writes one operation log entry per result.
func (e *Engine) logOperations(ctx context.Context, runID string, sum batch.Summary) {
	if e.log == nil {
		return
	}
	write := func(r batch.Result, outcome string) {
		entry := store.OperationEntry{
			RunID:       runID,
			OperationID: r.OperationID,
			WorkItemID:  r.WorkItemID,
			Kind:        string(r.Kind),
			Outcome:     outcome,
			Attempts:    r.Attempts,
			RecordedAt:  e.clock().Now(),
		}
		if r.Err != nil {
			entry.Error = r.Err.Error()
		}
		if err := e.log.WriteOperation(ctx, entry); err != nil {
			e.logger.Error("operation log write failed",
				"op", r.OperationID,
				"error", err)
		}
	}
	for _, r := range sum.Succeeded {
		write(r, store.OutcomeSucceeded)
	}
	for _, r := range sum.Failed {
		write(r, store.OutcomeFailed)
	}
}

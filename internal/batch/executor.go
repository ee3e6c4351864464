package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/treesync/internal/model"
)

// Operation is one idempotent remote mutation.
//
// Run receives the 1-based attempt number so a retried create can first look
// for the object an earlier, failed-looking attempt may have created.
type Operation struct {
	ID         string
	WorkItemID string
	Kind       model.OperationKind
	Run        func(ctx context.Context, attempt int) error
}

// Result is the terminal outcome of one operation.
type Result struct {
	OperationID string
	WorkItemID  string
	Kind        model.OperationKind
	Attempts    int
	Err         error
	Started     time.Time
	Finished    time.Time
}

// Summary partitions results by outcome, each in submission order.
type Summary struct {
	Succeeded []Result
	Failed    []Result
}

// OK reports whether every operation succeeded.
func (s Summary) OK() bool {
	return len(s.Failed) == 0
}

// Merge appends other's results to s.
func (s *Summary) Merge(other Summary) {
	s.Succeeded = append(s.Succeeded, other.Succeeded...)
	s.Failed = append(s.Failed, other.Failed...)
}

// Executor runs operation queues under a Policy.
//
// StartDelay spacing is tracked per Executor, not per queue: the first start
// of a call waits out the delay left over from the previous call's last start.
//
// Thread-safety: an Executor may be shared. Concurrent Execute and RunOne
// calls are serialized; a call blocks until the previous one has finished.
// Calling Execute from inside an Operation deadlocks.
type Executor struct {
	policy Policy
	clock  Clock
	logger *slog.Logger

	// sched is held for the whole of Execute and guards lastStart.
	sched     sync.Mutex
	lastStart time.Time
}

// Option configures an Executor.
type Option func(*Executor)

// WithClock injects the clock (default RealClock).
func WithClock(c Clock) Option {
	return func(e *Executor) {
		e.clock = c
	}
}

// WithLogger sets the logger (default slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Executor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewExecutor creates an executor. The policy is validated.
func NewExecutor(p Policy, opts ...Option) (*Executor, error) {
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid executor policy: %w", err)
	}
	e := &Executor{
		policy: p,
		clock:  RealClock{},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Policy returns the executor's schedule.
func (e *Executor) Policy() Policy {
	return e.policy
}

// Clock returns the executor's clock.
func (e *Executor) Clock() Clock {
	return e.clock
}

// Execute runs ops and returns their outcomes.
//
// Batch N+1 starts only after every operation of batch N has terminated.
// If ctx is cancelled, operations of batches not yet started are reported as
// failed with ctx.Err(), and that error is also returned. Operation failures
// never produce a non-nil error; they are reported in the Summary.
func (e *Executor) Execute(ctx context.Context, ops []Operation) (Summary, error) {
	e.sched.Lock()
	defer e.sched.Unlock()

	results := make([]Result, len(ops))
	runCtx := context.WithoutCancel(ctx)

	var cancelErr error

	for start := 0; start < len(ops); start += e.policy.BatchSize {
		end := min(start+e.policy.BatchSize, len(ops))

		if start > 0 {
			if err := e.clock.Sleep(ctx, e.policy.BatchPause); err != nil {
				cancelErr = err
			}
		}
		if cancelErr == nil {
			cancelErr = ctx.Err()
		}
		if cancelErr != nil {
			for i := start; i < len(ops); i++ {
				results[i] = Result{
					OperationID: ops[i].ID,
					WorkItemID:  ops[i].WorkItemID,
					Kind:        ops[i].Kind,
					Err:         cancelErr,
				}
			}
			e.logger.Info("execution cancelled between batches",
				"remaining", len(ops)-start)
			break
		}

		e.logger.Debug("starting batch",
			"first", start,
			"size", end-start)

		var g errgroup.Group
		g.SetLimit(e.policy.MaxConcurrent)
		for i := start; i < end; i++ {
			if !e.lastStart.IsZero() {
				if wait := e.lastStart.Add(e.policy.StartDelay).Sub(e.clock.Now()); wait > 0 {
					_ = e.clock.Sleep(runCtx, wait)
				}
			}
			started := e.clock.Now()
			e.lastStart = started

			g.Go(func() error {
				results[i] = e.run(runCtx, ops[i], started)
				return nil
			})
		}
		_ = g.Wait()
	}

	var sum Summary
	for _, r := range results {
		if r.Err != nil {
			sum.Failed = append(sum.Failed, r)
		} else {
			sum.Succeeded = append(sum.Succeeded, r)
		}
	}
	return sum, cancelErr
}

func (e *Executor) run(ctx context.Context, op Operation, started time.Time) Result {
	res := Result{
		OperationID: op.ID,
		WorkItemID:  op.WorkItemID,
		Kind:        op.Kind,
		Started:     started,
	}

	maxAttempts := e.policy.Retry.MaxRetries + 1
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt
		err := op.Run(ctx, attempt)
		if err == nil {
			res.Err = nil
			break
		}
		res.Err = err

		if !IsTransient(err) {
			e.logger.Warn("operation failed",
				"op", op.ID,
				"work_item", op.WorkItemID,
				"kind", op.Kind,
				"attempt", attempt,
				"error", err)
			break
		}
		if attempt == maxAttempts {
			e.logger.Warn("operation exhausted retries",
				"op", op.ID,
				"work_item", op.WorkItemID,
				"kind", op.Kind,
				"attempts", attempt,
				"error", err)
			break
		}

		backoff := e.policy.Retry.Backoff(attempt)
		e.logger.Debug("retrying transient failure",
			"op", op.ID,
			"work_item", op.WorkItemID,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
		_ = e.clock.Sleep(ctx, backoff)
	}

	res.Finished = e.clock.Now()
	return res
}

// RunOne executes a single operation as its own queue.
func (e *Executor) RunOne(ctx context.Context, op Operation) (Result, error) {
	sum, err := e.Execute(ctx, []Operation{op})
	if len(sum.Succeeded) == 1 {
		return sum.Succeeded[0], err
	}
	return sum.Failed[0], err
}

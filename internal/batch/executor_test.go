package batch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/tracker"
)

func newTestExecutor(t *testing.T, p Policy) (*Executor, *testutil.FakeClock) {
	t.Helper()
	clock := testutil.NewFakeClock(time.Time{})
	e, err := NewExecutor(p, WithClock(clock))
	require.NoError(t, err)
	return e, clock
}

func op(id string, run func(ctx context.Context, attempt int) error) Operation {
	return Operation{ID: id, WorkItemID: id, Kind: model.OpCreate, Run: run}
}

func succeed(context.Context, int) error { return nil }

func TestExecute_AllSucceedInSubmissionOrder(t *testing.T) {
	e, _ := newTestExecutor(t, DefaultPolicy())

	var ops []Operation
	for i := 1; i <= 5; i++ {
		ops = append(ops, op(fmt.Sprintf("op-%d", i), succeed))
	}

	sum, err := e.Execute(context.Background(), ops)
	require.NoError(t, err)
	assert.True(t, sum.OK())
	require.Len(t, sum.Succeeded, 5)
	for i, r := range sum.Succeeded {
		assert.Equal(t, fmt.Sprintf("op-%d", i+1), r.OperationID)
		assert.Equal(t, 1, r.Attempts)
	}
}

func TestExecute_RateLimitCompliance(t *testing.T) {
	e, clock := newTestExecutor(t, DefaultPolicy())

	var (
		inFlight atomic.Int32
		peak     atomic.Int32
	)
	var ops []Operation
	for i := 1; i <= 9; i++ {
		ops = append(ops, op(fmt.Sprintf("op-%d", i), func(context.Context, int) error {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		}))
	}

	sum, err := e.Execute(context.Background(), ops)
	require.NoError(t, err)
	require.Len(t, sum.Succeeded, 9)

	assert.LessOrEqual(t, peak.Load(), int32(3), "never more than 3 in flight")

	// Starts: 0,3,6 | +10 pause | 16,19,22 | +10 pause | 32,35,38
	minimum := (9/3-1)*DefaultBatchPause + 6*DefaultStartDelay
	assert.GreaterOrEqual(t, clock.Elapsed(), minimum)
	assert.Equal(t, 38*time.Second, clock.Elapsed())

	for i := 1; i < len(sum.Succeeded); i++ {
		gap := sum.Succeeded[i].Started.Sub(sum.Succeeded[i-1].Started)
		assert.GreaterOrEqual(t, gap, DefaultStartDelay, "start gap before op %d", i+1)
	}
}

func TestExecute_BatchesDoNotOverlap(t *testing.T) {
	p := DefaultPolicy()
	p.StartDelay = 0
	e, _ := newTestExecutor(t, p)

	var (
		mu       sync.Mutex
		finished = map[int]bool{}
		overlaps int
	)
	var ops []Operation
	for i := 0; i < 6; i++ {
		ops = append(ops, op(fmt.Sprintf("op-%d", i), func(context.Context, int) error {
			if i >= 3 {
				mu.Lock()
				for j := 0; j < 3; j++ {
					if !finished[j] {
						overlaps++
					}
				}
				mu.Unlock()
			}
			time.Sleep(time.Millisecond)
			mu.Lock()
			finished[i] = true
			mu.Unlock()
			return nil
		}))
	}

	_, err := e.Execute(context.Background(), ops)
	require.NoError(t, err)
	assert.Zero(t, overlaps, "batch 2 started before batch 1 terminated")
}

func TestExecute_RetriesTransientWithLinearBackoff(t *testing.T) {
	e, clock := newTestExecutor(t, Policy{
		MaxConcurrent: 3,
		BatchSize:     3,
		Retry:         RetryPolicy{MaxRetries: 2, BaseDelay: 3 * time.Second, Multiplier: 1},
	})

	var calls []int
	sum, err := e.Execute(context.Background(), []Operation{
		op("flaky", func(_ context.Context, attempt int) error {
			calls = append(calls, attempt)
			if attempt < 3 {
				return fmt.Errorf("create: %w", tracker.ErrRateLimited)
			}
			return nil
		}),
	})
	require.NoError(t, err)
	require.Len(t, sum.Succeeded, 1)
	assert.Equal(t, 3, sum.Succeeded[0].Attempts)
	assert.Equal(t, []int{1, 2, 3}, calls)
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second}, clock.Sleeps())
}

func TestExecute_ExhaustedRetriesDoNotAbortQueue(t *testing.T) {
	e, _ := newTestExecutor(t, ImmediatePolicy())

	var attempts atomic.Int32
	sum, err := e.Execute(context.Background(), []Operation{
		op("always-throttled", func(context.Context, int) error {
			attempts.Add(1)
			return tracker.ErrRateLimited
		}),
		op("fine", succeed),
	})
	require.NoError(t, err)
	require.Len(t, sum.Failed, 1)
	require.Len(t, sum.Succeeded, 1)

	assert.Equal(t, "always-throttled", sum.Failed[0].OperationID)
	assert.Equal(t, 3, sum.Failed[0].Attempts)
	assert.ErrorIs(t, sum.Failed[0].Err, tracker.ErrRateLimited)
	assert.Equal(t, int32(3), attempts.Load())
	assert.Equal(t, "fine", sum.Succeeded[0].OperationID)
}

func TestExecute_PermanentFailureNotRetried(t *testing.T) {
	e, _ := newTestExecutor(t, ImmediatePolicy())

	boom := errors.New("invalid title")
	sum, err := e.Execute(context.Background(), []Operation{
		op("bad", func(context.Context, int) error { return boom }),
	})
	require.NoError(t, err)
	require.Len(t, sum.Failed, 1)
	assert.Equal(t, 1, sum.Failed[0].Attempts)
	assert.ErrorIs(t, sum.Failed[0].Err, boom)
}

func TestExecute_CancellationBetweenBatches(t *testing.T) {
	e, _ := newTestExecutor(t, ImmediatePolicy())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		ran          atomic.Int32
		ctxCancelled atomic.Bool
	)
	var ops []Operation
	for i := 0; i < 6; i++ {
		ops = append(ops, op(fmt.Sprintf("op-%d", i), func(opCtx context.Context, _ int) error {
			ran.Add(1)
			if i == 0 {
				cancel()
			}
			if opCtx.Err() != nil {
				ctxCancelled.Store(true)
			}
			return nil
		}))
	}

	sum, err := e.Execute(ctx, ops)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, int32(3), ran.Load(), "the started batch runs to completion")
	assert.False(t, ctxCancelled.Load(), "in-flight operations are detached from cancellation")
	assert.Len(t, sum.Succeeded, 3)
	require.Len(t, sum.Failed, 3)
	for _, r := range sum.Failed {
		assert.ErrorIs(t, r.Err, context.Canceled)
		assert.Zero(t, r.Attempts)
	}
}

func TestExecute_CancelledBeforeStart(t *testing.T) {
	e, _ := newTestExecutor(t, ImmediatePolicy())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := e.Execute(ctx, []Operation{op("a", succeed)})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sum.Succeeded)
	assert.Len(t, sum.Failed, 1)
}

func TestRunOne(t *testing.T) {
	e, _ := newTestExecutor(t, ImmediatePolicy())

	res, err := e.RunOne(context.Background(), op("a", succeed))
	require.NoError(t, err)
	assert.NoError(t, res.Err)
	assert.Equal(t, "a", res.OperationID)
}

func TestRunOne_SpacingCarriesAcrossCalls(t *testing.T) {
	e, clock := newTestExecutor(t, DefaultPolicy())
	ctx := context.Background()

	a, err := e.RunOne(ctx, op("a", succeed))
	require.NoError(t, err)
	b, err := e.RunOne(ctx, op("b", succeed))
	require.NoError(t, err)
	sum, err := e.Execute(ctx, []Operation{op("c", succeed)})
	require.NoError(t, err)
	require.Len(t, sum.Succeeded, 1)
	c := sum.Succeeded[0]

	assert.GreaterOrEqual(t, b.Started.Sub(a.Started), DefaultStartDelay)
	assert.GreaterOrEqual(t, c.Started.Sub(b.Started), DefaultStartDelay)
	assert.Equal(t, []time.Duration{DefaultStartDelay, DefaultStartDelay}, clock.Sleeps())
}

func TestRunOne_NoWaitOnceDelayHasPassed(t *testing.T) {
	e, clock := newTestExecutor(t, DefaultPolicy())
	ctx := context.Background()

	_, err := e.RunOne(ctx, op("a", succeed))
	require.NoError(t, err)
	clock.Advance(DefaultStartDelay + time.Second)
	_, err = e.RunOne(ctx, op("b", succeed))
	require.NoError(t, err)

	assert.Empty(t, clock.Sleeps())
}

func TestExecute_ConcurrentCallsKeepSpacing(t *testing.T) {
	e, _ := newTestExecutor(t, DefaultPolicy())

	var (
		mu     sync.Mutex
		starts []time.Time
	)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.RunOne(context.Background(), op(fmt.Sprintf("op-%d", i), succeed))
			assert.NoError(t, err)
			mu.Lock()
			starts = append(starts, res.Started)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, starts, 4)
	slices.SortFunc(starts, func(a, b time.Time) int { return a.Compare(b) })
	for i := 1; i < len(starts); i++ {
		assert.GreaterOrEqual(t, starts[i].Sub(starts[i-1]), DefaultStartDelay)
	}
}

func TestRetryPolicy_Backoff(t *testing.T) {
	r := RetryPolicy{BaseDelay: 2 * time.Second, Multiplier: 1.5}
	assert.Equal(t, 3*time.Second, r.Backoff(1))
	assert.Equal(t, 6*time.Second, r.Backoff(2))

	r.Multiplier = 0
	assert.Equal(t, 4*time.Second, r.Backoff(2), "zero multiplier means 1")
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultPolicy().Validate())
	assert.NoError(t, ImmediatePolicy().Validate())

	p := DefaultPolicy()
	p.MaxConcurrent = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.BatchSize = 0
	assert.Error(t, p.Validate())

	p = DefaultPolicy()
	p.BatchPause = -time.Second
	assert.Error(t, p.Validate())

	_, err := NewExecutor(p)
	assert.Error(t, err)
}

type selfTransient struct{ retry bool }

func (e selfTransient) Error() string   { return "self" }
func (e selfTransient) Transient() bool { return e.retry }

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", fmt.Errorf("x: %w", tracker.ErrRateLimited), true},
		{"timeout", tracker.ErrTimeout, true},
		{"deadline", context.DeadlineExceeded, true},
		{"api 429", &tracker.APIError{StatusCode: 429, Kind: tracker.ErrRateLimited}, true},
		{"not found", tracker.ErrNotFound, false},
		{"self transient", selfTransient{retry: true}, true},
		{"self permanent", selfTransient{retry: false}, false},
		{"plain", errors.New("boom"), false},
		{"cancelled", context.Canceled, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

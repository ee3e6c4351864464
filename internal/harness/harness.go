package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/metadata"
	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/store"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/tracker"
	"github.com/roach88/treesync/internal/workitems"
)

// DefaultContainer is the container ID used when a scenario sets none.
const DefaultContainer = "C1"

// Harness holds the wiring of one scenario run.
type Harness struct {
	items    *workitems.Store
	remote   *tracker.Memory
	recorder *recorder
	db       *store.Store
	engine   *engine.Engine
	logger   *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against a fresh task file in a temp directory, a fresh
// in-memory database and a fresh in-memory tracker. A non-nil error means
// the scenario could not be set up; step and assertion failures are
// reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunContext(context.Background(), scenario)
}

// RunContext is Run with a caller-supplied context.
func RunContext(ctx context.Context, scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "treesync-scenario-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create scenario dir: %w", err)
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "tasks.yaml")
	tasks := append([]workitems.Task(nil), scenario.WorkItems...)
	if err := workitems.Save(path, &workitems.File{Version: workitems.FileVersion, Tasks: tasks}); err != nil {
		return nil, fmt.Errorf("failed to write task file: %w", err)
	}
	items, err := workitems.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load work items: %w", err)
	}

	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	container := scenario.Container
	if container == "" {
		container = DefaultContainer
	}

	mem := tracker.NewMemory(tracker.WithIDGenerator(tracker.SequentialIDs("obj-")))
	for _, seed := range scenario.Remote {
		if seed.Parent != "" {
			if _, err := mem.GetObject(ctx, seed.Parent); err != nil {
				return nil, fmt.Errorf("seed %q: %w", seed.Title, err)
			}
		}
		c := seed.Container
		if c == "" {
			c = container
		}
		mem.Seed(model.RemoteObject{
			RemoteID:       seed.ID,
			RemoteNumber:   seed.Number,
			Title:          seed.Title,
			Status:         seed.Status,
			ContainerID:    c,
			ParentRemoteID: seed.Parent,
		})
	}
	applyFaults(mem, scenario.Faults)

	recovery := engine.DefaultRecoveryConfig()
	if o := scenario.Recovery; o != nil {
		if o.MaxPasses != nil {
			recovery.MaxPasses = *o.MaxPasses
		}
		if o.IndexWait > 0 {
			recovery.IndexWait = o.IndexWait
		}
	}

	logger := slog.New(slog.DiscardHandler)
	rec := newRecorder(mem)
	meta := metadata.New(st, rec, metadata.WithWriteRetry(3, 0), metadata.WithLogger(logger))
	clock := testutil.NewFakeClock(time.Time{})
	exec, err := batch.NewExecutor(batch.ImmediatePolicy(), batch.WithClock(clock), batch.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create executor: %w", err)
	}

	h := &Harness{
		items:    items,
		remote:   mem,
		recorder: rec,
		db:       st,
		logger:   logger,
		engine: engine.New(items, rec, meta, st, exec,
			engine.WithContainer(engine.ContainerContext{ContainerID: container}),
			engine.WithRunIDGenerator(testutil.NewFixedRunIDGenerator(scenario.RunID)),
			engine.WithRecovery(recovery),
			engine.WithLogger(logger)),
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		h.executeStep(ctx, i, step, result)
	}
	result.Trace = rec.trace()

	if err := h.snapshot(ctx, result); err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func applyFaults(mem *tracker.Memory, f *Faults) {
	if f == nil {
		return
	}
	if f.RateLimitCreates > 0 {
		mem.RateLimitCreates(f.RateLimitCreates)
	}
	if len(f.DropCreates) > 0 {
		mem.DropCreates(f.DropCreates...)
	}
	for _, title := range f.FailTitles {
		mem.FailTitle(title, fmt.Errorf("rejected by tracker"))
	}
}

// stepResult is what a step produced, for the trace outcome and the
// expect clause.
type stepResult struct {
	outcome        string
	ok             *bool
	recoveryPasses *int
	hardFailures   []string
	failed         []string
	syncOutcome    string
	inSync         *bool
	err            error
}

func (h *Harness) executeStep(ctx context.Context, index int, step Step, result *Result) {
	action := step.Action()
	idx := h.recorder.step(action, stepArgs(step))

	var res stepResult
	switch action {
	case StepReconcile:
		res = h.reconcile(ctx, step.Reconcile)
	case StepSyncStatus:
		res = h.syncStatus(ctx, *step.SyncStatus)
	case StepValidate:
		res = h.validate(ctx, step.Validate)
	case StepSetStatus:
		res.err = h.items.SetStatus(ctx, step.SetStatus.Item, step.SetStatus.Status)
	case StepDeleteRemote:
		res.err = h.withRecord(ctx, step.DeleteRemote, func(rec model.SyncRecord) error {
			h.remote.Delete(rec.RemoteID)
			return nil
		})
	case StepRenumberRemote:
		res.err = h.withRecord(ctx, step.RenumberRemote.Item, func(rec model.SyncRecord) error {
			return h.remote.Renumber(rec.RemoteID, step.RenumberRemote.Number)
		})
	case StepClearFaults:
		h.remote.ClearFaults()
	}

	if res.err != nil {
		res.outcome = errOutcome(res.err)
	} else if res.outcome == "" {
		res.outcome = "ok"
	}
	h.recorder.finish(idx, res.outcome)

	for _, msg := range checkStep(step.Expect, res) {
		result.AddError(fmt.Sprintf("steps[%d] (%s): %s", index, action, msg))
	}
}

func stepArgs(step Step) map[string]string {
	switch step.Action() {
	case StepReconcile:
		return map[string]string{"root": step.Reconcile}
	case StepSyncStatus:
		return map[string]string{"item": step.SyncStatus.Item, "status": string(step.SyncStatus.Status)}
	case StepValidate:
		return map[string]string{"root": step.Validate}
	case StepSetStatus:
		return map[string]string{"item": step.SetStatus.Item, "status": string(step.SetStatus.Status)}
	case StepDeleteRemote:
		return map[string]string{"item": step.DeleteRemote}
	case StepRenumberRemote:
		return map[string]string{"item": step.RenumberRemote.Item, "number": step.RenumberRemote.Number}
	}
	return map[string]string{}
}

func (h *Harness) reconcile(ctx context.Context, root string) stepResult {
	rep, err := h.engine.Reconcile(ctx, root)
	if err != nil {
		return stepResult{err: err}
	}
	ok := rep.OK()
	passes := rep.RecoveryPasses
	res := stepResult{
		ok:             &ok,
		recoveryPasses: &passes,
		hardFailures:   rep.HardFailures,
		failed:         rep.Failed(),
		outcome:        "ok",
	}
	if !ok {
		res.outcome = "failed " + strings.Join(rep.Failed(), ",")
	}
	return res
}

func (h *Harness) syncStatus(ctx context.Context, is ItemStatus) stepResult {
	sr, err := h.engine.SyncStatus(ctx, is.Item, is.Status)
	if err != nil {
		return stepResult{err: err}
	}
	return stepResult{outcome: string(sr.Outcome), syncOutcome: string(sr.Outcome)}
}

func (h *Harness) validate(ctx context.Context, root string) stepResult {
	rep, err := h.engine.Validate(ctx, root)
	if err != nil {
		return stepResult{err: err}
	}
	ok, inSync := rep.OK(), rep.InSync()
	res := stepResult{ok: &ok, inSync: &inSync}
	switch {
	case inSync:
		res.outcome = "in_sync"
	case ok:
		res.outcome = "ok"
	default:
		res.outcome = "invalid"
	}
	return res
}

func (h *Harness) withRecord(ctx context.Context, workItemID string, fn func(model.SyncRecord) error) error {
	rec, found, err := h.db.GetRecord(ctx, workItemID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s has no sync record", workItemID)
	}
	return fn(rec)
}

func checkStep(want *StepExpect, got stepResult) []string {
	if want == nil {
		if got.err != nil {
			return []string{fmt.Sprintf("unexpected error: %v", got.err)}
		}
		return nil
	}

	if want.Error != "" {
		if got.err == nil {
			return []string{fmt.Sprintf("expected error containing %q, got none", want.Error)}
		}
		if !strings.Contains(got.err.Error(), want.Error) {
			return []string{fmt.Sprintf("expected error containing %q, got %q", want.Error, got.err.Error())}
		}
		return nil
	}
	if got.err != nil {
		return []string{fmt.Sprintf("unexpected error: %v", got.err)}
	}

	var errs []string
	if want.OK != nil && (got.ok == nil || *got.ok != *want.OK) {
		errs = append(errs, fmt.Sprintf("ok: expected %v, got %s", *want.OK, fmtBool(got.ok)))
	}
	if want.InSync != nil && (got.inSync == nil || *got.inSync != *want.InSync) {
		errs = append(errs, fmt.Sprintf("in_sync: expected %v, got %s", *want.InSync, fmtBool(got.inSync)))
	}
	if want.RecoveryPasses != nil && (got.recoveryPasses == nil || *got.recoveryPasses != *want.RecoveryPasses) {
		errs = append(errs, fmt.Sprintf("recovery_passes: expected %d, got %v", *want.RecoveryPasses, deref(got.recoveryPasses)))
	}
	if want.HardFailures != nil && !sameSet(want.HardFailures, got.hardFailures) {
		errs = append(errs, fmt.Sprintf("hard_failures: expected %v, got %v", want.HardFailures, got.hardFailures))
	}
	if want.Failed != nil && !sameSet(want.Failed, got.failed) {
		errs = append(errs, fmt.Sprintf("failed: expected %v, got %v", want.Failed, got.failed))
	}
	if want.Outcome != "" && want.Outcome != got.syncOutcome {
		errs = append(errs, fmt.Sprintf("outcome: expected %q, got %q", want.Outcome, got.syncOutcome))
	}
	return errs
}

func fmtBool(b *bool) string {
	if b == nil {
		return "nothing"
	}
	return fmt.Sprint(*b)
}

func deref(n *int) any {
	if n == nil {
		return "nothing"
	}
	return *n
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

// snapshot records the end state of every work item.
func (h *Harness) snapshot(ctx context.Context, result *Result) error {
	roots, err := h.items.Roots(ctx)
	if err != nil {
		return err
	}
	for _, root := range roots {
		list, err := h.items.ListWorkItems(ctx, root)
		if err != nil {
			return err
		}
		for _, item := range list {
			state, err := h.itemState(ctx, item)
			if err != nil {
				return err
			}
			result.Items[item.ID] = state
		}
	}
	result.RemoteObjects = h.remote.Len()
	result.Writes = h.remote.Writes()
	return nil
}

func (h *Harness) itemState(ctx context.Context, item model.WorkItem) (ItemState, error) {
	state := ItemState{WorkItemID: item.ID, LocalStatus: string(item.Status)}

	notes, err := h.items.Notes(item.ID)
	if err != nil {
		return state, err
	}
	state.Notes = notes

	rec, found, err := h.db.GetRecord(ctx, item.ID)
	if err != nil {
		return state, err
	}
	if found {
		state.Linked = true
		state.RemoteID = rec.RemoteID
		state.RemoteNumber = rec.RemoteNumber
		state.RemoteParentID = rec.RemoteParentID
		state.LastKnownRemoteStatus = string(rec.LastKnownRemoteStatus)

		obj, err := h.remote.GetObject(ctx, rec.RemoteID)
		switch {
		case err == nil:
			state.RemoteExists = true
			state.RemoteStatus = string(obj.Status)
		case !tracker.IsNotFound(err):
			return state, err
		}
	}

	events, err := h.db.ReadDuplicateEvents(ctx, item.ID)
	if err != nil {
		return state, err
	}
	for _, ev := range events {
		state.Resolutions = append(state.Resolutions, string(ev.Resolution))
	}
	return state, nil
}

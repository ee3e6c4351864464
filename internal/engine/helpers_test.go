package engine

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/metadata"
	"github.com/roach88/treesync/internal/model"
	"github.com/roach88/treesync/internal/store"
	"github.com/roach88/treesync/internal/testutil"
	"github.com/roach88/treesync/internal/tracker"
	"github.com/roach88/treesync/internal/workitems"
)

// billingTasks has one task with nine subtasks whose titles share no words,
// plus two standalone tasks.
const billingTasks = `version: 1
tasks:
  - id: T1
    title: Launch billing service
    subtasks:
      - title: Provision database
      - title: Write migrations
      - title: Configure logging
      - title: Add metrics
      - title: Build invoice page
      - title: Design onboarding flow
      - title: Set up CI
      - title: Document API
      - title: Audit permissions
  - id: T2
    title: User Login
  - id: T3
    title: Rotate secrets
`

const testContainer = "C1"

type testEnv struct {
	items  *workitems.Store
	remote *tracker.Memory
	db     *store.Store
	meta   *metadata.Store
	clock  *testutil.FakeClock
	engine *Engine
}

type envConfig struct {
	tasks    string
	policy   batch.Policy
	recovery RecoveryConfig
	wrap     func(*tracker.Memory) tracker.Tracker
	wrapDB   func(*store.Store) metadata.Persistence
}

type envOption func(*envConfig)

func withTasks(yaml string) envOption {
	return func(c *envConfig) { c.tasks = yaml }
}

func withPolicy(p batch.Policy) envOption {
	return func(c *envConfig) { c.policy = p }
}

func withRecoveryConfig(r RecoveryConfig) envOption {
	return func(c *envConfig) { c.recovery = r }
}

func withTrackerWrapper(fn func(*tracker.Memory) tracker.Tracker) envOption {
	return func(c *envConfig) { c.wrap = fn }
}

func withPersistenceWrapper(fn func(*store.Store) metadata.Persistence) envOption {
	return func(c *envConfig) { c.wrapDB = fn }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	cfg := envConfig{
		tasks:    billingTasks,
		policy:   batch.DefaultPolicy(),
		recovery: DefaultRecoveryConfig(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg.tasks), 0o644))
	items, err := workitems.Open(path)
	require.NoError(t, err)

	db, err := store.Open(filepath.Join(dir, "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.DiscardHandler)
	remote := tracker.NewMemory(tracker.WithIDGenerator(tracker.SequentialIDs("obj-")))
	var tr tracker.Tracker = remote
	if cfg.wrap != nil {
		tr = cfg.wrap(remote)
	}

	var persistence metadata.Persistence = db
	if cfg.wrapDB != nil {
		persistence = cfg.wrapDB(db)
	}
	meta := metadata.New(persistence, tr, metadata.WithWriteRetry(3, 0), metadata.WithLogger(logger))
	clock := testutil.NewFakeClock(time.Time{})
	exec, err := batch.NewExecutor(cfg.policy, batch.WithClock(clock), batch.WithLogger(logger))
	require.NoError(t, err)

	eng := New(items, tr, meta, db, exec,
		WithContainer(ContainerContext{ContainerID: testContainer}),
		WithRunIDGenerator(testutil.NewFixedRunIDGenerator("run-test")),
		WithRecovery(cfg.recovery),
		WithLogger(logger))

	return &testEnv{items: items, remote: remote, db: db, meta: meta, clock: clock, engine: eng}
}

func (env *testEnv) reconcile(t *testing.T, root string) *ReconciliationReport {
	t.Helper()
	rep, err := env.engine.Reconcile(context.Background(), root)
	require.NoError(t, err)
	return rep
}

func (env *testEnv) record(t *testing.T, id string) model.SyncRecord {
	t.Helper()
	rec, found, err := env.meta.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, found, "no record for %s", id)
	return rec
}

func (env *testEnv) object(t *testing.T, remoteID string) model.RemoteObject {
	t.Helper()
	obj, err := env.remote.GetObject(context.Background(), remoteID)
	require.NoError(t, err)
	return obj
}

func (env *testEnv) notes(t *testing.T, id string) []string {
	t.Helper()
	notes, err := env.items.Notes(id)
	require.NoError(t, err)
	return notes
}

// failingUpdates rejects every status update.
type failingUpdates struct {
	*tracker.Memory
	err error
}

func (f *failingUpdates) UpdateObjectStatus(context.Context, string, model.RemoteStatus) error {
	return f.err
}

// countingReads counts tracker reads.
type countingReads struct {
	*tracker.Memory
	gets  atomic.Int32
	lists atomic.Int32
}

func (c *countingReads) GetObject(ctx context.Context, remoteID string) (model.RemoteObject, error) {
	c.gets.Add(1)
	return c.Memory.GetObject(ctx, remoteID)
}

func (c *countingReads) ListObjects(ctx context.Context, containerID, titleQuery string) ([]model.RemoteObject, error) {
	c.lists.Add(1)
	return c.Memory.ListObjects(ctx, containerID, titleQuery)
}

func (c *countingReads) reset() {
	c.gets.Store(0)
	c.lists.Store(0)
}

// cancelAfterCreates cancels a context once the Memory tracker has received
// n CreateObject calls.
type cancelAfterCreates struct {
	*tracker.Memory
	n int

	mu     sync.Mutex
	cancel context.CancelFunc
}

func (c *cancelAfterCreates) CreateObject(ctx context.Context, req tracker.CreateRequest) (tracker.Created, error) {
	created, err := c.Memory.CreateObject(ctx, req)
	if c.Memory.CreateCalls() >= c.n {
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
	}
	return created, err
}

func (c *cancelAfterCreates) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel = cancel
}

// failingPuts rejects the next n record writes.
type failingPuts struct {
	*store.Store

	mu sync.Mutex
	n  int
}

func (f *failingPuts) PutRecord(ctx context.Context, rec model.SyncRecord) error {
	f.mu.Lock()
	if f.n > 0 {
		f.n--
		f.mu.Unlock()
		return errors.New("database is locked")
	}
	f.mu.Unlock()
	return f.Store.PutRecord(ctx, rec)
}

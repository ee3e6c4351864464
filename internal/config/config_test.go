package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/engine"
)

func TestParse_MinimalAppliesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`container: id: "team-eng"`), "treesync.cue")
	require.NoError(t, err)

	assert.Equal(t, "team-eng", cfg.Container.ContainerID)
	assert.Equal(t, ".treesync/sync.db", cfg.StorePath)
	assert.Equal(t, "tasks.yaml", cfg.WorkItemsPath)
	assert.Equal(t, 15*time.Second, cfg.Tracker.Timeout)
	assert.Equal(t, batch.DefaultPolicy(), cfg.Policy)
	assert.Equal(t, engine.DefaultRecoveryConfig(), cfg.Recovery)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestParse_Overrides(t *testing.T) {
	src := `
tracker: {
	url:     "http://localhost:8080"
	token:   "secret"
	timeout: "30s"
}
container: {
	id:       "C1"
	team:     "platform"
	assignee: "u-42"
}
executor: {
	max_concurrent: 5
	batch_size:     10
	start_delay:    "500ms"
	batch_pause:    "1m"
	max_retries:    4
	base_delay:     "1s"
	multiplier:     2
}
recovery: {
	max_passes: 3
	index_wait: "250ms"
}
log: level: "debug"
`
	cfg, err := Parse([]byte(src), "treesync.cue")
	require.NoError(t, err)

	assert.Equal(t, TrackerConfig{URL: "http://localhost:8080", Token: "secret", Timeout: 30 * time.Second}, cfg.Tracker)
	assert.Equal(t, engine.ContainerContext{ContainerID: "C1", TeamID: "platform", AssigneeID: "u-42"}, cfg.Container)
	assert.Equal(t, batch.Policy{
		MaxConcurrent: 5,
		BatchSize:     10,
		StartDelay:    500 * time.Millisecond,
		BatchPause:    time.Minute,
		Retry:         batch.RetryPolicy{MaxRetries: 4, BaseDelay: time.Second, Multiplier: 2},
	}, cfg.Policy)
	assert.Equal(t, engine.RecoveryConfig{MaxPasses: 3, IndexWait: 250 * time.Millisecond}, cfg.Recovery)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"missing container", `tracker: url: "x"`},
		{"empty container", `container: id: ""`},
		{"unknown field", "container: id: \"C1\"\nretries: 3"},
		{"zero concurrency", "container: id: \"C1\"\nexecutor: max_concurrent: 0"},
		{"bad duration", "container: id: \"C1\"\nexecutor: batch_pause: \"ten seconds\""},
		{"bad level", "container: id: \"C1\"\nlog: level: \"loud\""},
		{"syntax", `container: {`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.src), "treesync.cue")
			require.Error(t, err)
			var cerr *Error
			assert.True(t, errors.As(err, &cerr), "got %T: %v", err, err)
		})
	}
}

func TestLoad_ResolvesRelativePathsAndEnvToken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, DefaultFile)
	src := `
container: id: "C1"
tracker: token: "from-file"
store: path: "state/sync.db"
workitems: path: "/abs/tasks.yaml"
`
	require.NoError(t, os.WriteFile(path, []byte(src), 0o644))
	t.Setenv(TokenEnv, "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "state/sync.db"), cfg.StorePath)
	assert.Equal(t, "/abs/tasks.yaml", cfg.WorkItemsPath)
	assert.Equal(t, "from-env", cfg.Tracker.Token)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.cue"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestError_Format(t *testing.T) {
	e := &Error{Field: "executor", Message: "bad"}
	assert.Equal(t, "executor: bad", e.Error())
}

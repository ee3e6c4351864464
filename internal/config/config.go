// Package config loads treesync configuration from a CUE file validated and
// defaulted against an embedded schema.
package config

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/engine"
)

//go:embed schema.cue
var schemaSource string

// DefaultFile is the configuration file looked up when none is given.
const DefaultFile = "treesync.cue"

// TokenEnv overrides tracker.token when set.
const TokenEnv = "TREESYNC_TRACKER_TOKEN"

// Config is the resolved configuration.
type Config struct {
	Tracker       TrackerConfig
	Container     engine.ContainerContext
	StorePath     string
	WorkItemsPath string
	Policy        batch.Policy
	Recovery      engine.RecoveryConfig
	LogLevel      slog.Level
}

// TrackerConfig locates the remote tracker.
type TrackerConfig struct {
	URL     string
	Token   string
	Timeout time.Duration
}

// raw mirrors #Config for decoding.
type raw struct {
	Tracker struct {
		URL     string `json:"url"`
		Token   string `json:"token"`
		Timeout string `json:"timeout"`
	} `json:"tracker"`
	Container struct {
		ID       string `json:"id"`
		Team     string `json:"team"`
		Assignee string `json:"assignee"`
	} `json:"container"`
	Store struct {
		Path string `json:"path"`
	} `json:"store"`
	WorkItems struct {
		Path string `json:"path"`
	} `json:"workitems"`
	Executor struct {
		MaxConcurrent int     `json:"max_concurrent"`
		BatchSize     int     `json:"batch_size"`
		StartDelay    string  `json:"start_delay"`
		BatchPause    string  `json:"batch_pause"`
		MaxRetries    int     `json:"max_retries"`
		BaseDelay     string  `json:"base_delay"`
		Multiplier    float64 `json:"multiplier"`
	} `json:"executor"`
	Recovery struct {
		MaxPasses int    `json:"max_passes"`
		IndexWait string `json:"index_wait"`
	} `json:"recovery"`
	Log struct {
		Level string `json:"level"`
	} `json:"log"`
}

// Error is a configuration error, positioned in the CUE source when known.
type Error struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *Error) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Load reads path and resolves it. Relative store and work-item paths are
// taken relative to the directory of path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data, path)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(path)
	if !filepath.IsAbs(cfg.StorePath) {
		cfg.StorePath = filepath.Join(dir, cfg.StorePath)
	}
	if !filepath.IsAbs(cfg.WorkItemsPath) {
		cfg.WorkItemsPath = filepath.Join(dir, cfg.WorkItemsPath)
	}
	if token := os.Getenv(TokenEnv); token != "" {
		cfg.Tracker.Token = token
	}
	return cfg, nil
}

// Parse validates CUE source against the schema and applies defaults.
// filename only labels error positions.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue")).
		LookupPath(cue.ParsePath("#Config"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("config schema: %w", err)
	}

	user := ctx.CompileBytes(data, cue.Filename(filename))
	if err := user.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := schema.Unify(user)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	var r raw
	if err := v.Decode(&r); err != nil {
		return nil, formatCUEError(err)
	}
	return r.resolve()
}

func (r *raw) resolve() (*Config, error) {
	cfg := &Config{
		Tracker: TrackerConfig{
			URL:   r.Tracker.URL,
			Token: r.Tracker.Token,
		},
		Container: engine.ContainerContext{
			ContainerID: r.Container.ID,
			TeamID:      r.Container.Team,
			AssigneeID:  r.Container.Assignee,
		},
		StorePath:     r.Store.Path,
		WorkItemsPath: r.WorkItems.Path,
		Policy: batch.Policy{
			MaxConcurrent: r.Executor.MaxConcurrent,
			BatchSize:     r.Executor.BatchSize,
			Retry: batch.RetryPolicy{
				MaxRetries: r.Executor.MaxRetries,
				Multiplier: r.Executor.Multiplier,
			},
		},
		Recovery: engine.RecoveryConfig{MaxPasses: r.Recovery.MaxPasses},
	}

	durations := []struct {
		field string
		raw   string
		dst   *time.Duration
	}{
		{"tracker.timeout", r.Tracker.Timeout, &cfg.Tracker.Timeout},
		{"executor.start_delay", r.Executor.StartDelay, &cfg.Policy.StartDelay},
		{"executor.batch_pause", r.Executor.BatchPause, &cfg.Policy.BatchPause},
		{"executor.base_delay", r.Executor.BaseDelay, &cfg.Policy.Retry.BaseDelay},
		{"recovery.index_wait", r.Recovery.IndexWait, &cfg.Recovery.IndexWait},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, &Error{Field: d.field, Message: err.Error()}
		}
		*d.dst = parsed
	}

	if err := cfg.LogLevel.UnmarshalText([]byte(r.Log.Level)); err != nil {
		return nil, &Error{Field: "log.level", Message: err.Error()}
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, &Error{Field: "executor", Message: err.Error()}
	}
	return cfg, nil
}

// formatCUEError keeps the first CUE error and its source position.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &Error{Field: "cue", Message: err.Error()}
	}
	first := errs[0]
	e := &Error{Field: "cue", Message: first.Error()}
	if path := first.Path(); len(path) > 0 {
		e.Field = joinPath(path)
	}
	if positions := cueerrors.Positions(first); len(positions) > 0 {
		e.Pos = positions[0]
	}
	return e
}

func joinPath(path []string) string {
	out := path[0]
	for _, p := range path[1:] {
		out += "." + p
	}
	return out
}

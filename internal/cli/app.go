package cli

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/treesync/internal/batch"
	"github.com/roach88/treesync/internal/config"
	"github.com/roach88/treesync/internal/engine"
	"github.com/roach88/treesync/internal/metadata"
	"github.com/roach88/treesync/internal/store"
	"github.com/roach88/treesync/internal/tracker"
	"github.com/roach88/treesync/internal/workitems"
)

// app is the wiring shared by every command that talks to the tracker:
// config, task file, database, tracker client and engine.
type app struct {
	cfg    *config.Config
	items  *workitems.Store
	db     *store.Store
	remote tracker.Tracker
	engine *engine.Engine
	logger *slog.Logger
}

// newLogger installs a text handler on w. --verbose forces debug level.
func newLogger(w io.Writer, level slog.Level, verbose bool) *slog.Logger {
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(), // Verbose logs go to stderr to avoid corrupting JSON
		Verbose:   opts.Verbose,
	}
}

// loadConfig loads the config file named by --config.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, WrapExitError(ExitCommandError, "config file not found", err).WithCode(ErrCodeNotFound)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err).WithCode(ErrCodeConfig)
	}
	return cfg, nil
}

// openStore opens the sync database, creating its directory if needed.
func openStore(path string) (*store.Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create database directory", err).WithCode(ErrCodeStore)
		}
	}
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err).WithCode(ErrCodeStore)
	}
	return st, nil
}

// openApp loads the config and wires every component. The caller must Close it.
func openApp(opts *RootOptions, cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.LogLevel, opts.Verbose)

	items, err := workitems.Open(cfg.WorkItemsPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, WrapExitError(ExitCommandError, "task file not found", err).WithCode(ErrCodeNotFound)
	}
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load task file", err).WithCode(ErrCodeStore)
	}

	remote := opts.Tracker
	if remote == nil {
		if cfg.Tracker.URL == "" {
			return nil, NewExitError(ExitCommandError, "tracker.url is not configured").WithCode(ErrCodeTracker)
		}
		remote = tracker.NewHTTPClient(cfg.Tracker.URL,
			tracker.WithToken(cfg.Tracker.Token),
			tracker.WithHTTPClient(&http.Client{Timeout: cfg.Tracker.Timeout}))
	}

	db, err := openStore(cfg.StorePath)
	if err != nil {
		return nil, err
	}

	execOpts := []batch.Option{batch.WithLogger(logger)}
	if opts.Clock != nil {
		execOpts = append(execOpts, batch.WithClock(opts.Clock))
	}
	exec, err := batch.NewExecutor(cfg.Policy, execOpts...)
	if err != nil {
		_ = db.Close()
		return nil, WrapExitError(ExitCommandError, "invalid executor policy", err).WithCode(ErrCodeConfig)
	}

	meta := metadata.New(db, remote, metadata.WithLogger(logger))
	engOpts := []engine.Option{
		engine.WithContainer(cfg.Container),
		engine.WithRecovery(cfg.Recovery),
		engine.WithLogger(logger),
	}
	if opts.RunIDs != nil {
		engOpts = append(engOpts, engine.WithRunIDGenerator(opts.RunIDs))
	}

	return &app{
		cfg:    cfg,
		items:  items,
		db:     db,
		remote: remote,
		engine: engine.New(items, remote, meta, db, exec, engOpts...),
		logger: logger,
	}, nil
}

// Close releases the database.
func (a *app) Close() error {
	if err := a.db.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
		return err
	}
	return nil
}

// roots returns the requested roots, or every top-level task when none are given.
func (a *app) roots(cmd *cobra.Command, args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	roots, err := a.items.Roots(cmd.Context())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list tasks", err).WithCode(ErrCodeStore)
	}
	return roots, nil
}

// engineError converts an engine error into an ExitError with a matching code.
func engineError(message string, err error) *ExitError {
	switch {
	case engine.IsHierarchyError(err):
		return WrapExitError(ExitCommandError, message, err).WithCode(ErrCodeHierarchy)
	case errors.Is(err, workitems.ErrNotFound):
		return WrapExitError(ExitCommandError, message, err).WithCode(ErrCodeNotFound)
	default:
		return WrapExitError(ExitFailure, message, err).WithCode(ErrCodeSync)
	}
}

func plural(n int, word string) string {
	switch {
	case n == 1:
		return fmt.Sprintf("%d %s", n, word)
	case strings.HasSuffix(word, "s"):
		return fmt.Sprintf("%d %ses", n, word)
	default:
		return fmt.Sprintf("%d %ss", n, word)
	}
}

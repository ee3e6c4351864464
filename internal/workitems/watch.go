package workitems

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/roach88/treesync/internal/model"
)

// StatusChange is a status transition observed in the task file.
type StatusChange struct {
	Item model.WorkItem
	From model.Status
}

// DefaultDebounce coalesces bursts of file events from one save.
const DefaultDebounce = 200 * time.Millisecond

// Watch reports status transitions made to the task file until ctx is done.
//
// The parent directory is watched rather than the file, since editors and
// Save replace the file by rename. Each burst of events triggers one reload;
// the new statuses are diffed against the previous snapshot and onChange is
// called once per changed item, in file order. Files that fail to parse are
// logged and skipped, keeping the previous snapshot.
func (s *Store) Watch(ctx context.Context, logger *slog.Logger, onChange func(StatusChange)) error {
	if logger == nil {
		logger = slog.Default()
	}

	f, err := Load(s.path)
	if err != nil {
		return err
	}
	snapshot := statusesOf(f)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	target := filepath.Clean(s.path)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			logger.Debug("task file event", "op", event.Op.String(), "file", event.Name)
			if timer == nil {
				timer = time.NewTimer(DefaultDebounce)
			} else {
				timer.Reset(DefaultDebounce)
			}
			timerCh = timer.C

		case <-timerCh:
			timerCh = nil
			f, err := Load(s.path)
			if err != nil {
				logger.Warn("task file reload failed", "file", s.path, "error", err)
				continue
			}
			for _, ch := range diffStatuses(snapshot, f) {
				onChange(ch)
			}
			snapshot = statusesOf(f)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("fsnotify error", "error", err)
		}
	}
}

func statusesOf(f *File) map[string]model.Status {
	out := make(map[string]model.Status)
	for _, it := range f.Items() {
		out[it.ID] = it.Status
	}
	return out
}

// diffStatuses lists items whose status differs from the snapshot. Items new
// to the file are not changes.
func diffStatuses(prev map[string]model.Status, f *File) []StatusChange {
	var changes []StatusChange
	for _, it := range f.Items() {
		old, ok := prev[it.ID]
		if ok && old != it.Status {
			changes = append(changes, StatusChange{Item: it, From: old})
		}
	}
	return changes
}

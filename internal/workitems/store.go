package workitems

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/treesync/internal/model"
)

// ErrNotFound is returned for unknown work item IDs.
var ErrNotFound = errors.New("work item not found")

// Store serves the work-item API from a task file.
//
// The file is re-read on every call so edits made by other tools are seen
// immediately; mutations are read-modify-write under a mutex and saved
// atomically.
type Store struct {
	path string
	mu   sync.Mutex
}

// Open opens the task file at path, failing if it cannot be loaded.
func Open(path string) (*Store, error) {
	if _, err := Load(path); err != nil {
		return nil, err
	}
	return &Store{path: path}, nil
}

// Path returns the task file path.
func (s *Store) Path() string {
	return s.path
}

// GetWorkItem returns one item.
func (s *Store) GetWorkItem(_ context.Context, id string) (model.WorkItem, error) {
	f, err := Load(s.path)
	if err != nil {
		return model.WorkItem{}, err
	}
	for _, it := range f.Items() {
		if it.ID == id {
			return it, nil
		}
	}
	return model.WorkItem{}, fmt.Errorf("%s: %w", id, ErrNotFound)
}

// ListWorkItems returns root and, when root is a task, its subtasks.
// An empty root lists every item.
func (s *Store) ListWorkItems(_ context.Context, root string) ([]model.WorkItem, error) {
	f, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	items := f.Items()
	if root == "" {
		return items, nil
	}

	var out []model.WorkItem
	for _, it := range items {
		if it.ID == root || it.ParentID == root {
			out = append(out, it)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: %w", root, ErrNotFound)
	}
	return out, nil
}

// Roots returns the IDs of all top-level tasks in file order.
func (s *Store) Roots(_ context.Context) ([]string, error) {
	f, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(f.Tasks))
	for _, t := range f.Tasks {
		ids = append(ids, t.ID)
	}
	return ids, nil
}

// SetStatus changes an item's local status.
func (s *Store) SetStatus(_ context.Context, id string, status model.Status) error {
	if !status.Valid() {
		return fmt.Errorf("set status %s: invalid status %q", id, status)
	}
	return s.mutate(id, func(st *model.Status, _ *[]string) {
		*st = status
	})
}

// AppendNote appends a note to an item.
func (s *Store) AppendNote(_ context.Context, id, text string) error {
	return s.mutate(id, func(_ *model.Status, notes *[]string) {
		*notes = append(*notes, text)
	})
}

// Notes returns an item's notes in insertion order.
func (s *Store) Notes(id string) ([]string, error) {
	f, err := Load(s.path)
	if err != nil {
		return nil, err
	}
	_, notes, ok := f.find(id)
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return append([]string(nil), (*notes)...), nil
}

func (s *Store) mutate(id string, fn func(status *model.Status, notes *[]string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := Load(s.path)
	if err != nil {
		return err
	}
	status, notes, ok := f.find(id)
	if !ok {
		return fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	fn(status, notes)
	return Save(s.path, f)
}

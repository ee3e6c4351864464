// Package workitems is the local work-item store: a YAML task file holding
// top-level tasks with nested subtasks and their notes.
package workitems

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/treesync/internal/model"
)

// FileVersion is the task file format version.
const FileVersion = 1

// File is the on-disk task file.
type File struct {
	Version int    `yaml:"version"`
	Tasks   []Task `yaml:"tasks"`
}

// Task is a top-level work item in the task file.
type Task struct {
	ID       string       `yaml:"id"`
	Title    string       `yaml:"title"`
	Body     string       `yaml:"body,omitempty"`
	Status   model.Status `yaml:"status"`
	Notes    []string     `yaml:"notes,omitempty"`
	Subtasks []Subtask    `yaml:"subtasks,omitempty"`
}

// Subtask is a second-level work item. An empty ID is derived as
// "<parent>.<position>".
type Subtask struct {
	ID     string       `yaml:"id,omitempty"`
	Title  string       `yaml:"title"`
	Body   string       `yaml:"body,omitempty"`
	Status model.Status `yaml:"status"`
	Notes  []string     `yaml:"notes,omitempty"`
}

// Decode parses and normalizes a task file. Unknown fields are rejected.
func Decode(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse task file: %w", err)
	}
	if f.Version == 0 {
		f.Version = FileVersion
	}
	if f.Version != FileVersion {
		return nil, fmt.Errorf("unsupported task file version %d", f.Version)
	}
	if err := f.normalize(); err != nil {
		return nil, err
	}
	return &f, nil
}

// normalize fills derived IDs and default statuses and validates the tree.
func (f *File) normalize() error {
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if t.Status == "" {
			t.Status = model.StatusPending
		}
		if !t.Status.Valid() {
			return fmt.Errorf("task %s: invalid status %q", t.ID, t.Status)
		}
		for j := range t.Subtasks {
			s := &t.Subtasks[j]
			if s.ID == "" {
				s.ID = model.SubtaskID(t.ID, j+1)
			}
			if s.Status == "" {
				s.Status = model.StatusPending
			}
			if !s.Status.Valid() {
				return fmt.Errorf("subtask %s: invalid status %q", s.ID, s.Status)
			}
		}
	}
	if err := model.ValidateHierarchy(f.Items()); err != nil {
		return fmt.Errorf("task file: %w", err)
	}
	return nil
}

// Items flattens the file into work items: each task followed by its subtasks.
func (f *File) Items() []model.WorkItem {
	var items []model.WorkItem
	for _, t := range f.Tasks {
		items = append(items, model.WorkItem{ID: t.ID, Title: t.Title, Body: t.Body, Status: t.Status})
		for _, s := range t.Subtasks {
			items = append(items, model.WorkItem{
				ID:       s.ID,
				Title:    s.Title,
				Body:     s.Body,
				Status:   s.Status,
				ParentID: t.ID,
			})
		}
	}
	return items
}

// find returns pointers to the status and notes of an item.
func (f *File) find(id string) (status *model.Status, notes *[]string, ok bool) {
	for i := range f.Tasks {
		t := &f.Tasks[i]
		if t.ID == id {
			return &t.Status, &t.Notes, true
		}
		for j := range t.Subtasks {
			s := &t.Subtasks[j]
			if s.ID == id {
				return &s.Status, &s.Notes, true
			}
		}
	}
	return nil, nil, false
}

// Load reads and decodes a task file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read task file: %w", err)
	}
	return Decode(data)
}

// Save writes f to path atomically: a temp file in the same directory is
// written, synced and renamed over path.
func Save(path string, f *File) error {
	content, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("yaml marshal: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".treesync-tmp-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

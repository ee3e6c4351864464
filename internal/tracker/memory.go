package tracker

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/treesync/internal/model"
)

// Memory is an in-process Tracker.
//
// Besides the tracker contract it exposes fault injection (rate limiting,
// silently dropped creations, rejected titles) and out-of-band mutations
// (Delete, Renumber) that simulate other actors editing the tracker.
//
// Thread-safety: all methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	objects  map[string]*model.RemoteObject
	order    []string
	comments map[string][]string
	prefix   string
	next     int
	newID    func() string

	createCalls     int
	writeCalls      int
	rateLimitCreate int
	dropCreates     map[int]bool
	failTitles      map[string]error
}

// MemoryOption configures a Memory tracker.
type MemoryOption func(*Memory)

// WithNumberPrefix sets the prefix of generated remote numbers (default "ENG").
func WithNumberPrefix(prefix string) MemoryOption {
	return func(m *Memory) {
		m.prefix = prefix
	}
}

// WithIDGenerator replaces the UUID remote-ID generator.
func WithIDGenerator(gen func() string) MemoryOption {
	return func(m *Memory) {
		m.newID = gen
	}
}

// NewMemory creates an empty in-memory tracker.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		objects:     make(map[string]*model.RemoteObject),
		comments:    make(map[string][]string),
		prefix:      "ENG",
		newID:       uuid.NewString,
		dropCreates: make(map[int]bool),
		failTitles:  make(map[string]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SequentialIDs returns a generator yielding "<prefix>1", "<prefix>2", ...
func SequentialIDs(prefix string) func() string {
	var (
		mu sync.Mutex
		n  int
	)
	return func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("%s%d", prefix, n)
	}
}

// CreateObject implements Tracker.
func (m *Memory) CreateObject(ctx context.Context, req CreateRequest) (Created, error) {
	if err := ctx.Err(); err != nil {
		return Created{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	m.createCalls++
	call := m.createCalls

	if m.rateLimitCreate > 0 {
		m.rateLimitCreate--
		return Created{}, fmt.Errorf("create %q: %w", req.Title, ErrRateLimited)
	}
	if err, ok := m.failTitles[req.Title]; ok {
		return Created{}, fmt.Errorf("create %q: %w", req.Title, err)
	}
	if req.ParentRemoteID != "" {
		if _, ok := m.objects[req.ParentRemoteID]; !ok {
			return Created{}, fmt.Errorf("create %q: parent %s: %w", req.Title, req.ParentRemoteID, ErrNotFound)
		}
	}

	m.next++
	created := Created{
		RemoteID:     m.newID(),
		RemoteNumber: fmt.Sprintf("%s-%d", m.prefix, m.next),
	}
	if m.dropCreates[call] {
		// Acknowledged but never materialized.
		return created, nil
	}

	m.objects[created.RemoteID] = &model.RemoteObject{
		RemoteID:       created.RemoteID,
		RemoteNumber:   created.RemoteNumber,
		Title:          req.Title,
		Body:           req.Body,
		Status:         model.RemoteBacklog,
		ContainerID:    req.ContainerID,
		ParentRemoteID: req.ParentRemoteID,
	}
	m.order = append(m.order, created.RemoteID)
	return created, nil
}

// UpdateObjectStatus implements Tracker.
func (m *Memory) UpdateObjectStatus(ctx context.Context, remoteID string, status model.RemoteStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("update %s: invalid status %q", remoteID, status)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	obj, ok := m.objects[remoteID]
	if !ok {
		return fmt.Errorf("update %s: %w", remoteID, ErrNotFound)
	}
	obj.Status = status
	return nil
}

// AddComment implements Tracker.
func (m *Memory) AddComment(ctx context.Context, remoteID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.writeCalls++
	if _, ok := m.objects[remoteID]; !ok {
		return fmt.Errorf("comment on %s: %w", remoteID, ErrNotFound)
	}
	m.comments[remoteID] = append(m.comments[remoteID], text)
	return nil
}

// GetObject implements Tracker.
func (m *Memory) GetObject(ctx context.Context, remoteID string) (model.RemoteObject, error) {
	if err := ctx.Err(); err != nil {
		return model.RemoteObject{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[remoteID]
	if !ok {
		return model.RemoteObject{}, fmt.Errorf("get %s: %w", remoteID, ErrNotFound)
	}
	return *obj, nil
}

// ListObjects implements Tracker.
func (m *Memory) ListObjects(ctx context.Context, containerID, titleQuery string) ([]model.RemoteObject, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	query := strings.ToLower(titleQuery)
	out := []model.RemoteObject{}
	for _, id := range m.order {
		obj, ok := m.objects[id]
		if !ok || obj.ContainerID != containerID {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(obj.Title), query) {
			continue
		}
		out = append(out, *obj)
	}
	return out, nil
}

// Seed inserts an object directly, bypassing faults and write counting.
// RemoteID and RemoteNumber are generated when empty.
func (m *Memory) Seed(obj model.RemoteObject) model.RemoteObject {
	m.mu.Lock()
	defer m.mu.Unlock()

	if obj.RemoteID == "" {
		obj.RemoteID = m.newID()
	}
	if obj.RemoteNumber == "" {
		m.next++
		obj.RemoteNumber = fmt.Sprintf("%s-%d", m.prefix, m.next)
	}
	if obj.Status == "" {
		obj.Status = model.RemoteBacklog
	}
	if _, exists := m.objects[obj.RemoteID]; !exists {
		m.order = append(m.order, obj.RemoteID)
	}
	stored := obj
	m.objects[obj.RemoteID] = &stored
	return obj
}

// Delete removes an object as if another actor deleted it.
func (m *Memory) Delete(remoteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, remoteID)
	delete(m.comments, remoteID)
	for i, id := range m.order {
		if id == remoteID {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}

// Renumber changes an object's display number as if it were moved.
func (m *Memory) Renumber(remoteID, number string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[remoteID]
	if !ok {
		return fmt.Errorf("renumber %s: %w", remoteID, ErrNotFound)
	}
	obj.RemoteNumber = number
	return nil
}

// RateLimitCreates makes the next n CreateObject calls fail with ErrRateLimited.
func (m *Memory) RateLimitCreates(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitCreate = n
}

// DropCreates makes the given CreateObject calls (1-based, counting every
// call) succeed without the object ever appearing.
func (m *Memory) DropCreates(calls ...int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range calls {
		m.dropCreates[c] = true
	}
}

// FailTitle makes every CreateObject for title fail with err.
func (m *Memory) FailTitle(title string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failTitles[title] = err
}

// ClearFaults removes all injected faults.
func (m *Memory) ClearFaults() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rateLimitCreate = 0
	m.dropCreates = make(map[int]bool)
	m.failTitles = make(map[string]error)
}

// Comments returns the comments on an object in insertion order.
func (m *Memory) Comments(remoteID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.comments[remoteID]...)
}

// Writes returns the number of write calls received, including failed ones.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writeCalls
}

// CreateCalls returns the number of CreateObject calls received.
func (m *Memory) CreateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// Len returns the number of live objects.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.objects)
}

var _ Tracker = (*Memory)(nil)

package run

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gisengine/internal/engine"
	xerrors "gisengine/internal/errors"
)

// MemoryStore keeps runs in process memory. State is lost on restart.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*Run
	now  func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*Run), now: time.Now}
}

// Create implements Store.
func (m *MemoryStore) Create(_ context.Context, r *Run) error {
	if r == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "run cannot be nil")
	}
	if strings.TrimSpace(r.ID) == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "run id cannot be empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[r.ID]; ok {
		return ErrConflict
	}
	now := m.now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	m.runs[r.ID] = cloneRun(r)
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(r), nil
}

// Claim implements Store.
func (m *MemoryStore) Claim(_ context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	switch r.Status {
	case StatusSucceeded, StatusFailed:
		return cloneRun(r), ErrCompleted
	case StatusRunning:
		return cloneRun(r), ErrConflict
	}
	if r.Attempts >= r.MaxRetries {
		return cloneRun(r), ErrExhausted
	}
	r.Status = StatusRunning
	r.Attempts++
	r.LastError = ""
	r.ErrorCode = ""
	r.UpdatedAt = m.now().Unix()
	return cloneRun(r), nil
}

// MarkSucceeded implements Store.
func (m *MemoryStore) MarkSucceeded(_ context.Context, id string, result engine.Result) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = StatusSucceeded
	r.Result = &result
	r.LastError = ""
	r.ErrorCode = ""
	r.UpdatedAt = m.now().Unix()
	return nil
}

// MarkFailed implements Store.
func (m *MemoryStore) MarkFailed(_ context.Context, id string, f Failure) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = StatusPending
	if f.Terminal {
		r.Status = StatusFailed
	}
	r.LastError = f.Message
	r.ErrorCode = string(f.Code)
	if f.Result != nil {
		res := *f.Result
		r.Result = &res
	}
	r.UpdatedAt = m.now().Unix()
	return nil
}

// Requeue implements Store.
func (m *MemoryStore) Requeue(_ context.Context, updatedBefore int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	now := m.now().Unix()
	for id, r := range m.runs {
		if r.Status != StatusRunning || r.UpdatedAt >= updatedBefore {
			continue
		}
		r.Status = StatusPending
		r.UpdatedAt = now
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, opts ListOptions) ([]*Run, error) {
	opts.applyDefaults()
	m.mu.RLock()
	results := make([]*Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.matches(r) {
			results = append(results, cloneRun(r))
		}
	}
	m.mu.RUnlock()

	asc := opts.Order == SortByUpdatedAsc
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.UpdatedAt != b.UpdatedAt {
			return (a.UpdatedAt < b.UpdatedAt) == asc
		}
		if a.CreatedAt != b.CreatedAt {
			return (a.CreatedAt < b.CreatedAt) == asc
		}
		return (a.ID < b.ID) == asc
	})

	if opts.Offset >= len(results) {
		return []*Run{}, nil
	}
	results = results[opts.Offset:]
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results, nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(_ context.Context, opts ListOptions) (Stats, error) {
	opts.applyDefaults()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stats Stats
	for _, r := range m.runs {
		if opts.matches(r) {
			stats.add(r)
		}
	}
	return stats, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)

package store

import (
	"context"
	"sync"

	"audio-insights-go/internal/types"
)

// Memory keeps jobs in a map guarded by one mutex. Callers only ever see
// deep copies.
type Memory struct {
	mu   sync.Mutex
	jobs map[string]types.Job
}

func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]types.Job)}
}

func (m *Memory) Create(_ context.Context, job types.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrExists
	}
	m.jobs[job.ID] = job.Clone()
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return types.Job{}, ErrNotFound
	}
	return j.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, mutate func(*types.Job) error) (types.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.jobs[id]
	if !ok {
		return types.Job{}, ErrNotFound
	}
	next := cur.Clone()
	if err := mutate(&next); err != nil {
		return types.Job{}, err
	}
	m.jobs[id] = next
	return next.Clone(), nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]types.Job, error) {
	m.mu.Lock()
	out := make([]types.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if f.Match(j) {
			out = append(out, j.Clone())
		}
	}
	m.mu.Unlock()
	return newestFirst(out, f.Limit), nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	return nil
}

func (m *Memory) Close() error { return nil }

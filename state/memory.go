package state

import (
	"context"
	"sync"
)

// Memory is an in-process Store. State is lost on restart; it backs tests and
// paper runs.
type Memory struct {
	mu   sync.Mutex
	recs map[Key]Trailing
}

func NewMemory() *Memory {
	return &Memory{recs: make(map[Key]Trailing)}
}

func (m *Memory) Get(_ context.Context, key Key) (Trailing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.recs[key]
	if !ok {
		return Trailing{}, ErrNotFound
	}
	return t, nil
}

func (m *Memory) Put(_ context.Context, key Key, t Trailing) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[key] = t
	return nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, key)
	return nil
}

func (m *Memory) List(_ context.Context) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, 0, len(m.recs))
	for k, t := range m.recs {
		out = append(out, Record{Key: k, Trailing: t})
	}
	sortRecords(out)
	return out, nil
}

func (m *Memory) Close() error { return nil }

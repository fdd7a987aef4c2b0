package catalog

import (
	"context"
	"sort"
	"sync"
)

// Store is the video registry: lookup, upsert, delete, and listing by id.
// Implementations return ErrNotFound for unknown ids and must not share
// record memory with callers.
type Store interface {
	Get(ctx context.Context, id string) (*VideoRecord, error)
	Put(ctx context.Context, v *VideoRecord) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]*VideoRecord, error)
}

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	videos map[string]*VideoRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{videos: make(map[string]*VideoRecord)}
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*VideoRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.videos[id]
	if !ok {
		return nil, ErrNotFound
	}
	return v.Clone(), nil
}

func (m *MemoryStore) Put(ctx context.Context, v *VideoRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.videos[v.ID] = v.Clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.videos[id]; !ok {
		return ErrNotFound
	}
	delete(m.videos, id)
	return nil
}

// List returns every record, newest first.
func (m *MemoryStore) List(ctx context.Context) ([]*VideoRecord, error) {
	m.mu.RLock()
	out := make([]*VideoRecord, 0, len(m.videos))
	for _, v := range m.videos {
		out = append(out, v.Clone())
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

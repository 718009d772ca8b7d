package store

import (
	"context"
	"sync"
)

// MemoryLocalStore is a thread-safe in-memory LocalStore.
// Used by the CLI shell and tests; nothing survives the process.
type MemoryLocalStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryLocalStore creates an empty in-memory store.
func NewMemoryLocalStore() *MemoryLocalStore {
	return &MemoryLocalStore{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value, or nil if absent.
func (m *MemoryLocalStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), v...), nil
}

// Put stores a copy of value.
func (m *MemoryLocalStore) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

// scopedLocal adapts a Repository to LocalStore for a single scope.
type scopedLocal struct {
	repo  Repository
	scope string
}

func (s scopedLocal) Get(ctx context.Context, key string) ([]byte, error) {
	return s.repo.GetLocal(ctx, s.scope, key)
}

func (s scopedLocal) Put(ctx context.Context, key string, value []byte) error {
	return s.repo.PutLocal(ctx, s.scope, key, value)
}

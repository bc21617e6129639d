package storage

import (
	"bytes"
	"context"
	"io"
	"sync"
)

// MemoryStorage provides an in-memory object store for local development
// and tests.
type MemoryStorage struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryStorage creates an empty in-memory store
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{objects: make(map[string][]byte)}
}

// GetObject returns a copy of the stored bytes
func (m *MemoryStorage) GetObject(_ context.Context, key string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, &ErrNotFound{Key: key}
	}
	return io.NopCloser(bytes.NewReader(bytes.Clone(data))), nil
}

// PutObject stores a copy of data
func (m *MemoryStorage) PutObject(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.objects[key] = bytes.Clone(data)
	return nil
}

// Ping always succeeds
func (m *MemoryStorage) Ping(_ context.Context) error {
	return nil
}

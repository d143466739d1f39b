// Package imagestore holds generated illustration bytes behind a small
// put/get contract: in memory for local runs and tests, or an S3-compatible
// bucket (R2) in production.
package imagestore

import (
	"context"
	"fmt"
	"sync"
)

// Memory is a map-backed store. Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	data map[string]entry
}

type entry struct {
	bytes       []byte
	contentType string
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string]entry)}
}

func (m *Memory) Put(_ context.Context, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.data[key] = entry{bytes: buf, contentType: contentType}
	return nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok {
		return nil, fmt.Errorf("imagestore: key %q not found", key)
	}
	return e.bytes, nil
}

// Len returns the number of stored objects, for tests.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

// Keys returns every stored object key.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	return keys
}

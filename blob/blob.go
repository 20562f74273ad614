// Package blob is the object-storage seam for signed artifacts. Production
// deployments plug in a bucket-backed implementation; Memory covers dev and
// tests.
package blob

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store puts and gets opaque artifact bytes by key.
type Store interface {
	Put(ctx context.Context, data []byte) (string, error)
	Get(ctx context.Context, key string) ([]byte, error)
}

// Memory is an in-process Store. Each instance owns its own map so parallel
// tests never share state.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{blobs: map[string][]byte{}}
}

func (m *Memory) Put(ctx context.Context, data []byte) (string, error) {
	key := "blob_" + uuid.NewString()
	cp := make([]byte, len(data))
	copy(cp, data)

	m.mu.Lock()
	m.blobs[key] = cp
	m.mu.Unlock()
	return key, nil
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	data, ok := m.blobs[key]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("blob: key %s not found", key)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

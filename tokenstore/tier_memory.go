package tokenstore

import (
	"context"
	"sync"

	storeerrors "github.com/jrsteele09/go-auth-session/internal/errors"
)

var _ Tier = (*MemoryTier)(nil)

// MemoryTier keeps values for the lifetime of the process. It is the
// short-lived tier: closing the process behaves like closing the browsing context.
type MemoryTier struct {
	values map[string]string
	closed bool
	lock   sync.RWMutex
}

func NewMemoryTier() *MemoryTier {
	return &MemoryTier{
		values: make(map[string]string),
	}
}

func (m *MemoryTier) Get(_ context.Context, key string) (string, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	if m.closed {
		return "", storeerrors.ErrClosed
	}
	v, ok := m.values[key]
	if !ok {
		return "", storeerrors.ErrNotFound
	}
	return v, nil
}

func (m *MemoryTier) SetMany(_ context.Context, values map[string]string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return storeerrors.ErrClosed
	}
	for k, v := range values {
		m.values[k] = v
	}
	return nil
}

func (m *MemoryTier) DeleteMany(_ context.Context, keys ...string) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.closed {
		return storeerrors.ErrClosed
	}
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

// Len returns the number of stored keys
func (m *MemoryTier) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.values)
}

func (m *MemoryTier) Close() error {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.closed = true
	m.values = make(map[string]string)
	return nil
}

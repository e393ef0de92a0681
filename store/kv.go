package store

import (
	"context"
	"errors"
	"sync"
)

// ErrUnavailable wraps backend failures from KV implementations. The Store
// swallows it after logging; it is exported so diagnostics can classify
// storage trouble with errors.Is.
var ErrUnavailable = errors.New("session storage unavailable")

// KV is the durable, origin-scoped key-value backend a session persists its
// credential in. Implementations must be safe for concurrent use. Errors are
// surfaced so the [Store] can count and log them, but no caller above the
// Store ever sees them.
type KV interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// MemoryKV is a process-local KV. Sessions stored in it do not survive a
// restart; it is the default backend and the one used in tests.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemoryKV creates an empty in-memory backend.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

// Get implements [KV].
func (m *MemoryKV) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok, nil
}

// Set implements [KV].
func (m *MemoryKV) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

// Delete implements [KV].
func (m *MemoryKV) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

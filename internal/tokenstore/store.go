// Package tokenstore persists the single bearer token that survives process
// restarts. A Store is bound to one slot key; the homeowner/provider app and
// the admin dashboard use different keys and never share a slot.
package tokenstore

import (
	"context"
	"sync"
)

// Store is a persisted single-value token slot.
type Store interface {
	// Load returns the stored token, or "" when the slot is empty.
	Load(ctx context.Context) (string, error)
	// Save overwrites the slot.
	Save(ctx context.Context, token string) error
	// Clear empties the slot. Clearing an empty slot is not an error.
	Clear(ctx context.Context) error
	// Key returns the slot key this store is bound to.
	Key() string
	Close() error
}

// Memory is a process-local Store.
type Memory struct {
	mu    sync.Mutex
	key   string
	token string
}

// NewMemory returns an empty in-memory slot.
func NewMemory(key string) *Memory {
	return &Memory{key: key}
}

func (m *Memory) Load(_ context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.token, nil
}

func (m *Memory) Save(_ context.Context, token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	m.token = ""
	m.mu.Unlock()
	return nil
}

func (m *Memory) Key() string  { return m.key }
func (m *Memory) Close() error { return nil }

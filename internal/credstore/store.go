// Package credstore provides durable key-value storage for session
// credentials. The gateway reads and writes tokens through the Store
// interface so the persistence strategy (in-memory, bbolt, plain file,
// redis) can vary without touching the request protocol.
package credstore

import (
	"sync"

	apperrors "github.com/alexjbarnes/authgate/internal/errors"
)

// Fixed keys the gateway uses. Both are plain strings with no required
// encoding; an absent value means unauthenticated.
const (
	AccessTokenKey  = "access_token"
	RefreshTokenKey = "refresh_token"
)

// Store is the capability interface for credential persistence.
// Get returns errors.ErrKeyNotFound when the key is absent.
// Remove of an absent key is a no-op.
type Store interface {
	Get(key string) (string, error)
	Set(key, value string) error
	Remove(key string) error
}

// Memory is a mutex-guarded in-memory Store. State is lost on restart;
// suitable for tests and for processes that re-login on start.
type Memory struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{values: make(map[string]string)}
}

// Get returns the value for key, or ErrKeyNotFound.
func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.values[key]
	if !ok {
		return "", apperrors.ErrKeyNotFound
	}

	return v, nil
}

// Set stores the value for key.
func (m *Memory) Set(key, value string) error {
	m.mu.Lock()
	m.values[key] = value
	m.mu.Unlock()

	return nil
}

// Remove deletes the value for key.
func (m *Memory) Remove(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()

	return nil
}

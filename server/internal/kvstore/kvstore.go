package kvstore

import (
	"context"
	"errors"
	"sync"
)

// Keys persisted by the console.
const (
	KeyAlerts          = "alerts"
	KeyAudioUnlocked   = "audio_unlocked"
	KeyRefreshInterval = "refresh_interval"
)

// ErrNotFound is returned by Get when a key has never been written.
var ErrNotFound = errors.New("kvstore: key not found")

// Store is a byte-valued key-value store.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Close() error
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[string][]byte)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Close() error { return nil }

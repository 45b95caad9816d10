package database

import (
	"sync"
	"time"

	"github.com/pkg/errors"
)

type entry struct {
	data    string
	expires time.Time
}

type memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

// NewMemory keeps keys in process, for tests and single-process runs.
func NewMemory() Database {
	return &memory{entries: make(map[string]entry), now: time.Now}
}

func (m *memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[key]

	if !ok || (!e.expires.IsZero() && !m.now().Before(e.expires)) {
		return "", errors.Wrapf(ErrNotFound, "'%s'", key)
	}

	return e.data, nil
}

func (m *memory) Set(key string, data string, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := entry{data: data}

	if expiration > 0 {
		e.expires = m.now().Add(expiration)
	}

	m.entries[key] = e

	return nil
}

func (m *memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)

	return nil
}

func (m *memory) Close() error {
	return nil
}

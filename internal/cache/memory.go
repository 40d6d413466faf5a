package cache

import (
	"context"
	"strings"
	"sync"
	"time"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryBackend keeps entries in a map guarded by an RWMutex.
// Expiry is lazy: entries disappear on read once past their deadline, and
// expired entries are pruned in bulk whenever a write pushes the map over
// MaxEntries or when Sweep is called.
type MemoryBackend struct {
	mu         sync.RWMutex
	entries    map[string]entry
	maxEntries int              // 0 = unbounded
	now        func() time.Time // injectable clock
}

func NewMemoryBackend(maxEntries int) *MemoryBackend {
	return NewMemoryBackendWithClock(maxEntries, time.Now)
}

// NewMemoryBackendWithClock is used by tests to control expiry.
func NewMemoryBackendWithClock(maxEntries int, now func() time.Time) *MemoryBackend {
	return &MemoryBackend{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		now:        now,
	}
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.now().After(e.expiresAt) {
		m.mu.Lock()
		// re-check: a concurrent Set may have refreshed it
		if cur, still := m.entries[key]; still && m.now().After(cur.expiresAt) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = entry{value: value, expiresAt: m.now().Add(ttl)}
	if m.maxEntries > 0 && len(m.entries) > m.maxEntries {
		m.pruneLocked()
	}
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.entries, key)
	return nil
}

func (m *MemoryBackend) DeletePrefix(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]entry)
	return nil
}

func (m *MemoryBackend) Len(_ context.Context) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.entries)
}

// Sweep drops every expired entry and returns how many were removed.
func (m *MemoryBackend) Sweep(_ context.Context) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.pruneLocked()
}

// pruneLocked drops expired entries. Caller holds the write lock.
func (m *MemoryBackend) pruneLocked() int {
	now := m.now()
	n := 0
	for k, e := range m.entries {
		if now.After(e.expiresAt) {
			delete(m.entries, k)
			n++
		}
	}
	return n
}

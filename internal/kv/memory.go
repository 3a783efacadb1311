package kv

import (
	"context"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// MemoryStore is an in-process Store. Expired entries are dropped lazily on
// read and by Sweep.
type MemoryStore struct {
	mu        sync.RWMutex
	entries   map[string]memoryEntry
	namespace string
	now       func() time.Time
}

var (
	_ Store   = (*MemoryStore)(nil)
	_ Checker = (*MemoryStore)(nil)
)

// NewMemoryStore creates an empty MemoryStore. A non-empty namespace prefixes
// every key.
func NewMemoryStore(namespace string) *MemoryStore {
	return &MemoryStore{
		entries:   make(map[string]memoryEntry),
		namespace: namespace,
		now:       time.Now,
	}
}

func (m *MemoryStore) key(key string) string {
	if m.namespace == "" {
		return key
	}
	return m.namespace + ":" + key
}

// Get returns the value stored under key
func (m *MemoryStore) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	k := m.key(key)

	m.mu.RLock()
	entry, ok := m.entries[k]
	m.mu.RUnlock()

	if !ok {
		return "", false, nil
	}

	if entry.expired(m.now()) {
		m.mu.Lock()
		// re-check under the write lock, a concurrent Put may have replaced it
		if current, ok := m.entries[k]; ok && current.expired(m.now()) {
			delete(m.entries, k)
		}
		m.mu.Unlock()
		return "", false, nil
	}

	return entry.value, true, nil
}

// Put stores value under key
func (m *MemoryStore) Put(ctx context.Context, key, value string, opts PutOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entry := memoryEntry{value: value}
	if opts.ExpirationTTL > 0 {
		entry.expiresAt = m.now().Add(opts.ExpirationTTL)
	}

	m.mu.Lock()
	m.entries[m.key(key)] = entry
	m.mu.Unlock()

	return nil
}

// Sweep removes expired entries and returns how many were dropped
func (m *MemoryStore) Sweep() int {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, entry := range m.entries {
		if entry.expired(now) {
			delete(m.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries held, including expired ones not yet swept
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Keys returns the stored keys without the namespace prefix
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := ""
	if m.namespace != "" {
		prefix = m.namespace + ":"
	}

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, strings.TrimPrefix(k, prefix))
	}
	return keys
}

// StartJanitor sweeps expired entries every interval until ctx is done
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Ping always succeeds for the in-memory store
func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

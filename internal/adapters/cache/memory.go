// Package cache provides the default in-process response cache.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/pulsefit/pulsefit-client-go/internal/domain"
)

// Memory implements domain.ResponseCache with a mutex-guarded map.
// Entries expire lazily: an expired entry is evicted on the access that
// observes it, and Clear drops everything at once. Each entry carries its
// own TTL since callers choose one per request.
type Memory struct {
	mu      sync.Mutex
	entries map[string]domain.CacheEntry
	clock   clock.Clock
}

// NewMemory creates an empty in-memory cache. A nil clk selects the real
// clock; tests inject a mock to drive expiry.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.New()
	}
	return &Memory{
		entries: make(map[string]domain.CacheEntry),
		clock:   clk,
	}
}

// Get returns a live entry, or domain.ErrCacheMiss when absent or expired.
// An entry found expired is evicted before returning the miss.
func (m *Memory) Get(_ context.Context, key string) (*domain.CacheEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, domain.ErrCacheMiss
	}
	if entry.ExpiredAt(m.clock.Now()) {
		delete(m.entries, key)
		return nil, domain.ErrCacheMiss
	}
	return &entry, nil
}

// Set stores data under key with the given TTL, replacing any prior entry.
func (m *Memory) Set(_ context.Context, key string, data []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[key] = domain.CacheEntry{
		Data:     data,
		StoredAt: m.clock.Now(),
		TTL:      ttl,
	}
	return nil
}

// Clear empties the whole cache.
func (m *Memory) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]domain.CacheEntry)
	return nil
}

// Stats returns the current size and key list for diagnostics. Expired
// entries that have not been touched since expiry are still counted; they
// only disappear on access or Clear.
func (m *Memory) Stats(_ context.Context) (domain.CacheStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	return domain.CacheStats{Size: len(m.entries), Keys: keys}, nil
}

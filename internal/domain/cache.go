package domain

import (
	"context"
	"time"
)

// CacheEntry is one cached GET response body with its expiry bookkeeping.
type CacheEntry struct {
	Data     []byte        `json:"data"`
	StoredAt time.Time     `json:"storedAt"`
	TTL      time.Duration `json:"ttl"`
}

// ExpiredAt reports whether the entry is stale as of now.
func (e CacheEntry) ExpiredAt(now time.Time) bool {
	return now.Sub(e.StoredAt) > e.TTL
}

// CacheStats exposes cache size and keys for diagnostics.
type CacheStats struct {
	Size int
	Keys []string
}

// ResponseCache stores GET response envelopes keyed by
// "METHOD:url[:serializedBody]". Entries expire lazily: Get must not return
// an entry whose TTL has elapsed, and should evict it on that access.
type ResponseCache interface {
	// Get retrieves a live entry, or ErrCacheMiss when absent or expired.
	Get(ctx context.Context, key string) (*CacheEntry, error)

	// Set stores an entry with the given TTL.
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error

	// Clear empties the whole cache. There is no per-resource granularity.
	Clear(ctx context.Context) error

	// Stats returns the current size and key list.
	Stats(ctx context.Context) (CacheStats, error)
}

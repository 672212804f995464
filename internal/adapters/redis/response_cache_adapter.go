package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulsefit/pulsefit-client-go/internal/domain"
	"github.com/pulsefit/pulsefit-client-go/pkg/rediskeys"
)

// cachedResponse is the stored value shape. The logical key travels with the
// payload because the Redis key itself is a hash (see rediskeys).
type cachedResponse struct {
	Key      string    `json:"key"`
	Data     []byte    `json:"data"`
	StoredAt time.Time `json:"storedAt"`
	TTLMs    int64     `json:"ttlMs"`
}

// ResponseCacheAdapter implements domain.ResponseCache on Redis, for hosts
// that want cached GET responses shared across client processes. Expiry is
// delegated to Redis TTLs, which satisfies the same contract as the lazy
// in-memory eviction: Get never returns a stale entry.
type ResponseCacheAdapter struct {
	redisClient *redis.Client
	logger      domain.Logger
}

// NewResponseCacheAdapter creates a new instance of ResponseCacheAdapter.
func NewResponseCacheAdapter(redisClient *redis.Client, logger domain.Logger) *ResponseCacheAdapter {
	if redisClient == nil {
		// Critical setup error; the adapter is unusable without a client.
		panic("redisClient cannot be nil in NewResponseCacheAdapter")
	}
	if logger == nil {
		panic("logger cannot be nil in NewResponseCacheAdapter")
	}
	return &ResponseCacheAdapter{
		redisClient: redisClient,
		logger:      logger,
	}
}

// Get retrieves a cached response, or domain.ErrCacheMiss when absent.
func (a *ResponseCacheAdapter) Get(ctx context.Context, key string) (*domain.CacheEntry, error) {
	val, err := a.redisClient.Get(ctx, rediskeys.ResponseCacheKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		a.logger.Debug(ctx, "Response cache miss", "key", key)
		return nil, domain.ErrCacheMiss
	}
	if err != nil {
		a.logger.Error(ctx, "Failed to get cached response from Redis", "key", key, "error", err.Error())
		return nil, fmt.Errorf("redis GET for response cache key '%s' failed: %w", key, err)
	}

	var stored cachedResponse
	if err = json.Unmarshal([]byte(val), &stored); err != nil {
		a.logger.Error(ctx, "Failed to unmarshal cached response", "key", key, "error", err.Error())
		return nil, fmt.Errorf("failed to unmarshal cached response for key '%s': %w", key, err)
	}

	a.logger.Debug(ctx, "Response cache hit", "key", key)
	return &domain.CacheEntry{
		Data:     stored.Data,
		StoredAt: stored.StoredAt,
		TTL:      time.Duration(stored.TTLMs) * time.Millisecond,
	}, nil
}

// Set stores a response with the given TTL.
func (a *ResponseCacheAdapter) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	stored := cachedResponse{
		Key:      key,
		Data:     data,
		StoredAt: time.Now(),
		TTLMs:    ttl.Milliseconds(),
	}
	payloadBytes, err := json.Marshal(stored)
	if err != nil {
		a.logger.Error(ctx, "Failed to marshal response for caching", "key", key, "error", err.Error())
		return fmt.Errorf("failed to marshal response for key '%s': %w", key, err)
	}

	if err := a.redisClient.Set(ctx, rediskeys.ResponseCacheKey(key), payloadBytes, ttl).Err(); err != nil {
		a.logger.Error(ctx, "Failed to set cached response in Redis", "key", key, "error", err.Error())
		return fmt.Errorf("redis SET for response cache key '%s' failed: %w", key, err)
	}
	return nil
}

// Clear removes every response-cache entry, leaving unrelated keys alone.
func (a *ResponseCacheAdapter) Clear(ctx context.Context) error {
	iter := a.redisClient.Scan(ctx, 0, rediskeys.ResponseCachePrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		a.logger.Error(ctx, "Failed to scan response cache keys for clear", "error", err.Error())
		return fmt.Errorf("redis SCAN for response cache clear failed: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := a.redisClient.Del(ctx, keys...).Err(); err != nil {
		a.logger.Error(ctx, "Failed to delete response cache keys", "count", len(keys), "error", err.Error())
		return fmt.Errorf("redis DEL for response cache clear failed: %w", err)
	}
	a.logger.Debug(ctx, "Response cache cleared", "deleted", len(keys))
	return nil
}

// Stats lists the logical keys currently cached. Each stored value is read
// back to recover the raw key, so this is a diagnostics call, not a hot path.
func (a *ResponseCacheAdapter) Stats(ctx context.Context) (domain.CacheStats, error) {
	iter := a.redisClient.Scan(ctx, 0, rediskeys.ResponseCachePrefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		val, err := a.redisClient.Get(ctx, iter.Val()).Result()
		if errors.Is(err, redis.Nil) {
			continue // expired between SCAN and GET
		}
		if err != nil {
			return domain.CacheStats{}, fmt.Errorf("redis GET during stats failed: %w", err)
		}
		var stored cachedResponse
		if err := json.Unmarshal([]byte(val), &stored); err != nil {
			continue
		}
		keys = append(keys, stored.Key)
	}
	if err := iter.Err(); err != nil {
		return domain.CacheStats{}, fmt.Errorf("redis SCAN for response cache stats failed: %w", err)
	}
	return domain.CacheStats{Size: len(keys), Keys: keys}, nil
}

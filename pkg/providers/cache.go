package providers

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/redis/go-redis/v9"

	"github.com/derm-diagnosis-server/internal/domain"
)

// ResponseCache caches successful provider assessments keyed by a digest of
// the exact images and clinical context submitted. A retried request for the
// identical payload is served from cache instead of re-billing the provider.
// Two tiers: an in-process LRU for hot entries in front of Redis.
type ResponseCache struct {
	redis      *redis.Client
	memory     *lru.Cache
	defaultTTL time.Duration
}

// cachedResult wraps a RawResult with expiry metadata.
type cachedResult struct {
	Data      *domain.RawResult `json:"data"`
	CachedAt  time.Time         `json:"cached_at"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// NewResponseCache creates a new two-tier response cache.
func NewResponseCache(config domain.CacheConfig) (*ResponseCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = config.PoolSize
	opts.PoolTimeout = config.PoolTimeout
	opts.MaxRetries = config.MaxRetries

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	entries := config.MemoryEntries
	if entries <= 0 {
		entries = 256
	}
	memory, err := lru.New(entries)
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &ResponseCache{
		redis:      client,
		memory:     memory,
		defaultTTL: config.DefaultTTL,
	}, nil
}

// Get retrieves a cached assessment. The boolean reports a hit.
func (c *ResponseCache) Get(ctx context.Context, key string) (*domain.RawResult, bool, error) {
	if v, ok := c.memory.Get(key); ok {
		cached := v.(*cachedResult)
		if time.Now().Before(cached.ExpiresAt) {
			return cached.Data, true, nil
		}
		c.memory.Remove(key)
	}

	val, err := c.redis.Get(ctx, key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached assessment: %w", err)
	}

	var cached cachedResult
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		// Corrupted entry; drop it rather than failing the request.
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}

	c.memory.Add(key, &cached)
	return cached.Data, true, nil
}

// Set caches a successful assessment in both tiers.
func (c *ResponseCache) Set(ctx context.Context, key string, result *domain.RawResult, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}

	cached := cachedResult{
		Data:      result,
		CachedAt:  time.Now(),
		ExpiresAt: time.Now().Add(ttl),
	}

	jsonData, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("failed to marshal cached assessment: %w", err)
	}

	c.memory.Add(key, &cached)
	return c.redis.Set(ctx, key, jsonData, ttl).Err()
}

// Ping checks the Redis connection.
func (c *ResponseCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (c *ResponseCache) Close() error {
	return c.redis.Close()
}

// AssessmentKey builds the cache key for one provider's view of one exact
// submission: the digest covers image bytes, not just references, so a
// re-uploaded (different) photo of the same case never matches.
func AssessmentKey(p domain.Provider, images []domain.ImagePayload, symptoms domain.SymptomContext) string {
	h := sha256.New()
	h.Write([]byte(p))
	for _, img := range images {
		h.Write([]byte(img.MIMEType))
		h.Write(img.Data)
	}
	ctxJSON, _ := json.Marshal(symptoms)
	h.Write(ctxJSON)
	return fmt.Sprintf("assessment:%s:%x", p, h.Sum(nil)[:12])
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// TokenCache holds short-lived gateway access tokens so every instance does
// not fetch its own.
type TokenCache interface {
	// Get returns ok=false when no unexpired token is cached.
	Get(ctx context.Context, key string) (token string, ok bool, err error)
	Set(ctx context.Context, key, token string, ttl time.Duration) error
}

const defaultTokenPrefix = "invoicer:token:"

// RedisTokenCache stores tokens in Redis with a TTL
type RedisTokenCache struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisTokenCache creates a Redis backed token cache
func NewRedisTokenCache(client redis.UniversalClient, keyPrefix string) *RedisTokenCache {
	if keyPrefix == "" {
		keyPrefix = defaultTokenPrefix
	}
	return &RedisTokenCache{client: client, keyPrefix: keyPrefix}
}

// Get reads a cached token
func (c *RedisTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	token, err := c.client.Get(ctx, c.keyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read token %s: %w", key, err)
	}
	return token, true, nil
}

// Set caches a token
func (c *RedisTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.keyPrefix+key, token, ttl).Err(); err != nil {
		return fmt.Errorf("store token %s: %w", key, err)
	}
	return nil
}

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// InMemoryTokenCache is the single-instance TokenCache
type InMemoryTokenCache struct {
	mu     sync.Mutex
	tokens map[string]cachedToken
	now    func() time.Time
}

// NewInMemoryTokenCache creates an empty cache
func NewInMemoryTokenCache() *InMemoryTokenCache {
	return &InMemoryTokenCache{tokens: make(map[string]cachedToken), now: time.Now}
}

// Get reads a cached token
func (c *InMemoryTokenCache) Get(ctx context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.tokens[key]
	if !ok || !c.now().Before(t.expiresAt) {
		delete(c.tokens, key)
		return "", false, nil
	}
	return t.value, true, nil
}

// Set caches a token
func (c *InMemoryTokenCache) Set(ctx context.Context, key, token string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = cachedToken{value: token, expiresAt: c.now().Add(ttl)}
	return nil
}

var (
	_ TokenCache = (*RedisTokenCache)(nil)
	_ TokenCache = (*InMemoryTokenCache)(nil)
)

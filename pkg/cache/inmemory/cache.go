package inmemory

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Config holds settings for the in-memory cache driver. Durations are in
// seconds; -1 disables default expiration / cleanup respectively.
type Config struct {
	DefaultExpiration int32 `mapstructure:"defaultExpiration"`
	CleanupInterval   int32 `mapstructure:"cleanupInterval"`
}

// InMemoryCache implements the cache contract in-process. Used as the
// test driver and for single-instance deployments without redis.
type InMemoryCache struct {
	cache *gocache.Cache
}

// NewCache inits an InMemoryCache instance.
func NewCache(config *Config) (*InMemoryCache, error) {
	if config == nil {
		config = &Config{DefaultExpiration: -1, CleanupInterval: -1}
	}
	return &InMemoryCache{
		cache: gocache.New(
			time.Duration(config.DefaultExpiration)*time.Second,
			time.Duration(config.CleanupInterval)*time.Second,
		),
	}, nil
}

// Set stores the value under key for the given lifespan.
func (c *InMemoryCache) Set(_ context.Context, key string, value interface{}, ttl time.Duration) error {
	c.cache.Set(key, value, ttl)
	return nil
}

// Get returns the cached value, or nil when absent or expired.
func (c *InMemoryCache) Get(_ context.Context, key string) (interface{}, error) {
	value, found := c.cache.Get(key)
	if !found {
		return nil, nil
	}
	return value, nil
}

// Expire resets the key's remaining lifespan by re-setting the value.
func (c *InMemoryCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	value, found := c.cache.Get(key)
	if !found {
		return nil
	}
	c.cache.Set(key, value, ttl)
	return nil
}

// TTL returns the key's remaining lifespan, negative when absent or
// without expiry.
func (c *InMemoryCache) TTL(_ context.Context, key string) (time.Duration, error) {
	_, expiration, found := c.cache.GetWithExpiration(key)
	if !found {
		return -2 * time.Millisecond, nil
	}
	if expiration.IsZero() {
		return -1 * time.Millisecond, nil
	}
	return time.Until(expiration), nil
}

// Delete removes the key and returns the value it held.
func (c *InMemoryCache) Delete(_ context.Context, key string) (interface{}, error) {
	value, found := c.cache.Get(key)
	c.cache.Delete(key)
	if !found {
		return nil, nil
	}
	return value, nil
}

// Flush wipes the whole cache.
func (c *InMemoryCache) Flush(_ context.Context) error {
	c.cache.Flush()
	return nil
}

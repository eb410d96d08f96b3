package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redhat-data-and-ai/syncstore/pkg/cache/inmemory"
	"github.com/redhat-data-and-ai/syncstore/pkg/cache/redis"
)

// Cache is the short-lived value store contract: plain key/value pairs
// with millisecond TTLs and no versioning semantics.
type Cache interface {
	// Get returns the cached value, or nil when the key is absent or
	// expired.
	Get(ctx context.Context, key string) (interface{}, error)

	// Set stores the value under key for the given lifespan.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Expire resets the key's remaining lifespan.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the key's remaining lifespan. Negative when the key is
	// absent or carries no expiry.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Delete removes the key and returns the value it held, nil if none.
	Delete(ctx context.Context, key string) (interface{}, error)

	// Flush wipes the whole cache. Test/reset only.
	Flush(ctx context.Context) error
}

// Supported cache drivers.
const (
	DriverRedis    = "redis"
	DriverInMemory = "memory"
)

// Config selects and configures a cache driver.
type Config struct {
	Driver   string           `mapstructure:"driver"`
	Redis    *redis.Config    `mapstructure:"redis"`
	InMemory *inmemory.Config `mapstructure:"inmemory"`
}

// New builds a Cache from config. An empty driver defaults to in-memory.
func New(config *Config) (Cache, error) {
	if config == nil {
		config = &Config{Driver: DriverInMemory}
	}
	switch config.Driver {
	case DriverRedis:
		return redis.NewCache(config.Redis)
	case DriverInMemory, "":
		return inmemory.NewCache(config.InMemory)
	default:
		return nil, fmt.Errorf("unsupported cache driver: %q", config.Driver)
	}
}

// Compile-time interface compliance checks
var (
	_ Cache = (*redis.RedisCache)(nil)
	_ Cache = (*inmemory.InMemoryCache)(nil)
)

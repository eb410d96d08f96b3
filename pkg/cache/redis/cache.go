package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	backendredis "github.com/redhat-data-and-ai/syncstore/pkg/backend/redis"
	"github.com/redhat-data-and-ai/syncstore/pkg/logger"
)

// Config holds all required info for initializing the redis cache driver.
// Prefix namespaces every key so that several deployments can share one
// database without collisions.
type Config struct {
	backendredis.Config `mapstructure:",squash"`
	Prefix              string `mapstructure:"prefix"`
}

// RedisCache implements the cache contract on redis. Values are stored
// JSON-encoded with millisecond expirations (PSETEX/PEXPIRE).
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewCache inits a RedisCache instance, building the pooled client from
// config.
func NewCache(config *Config) (*RedisCache, error) {
	if config == nil {
		return nil, fmt.Errorf("redis cache: missing config")
	}
	client, err := backendredis.NewClient(&config.Config)
	if err != nil {
		return nil, err
	}
	return NewCacheWithClient(client, config.Prefix), nil
}

// NewCacheWithClient wraps an existing client, mostly for tests.
func NewCacheWithClient(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Set stores a JSON-encoded value with a millisecond expiry.
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return rc.wrap(ctx, "set", err)
	}
	return rc.wrap(ctx, "set", rc.client.Set(ctx, rc.prefix+key, encoded, ttl).Err())
}

// Get returns the decoded value, or nil when the key is absent or expired.
func (rc *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	encoded, err := rc.client.Get(ctx, rc.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, rc.wrap(ctx, "get", err)
	}
	var value interface{}
	if err := json.Unmarshal([]byte(encoded), &value); err != nil {
		return nil, rc.wrap(ctx, "get", err)
	}
	return value, nil
}

// Expire resets the key's remaining lifespan.
func (rc *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return rc.wrap(ctx, "expire", rc.client.PExpire(ctx, rc.prefix+key, ttl).Err())
}

// TTL returns the key's remaining lifespan, negative when absent or
// without expiry.
func (rc *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := rc.client.PTTL(ctx, rc.prefix+key).Result()
	if err != nil {
		return 0, rc.wrap(ctx, "ttl", err)
	}
	return ttl, nil
}

// Delete removes the key and returns the value it held.
func (rc *RedisCache) Delete(ctx context.Context, key string) (interface{}, error) {
	value, err := rc.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := rc.client.Del(ctx, rc.prefix+key).Err(); err != nil {
		return nil, rc.wrap(ctx, "delete", err)
	}
	return value, nil
}

// Flush wipes the whole database. Test/reset only.
func (rc *RedisCache) Flush(ctx context.Context) error {
	return rc.wrap(ctx, "flush", rc.client.FlushDB(ctx).Err())
}

// Disconnect closes the underlying client.
func (rc *RedisCache) Disconnect() error {
	return rc.client.Close()
}

func (rc *RedisCache) wrap(ctx context.Context, op string, err error) error {
	if err == nil {
		return nil
	}
	logger.Logger(ctx).WithError(err).WithField("operation", op).Error("cache backend failure")
	return fmt.Errorf("cache backend error: %s: %w", op, err)
}

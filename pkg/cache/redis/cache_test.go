package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, prefix string) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	m := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewCacheWithClient(client, prefix), m
}

func TestSetGetRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t, "")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "greeting", map[string]any{"hello": "world"}, time.Minute))

	value, err := cache.Get(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"hello": "world"}, value)
}

func TestGetMissingReturnsNil(t *testing.T) {
	cache, _ := newTestCache(t, "")

	value, err := cache.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestTTLAndExpire(t *testing.T) {
	cache, m := newTestCache(t, "")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))

	ttl, err := cache.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	require.NoError(t, cache.Expire(ctx, "k", time.Second))
	ttl, err = cache.TTL(ctx, "k")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Second)

	m.FastForward(2 * time.Second)
	value, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, value, "expired keys read as missing")
}

func TestTTLMissingKeyIsNegative(t *testing.T) {
	cache, _ := newTestCache(t, "")

	ttl, err := cache.TTL(context.Background(), "absent")
	require.NoError(t, err)
	assert.Negative(t, ttl)
}

func TestDeleteReturnsOldValue(t *testing.T) {
	cache, _ := newTestCache(t, "")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))

	old, err := cache.Delete(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", old)

	value, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestPrefixIsolation(t *testing.T) {
	m := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	stack1 := NewCacheWithClient(client, "stack1_")
	stack2 := NewCacheWithClient(client, "stack2_")

	require.NoError(t, stack1.Set(ctx, "k", "one", time.Minute))
	require.NoError(t, stack2.Set(ctx, "k", "two", time.Minute))

	value, err := stack1.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "one", value)

	value, err = stack2.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "two", value)
}

func TestFlush(t *testing.T) {
	cache, m := newTestCache(t, "")
	ctx := context.Background()

	require.NoError(t, cache.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, cache.Flush(ctx))
	assert.False(t, m.Exists("k"))
}

package inmemory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *InMemoryCache {
	t.Helper()
	c, err := NewCache(&Config{DefaultExpiration: -1, CleanupInterval: -1})
	require.NoError(t, err)
	return c
}

func TestSetGetDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	value, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	old, err := c.Delete(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", old)

	value, err = c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestTTL(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))

	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, ttl, 50*time.Second)

	ttl, err = c.TTL(ctx, "absent")
	require.NoError(t, err)
	assert.Negative(t, ttl)
}

func TestExpire(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Hour))
	require.NoError(t, c.Expire(ctx, "k", time.Second))

	ttl, err := c.TTL(ctx, "k")
	require.NoError(t, err)
	assert.LessOrEqual(t, ttl, time.Second)

	// Expiring an absent key is a no-op.
	require.NoError(t, c.Expire(ctx, "absent", time.Second))
}

func TestFlush(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, c.Flush(ctx))

	value, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Nil(t, value)
}

func TestNilConfigDefaults(t *testing.T) {
	c, err := NewCache(nil)
	require.NoError(t, err)
	require.NoError(t, c.Set(context.Background(), "k", "v", time.Minute))
}

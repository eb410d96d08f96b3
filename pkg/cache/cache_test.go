package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redhat-data-and-ai/syncstore/pkg/cache/inmemory"
)

func TestNewDefaultsToInMemory(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	require.NotNil(t, c)

	require.NoError(t, c.Set(context.Background(), "k", "v", time.Minute))
	value, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)
}

func TestNewInMemoryDriver(t *testing.T) {
	c, err := New(&Config{
		Driver: DriverInMemory,
		InMemory: &inmemory.Config{
			DefaultExpiration: 300,
			CleanupInterval:   600,
		},
	})
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestNewUnsupportedDriver(t *testing.T) {
	_, err := New(&Config{Driver: "memcached"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported cache driver")
}

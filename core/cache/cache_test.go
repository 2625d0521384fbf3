package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfiguration() Configuration {
	return Configuration{
		Pools: map[Pool]PoolConfiguration{
			PoolStreams:       {MaxEntries: 4, MaxItemSize: 64, TTLSeconds: 60},
			PoolSingleRecords: {MaxItemSize: 16},
		},
	}
}

func runAdapterTests(t *testing.T, c Cache) {
	ctx := context.Background()

	c.Set(ctx, PoolStreams, "stream:alice:/blog", []byte("row"))
	value, ok := c.Get(ctx, PoolStreams, "stream:alice:/blog")
	require.True(t, ok)
	assert.Equal(t, []byte("row"), value)

	_, ok = c.Get(ctx, PoolStreams, "stream:alice:/missing")
	assert.False(t, ok)

	// oversized values bypass the cache
	c.Set(ctx, PoolSingleRecords, "record:1", make([]byte, 1024))
	_, ok = c.Get(ctx, PoolSingleRecords, "record:1")
	assert.False(t, ok)

	c.Delete(ctx, PoolStreams, "stream:alice:/blog")
	_, ok = c.Get(ctx, PoolStreams, "stream:alice:/blog")
	assert.False(t, ok)

	// prefix-glob clear removes only the matching keys
	c.Set(ctx, PoolStreams, "stream:alice:/a", []byte("a"))
	c.Set(ctx, PoolStreams, "stream:alice:/b", []byte("b"))
	c.Set(ctx, PoolStreams, "stream:bob:/a", []byte("c"))
	require.NoError(t, c.Clear(ctx, PoolStreams, "stream:alice:*"))
	_, ok = c.Get(ctx, PoolStreams, "stream:alice:/a")
	assert.False(t, ok)
	_, ok = c.Get(ctx, PoolStreams, "stream:alice:/b")
	assert.False(t, ok)
	_, ok = c.Get(ctx, PoolStreams, "stream:bob:/a")
	assert.True(t, ok)

	require.NoError(t, c.Clear(ctx, PoolStreams, "*"))
	_, ok = c.Get(ctx, PoolStreams, "stream:bob:/a")
	assert.False(t, ok)
}

func TestMemoryCache(t *testing.T) {
	c := NewMemory(testConfiguration())
	defer c.Shutdown()
	runAdapterTests(t, c)
}

func TestMemoryCacheEviction(t *testing.T) {
	c := NewMemory(testConfiguration())
	defer c.Shutdown()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		c.Set(ctx, PoolStreams, fmt.Sprintf("key%d", i), []byte("x"))
	}
	// touch key0 so key1 becomes the least recently used
	_, ok := c.Get(ctx, PoolStreams, "key0")
	require.True(t, ok)

	c.Set(ctx, PoolStreams, "key4", []byte("x"))
	_, ok = c.Get(ctx, PoolStreams, "key1")
	assert.False(t, ok, "least recently used entry should be evicted")
	_, ok = c.Get(ctx, PoolStreams, "key0")
	assert.True(t, ok)
}

func TestMemoryCacheExpiry(t *testing.T) {
	config := Configuration{Pools: map[Pool]PoolConfiguration{
		PoolStreams: {TTLSeconds: 1},
	}}
	c := NewMemory(config)
	defer c.Shutdown()
	ctx := context.Background()

	c.Set(ctx, PoolStreams, "key", []byte("x"))
	p := c.pools[PoolStreams]
	p.mutex.Lock()
	for _, elem := range p.entries {
		elem.Value.(*memoryEntry).expires = time.Now().Add(-time.Second)
	}
	p.mutex.Unlock()

	_, ok := c.Get(ctx, PoolStreams, "key")
	assert.False(t, ok)
}

func TestRedisCache(t *testing.T) {
	server := miniredis.RunT(t)
	c, err := NewRedis(server.Addr(), "", testConfiguration())
	require.NoError(t, err)
	defer c.Shutdown()
	runAdapterTests(t, c)
}

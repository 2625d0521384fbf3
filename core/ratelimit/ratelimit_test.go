package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webpods-org/webpods/core"
)

func testLimiter(limits Limits) *MemorySlidingWindow {
	l := NewMemorySlidingWindow(limits)
	return l
}

func TestSlidingWindowDenialAfterLimit(t *testing.T) {
	l := testLimiter(Limits{Writes: 3, WindowMS: 60_000})
	defer l.Shutdown()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		result, err := l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
		require.NoError(t, err)
		assert.True(t, result.Allowed)
		assert.Equal(t, 3, result.Limit)
		assert.Equal(t, 2-i, result.Remaining)
	}

	result, err := l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Equal(t, 0, result.Remaining)
	assert.Greater(t, result.ResetAt, time.Now().UnixMilli())

	// denials do not mutate, the bucket must free up exactly at window end
	result2, err := l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
	require.NoError(t, err)
	assert.Equal(t, result.ResetAt, result2.ResetAt)
}

func TestSlidingWindowIsolatesIdentifiersAndActions(t *testing.T) {
	l := testLimiter(Limits{Writes: 1, Reads: 1, WindowMS: 60_000})
	defer l.Shutdown()
	ctx := context.Background()

	result, err := l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
	require.NoError(t, err)
	require.True(t, result.Allowed)

	result, err = l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
	require.NoError(t, err)
	assert.False(t, result.Allowed)

	// a different identifier and a different action are unaffected
	result, err = l.CheckAndIncrement(ctx, "bob", core.ActionWrite)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	result, err = l.CheckAndIncrement(ctx, "alice", core.ActionRead)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestSlidingWindowSlides(t *testing.T) {
	l := testLimiter(Limits{Writes: 2, WindowMS: 1000})
	defer l.Shutdown()
	ctx := context.Background()

	clock := time.Now()
	l.now = func() time.Time { return clock }

	for i := 0; i < 2; i++ {
		result, err := l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
		require.NoError(t, err)
		require.True(t, result.Allowed)
	}
	result, err := l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
	require.NoError(t, err)
	require.False(t, result.Allowed)

	// move past the window, the old entries trim away
	clock = clock.Add(1100 * time.Millisecond)
	result, err = l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
}

func TestSlidingWindowCleanupRemovesStaleBuckets(t *testing.T) {
	l := testLimiter(Limits{Writes: 2, WindowMS: 1000})
	defer l.Shutdown()
	ctx := context.Background()

	clock := time.Now()
	l.now = func() time.Time { return clock }

	_, err := l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
	require.NoError(t, err)

	clock = clock.Add(2 * time.Second)
	l.cleanup()

	l.mutex.Lock()
	defer l.mutex.Unlock()
	assert.Empty(t, l.buckets)
}

func TestSlidingWindowConcurrentCallers(t *testing.T) {
	l := testLimiter(Limits{Writes: 50, WindowMS: 60_000})
	defer l.Shutdown()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mutex sync.Mutex
	allowed := 0
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := l.CheckAndIncrement(ctx, "alice", core.ActionWrite)
			require.NoError(t, err)
			if result.Allowed {
				mutex.Lock()
				allowed++
				mutex.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, allowed)
}

func TestLimitsNormalized(t *testing.T) {
	l := Limits{}.normalized()
	assert.Equal(t, DefaultLimits.Reads, l.Reads)
	assert.Equal(t, DefaultLimits.Writes, l.Writes)
	assert.Equal(t, DefaultLimits.WindowMS, l.WindowMS)
	assert.Equal(t, l.WindowMS, l.CleanupIntervalMS)
}

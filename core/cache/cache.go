// Package cache provides the pooled key/value cache that guards the
// webpods data engine. Entries live in logical pools with independent
// size caps and TTLs. Two adapters exist: an in-process cache and a
// redis-backed cache for multi-instance deployments.
package cache

import (
	"context"
	"time"
)

// Pool is a logical cache namespace.
type Pool string

// all cache pools
const (
	// PoolPods holds pod metadata and user-pod lists.
	PoolPods Pool = "pods"
	// PoolStreams holds stream rows, child lists and counts.
	PoolStreams Pool = "streams"
	// PoolSingleRecords holds individual record rows below the size cap.
	PoolSingleRecords Pool = "singleRecords"
	// PoolRecordLists holds list-query results below the row and size caps.
	PoolRecordLists Pool = "recordLists"
)

// Pools returns all known pools.
func Pools() []Pool {
	return []Pool{PoolPods, PoolStreams, PoolSingleRecords, PoolRecordLists}
}

// PoolConfiguration configures one pool.
type PoolConfiguration struct {
	// MaxEntries caps the number of entries in the pool. Zero means 1024.
	MaxEntries int `json:"max_entries"`
	// MaxItemSize caps the byte size of a single value. Larger values
	// bypass the cache. Zero means 64 KiB.
	MaxItemSize int `json:"max_item_size"`
	// TTLSeconds is the entry lifetime. Zero means 60 seconds.
	TTLSeconds int `json:"ttl_seconds"`
}

func (p PoolConfiguration) maxEntries() int {
	if p.MaxEntries <= 0 {
		return 1024
	}
	return p.MaxEntries
}

func (p PoolConfiguration) maxItemSize() int {
	if p.MaxItemSize <= 0 {
		return 64 * 1024
	}
	return p.MaxItemSize
}

func (p PoolConfiguration) ttl() time.Duration {
	if p.TTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(p.TTLSeconds) * time.Second
}

// Configuration configures a cache across all pools.
type Configuration struct {
	Pools map[Pool]PoolConfiguration `json:"pools"`
}

// Cache is the adapter interface. Implementations are safe for concurrent
// use. Patterns passed to Clear are either "*" for the entire pool or a
// literal prefix terminated by '*'.
type Cache interface {
	Get(ctx context.Context, pool Pool, key string) ([]byte, bool)
	Set(ctx context.Context, pool Pool, key string, value []byte)
	Delete(ctx context.Context, pool Pool, key string)
	Clear(ctx context.Context, pool Pool, pattern string) error
	Shutdown()
}

// matchesPattern reports whether key matches pattern. Supported patterns
// are "*" and literal prefixes terminated by '*'.
func matchesPattern(key, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if n := len(pattern); n > 0 && pattern[n-1] == '*' {
		prefix := pattern[:n-1]
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	}
	return key == pattern
}

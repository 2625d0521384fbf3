package cache

import (
	"context"

	"github.com/redis/go-redis/v9"

	"github.com/webpods-org/webpods/core/logger"
)

// Redis is the redis-backed cache adapter. Keys are namespaced per pool
// as "webpods:<pool>:<key>"; TTLs are enforced by redis itself. Item size
// caps still apply, entry count caps are left to redis eviction policies.
type Redis struct {
	client *redis.Client
	config Configuration
}

// NewRedis creates a redis cache adapter for the given address.
func NewRedis(addr, password string, config Configuration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	logger.Default().Infoln("cache: redis adapter enabled:", addr)
	return &Redis{client: client, config: config}, nil
}

func redisKey(pool Pool, key string) string {
	return "webpods:" + string(pool) + ":" + key
}

// Get returns the cached value for key, if present.
func (c *Redis) Get(ctx context.Context, pool Pool, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, redisKey(pool, key)).Bytes()
	if err != nil {
		if err != redis.Nil {
			logger.FromContext(ctx).WithError(err).Debugln("cache: redis get failed")
		}
		return nil, false
	}
	return value, true
}

// Set stores value under key with the pool's TTL. Values larger than the
// pool's item size cap bypass the cache. Failures are logged and ignored,
// a cache set is best effort.
func (c *Redis) Set(ctx context.Context, pool Pool, key string, value []byte) {
	poolConfig := c.config.Pools[pool]
	if len(value) > poolConfig.maxItemSize() {
		return
	}
	err := c.client.Set(ctx, redisKey(pool, key), value, poolConfig.ttl()).Err()
	if err != nil {
		logger.FromContext(ctx).WithError(err).Debugln("cache: redis set failed")
	}
}

// Delete removes the entry for key.
func (c *Redis) Delete(ctx context.Context, pool Pool, key string) {
	err := c.client.Del(ctx, redisKey(pool, key)).Err()
	if err != nil {
		logger.FromContext(ctx).WithError(err).Debugln("cache: redis delete failed")
	}
}

// Clear removes all entries of the pool matching pattern, using SCAN to
// avoid blocking redis on large pools.
func (c *Redis) Clear(ctx context.Context, pool Pool, pattern string) error {
	match := redisKey(pool, pattern)
	iter := c.client.Scan(ctx, 0, match, 256).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) >= 256 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}

// Shutdown closes the redis connection.
func (c *Redis) Shutdown() {
	c.client.Close()
}

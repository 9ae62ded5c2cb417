package licensing

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alignex/entitlements/pkg/observability"
)

// RedisCache backs the resolver cache with Redis so invalidations reach every
// service replica. Redis failures degrade to cache misses; the resolver's
// store fallback handles the rest.
type RedisCache struct {
	client    *redis.Client
	logger    *observability.Logger
	keyPrefix string
}

// NewRedisCache creates a Redis-backed resolver cache.
func NewRedisCache(client *redis.Client, logger *observability.Logger) *RedisCache {
	return &RedisCache{
		client:    client,
		logger:    logger,
		keyPrefix: "entitlements:",
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := c.client.Get(ctx, c.keyPrefix+key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("redis cache get failed")
		return nil, false
	}
	return value, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, c.keyPrefix+key, value, ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("redis cache set failed")
	}
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) {
	prefixed := make([]string, len(keys))
	for i, key := range keys {
		prefixed[i] = c.keyPrefix + key
	}
	if err := c.client.Del(ctx, prefixed...).Err(); err != nil {
		c.logger.WithError(err).Warn("redis cache delete failed")
	}
}

// deletePrefix scans for prefixed keys and removes them in one round trip.
func (c *RedisCache) deletePrefix(ctx context.Context, prefix string) {
	iter := c.client.Scan(ctx, 0, c.keyPrefix+prefix+"*", 0).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		c.logger.WithError(err).Warn("redis cache scan failed")
		return
	}
	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			c.logger.WithError(err).Warn("redis cache delete failed")
		}
	}
}

func (c *RedisCache) Flush(ctx context.Context) {
	c.deletePrefix(ctx, "")
}

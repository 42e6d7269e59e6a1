package cache

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/sessionkeeper/internal/logging"
	"github.com/redis/go-redis/v9"
)

// RedisCache stores entries in Redis under a fixed key prefix. Every Redis
// error is logged at warn level and swallowed.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	logger logging.Logger
}

func NewRedisCache(client redis.UniversalClient, prefix string, l logging.Logger) *RedisCache {
	return &RedisCache{client: client, prefix: prefix, logger: l.With("module", "cache")}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn(ctx, "cache get failed", "key", key, "error", err)
		}
		return nil, false
	}
	return b, true
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		c.logger.Warn(ctx, "cache set failed", "key", key, "error", err)
	}
}

func (c *RedisCache) Remove(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.prefix + k
	}
	if err := c.client.Del(ctx, full...).Err(); err != nil {
		c.logger.Warn(ctx, "cache remove failed", "keys", keys, "error", err)
	}
}

// Ping reports whether Redis answers. It is used at startup only.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

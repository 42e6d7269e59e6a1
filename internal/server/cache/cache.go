// Package cache is the best-effort profile cache. Implementations never
// return errors: a failed read is a miss and a failed write is dropped.
package cache

import (
	"context"
	"time"
)

// Cache is a byte-oriented key/value cache with per-entry TTL.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Remove(ctx context.Context, keys ...string)
}

// NopCache caches nothing. It is used when no Redis is configured.
type NopCache struct{}

func (NopCache) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (NopCache) Set(context.Context, string, []byte, time.Duration) {}
func (NopCache) Remove(context.Context, ...string)                  {}

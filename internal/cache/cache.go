// Package cache is the optional key/value cache spec.md §4.8 describes: a
// no-op when unconfigured, a Redis-backed implementation otherwise, both
// behind one interface so call sites never branch on backend type
// (spec.md §9 "optional cache with no-op fallback").
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, ttl time.Duration)
	Delete(ctx context.Context, key string)
	InvalidatePattern(ctx context.Context, pattern string)
}

// NoOp satisfies Cache when CACHE_URL is unset. Every call is a pure no-op;
// callers must tolerate misses regardless of backend, so this can never
// surprise one.
type NoOp struct{}

func (NoOp) Get(context.Context, string) (string, bool)       { return "", false }
func (NoOp) Set(context.Context, string, string, time.Duration) {}
func (NoOp) Delete(context.Context, string)                    {}
func (NoOp) InvalidatePattern(context.Context, string)          {}

// Redis is the backed implementation. All errors are logged and swallowed —
// spec.md §4.8 is explicit that cache errors are never propagated.
type Redis struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedis(rdb *redis.Client, log *zap.Logger) *Redis {
	return &Redis{rdb: rdb, log: log}
}

func (c *Redis) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.log.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		}
		return "", false
	}
	return v, true
}

func (c *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		c.log.Warn("cache set failed", zap.String("key", key), zap.Error(err))
	}
}

func (c *Redis) Delete(ctx context.Context, key string) {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		c.log.Warn("cache delete failed", zap.String("key", key), zap.Error(err))
	}
}

// InvalidatePattern scans and deletes keys matching pattern, using SCAN
// rather than KEYS so invalidation never blocks the Redis event loop.
func (c *Redis) InvalidatePattern(ctx context.Context, pattern string) {
	var cursor uint64
	for {
		keys, next, err := c.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			c.log.Warn("cache invalidatePattern scan failed", zap.String("pattern", pattern), zap.Error(err))
			return
		}
		if len(keys) > 0 {
			if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
				c.log.Warn("cache invalidatePattern delete failed", zap.Error(err))
			}
		}
		cursor = next
		if cursor == 0 {
			return
		}
	}
}

// DeploymentListKey is the cache key C6 invalidates on every status change.
func DeploymentListKey(userID string) string {
	return "deployments:" + userID
}

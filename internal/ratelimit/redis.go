package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrWithExpireScript atomically increments a fixed-window counter and
// sets its TTL only on the first increment in the window, the same
// SET/INCR atomicity shape as the teacher's seedAndIncrScript (billing
// package) applied to rate limiting instead of nonce seeding.
//
// KEYS[1] = window key
// ARGV[1] = window TTL in seconds
var incrWithExpireScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
    redis.call('EXPIRE', KEYS[1], ARGV[1])
end
return count
`)

// Redis is a fixed-window counter, for multi-instance deployments where an
// in-process token bucket would let each instance admit independently.
type Redis struct {
	rdb    *redis.Client
	limit  int64
	window time.Duration
}

func NewRedisLimiter(rdb *redis.Client, limit int64, window time.Duration) *Redis {
	return &Redis{rdb: rdb, limit: limit, window: window}
}

func (r *Redis) Admit(ctx context.Context, actor, route string) (bool, time.Duration, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", actor, route)
	count, err := incrWithExpireScript.Run(ctx, r.rdb, []string{key}, int64(r.window.Seconds())).Int64()
	if err != nil {
		return false, 0, err
	}
	if count <= r.limit {
		return true, 0, nil
	}
	ttl, err := r.rdb.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = r.window
	}
	return false, ttl, nil
}

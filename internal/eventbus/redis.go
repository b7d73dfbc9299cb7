package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const queueKey = "orchestrator:events"

// RedisBus is the multi-instance transport: RPush/BLPop over a single
// Redis list, the same durable-queue shape as the teacher's voucher queue
// (internal/settler.Run), so DEPLOYMENT_STARTED reaches exactly one Job
// Runner worker even with several orchestrator processes running.
type RedisBus struct {
	rdb *redis.Client
	log *zap.Logger
}

func NewRedisBus(rdb *redis.Client, log *zap.Logger) *RedisBus {
	return &RedisBus{rdb: rdb, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.rdb.RPush(ctx, queueKey, payload).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, handler func(Event)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		result, err := b.rdb.BLPop(ctx, 5*time.Second, queueKey).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.log.Warn("eventbus BLPop failed", zap.Error(err))
			continue
		}
		// result[0] is the key name, result[1] is the payload.
		var ev Event
		if err := json.Unmarshal([]byte(result[1]), &ev); err != nil {
			b.log.Warn("eventbus: dropping malformed event", zap.Error(err))
			continue
		}
		handler(ev)
	}
}

// Package ratelimit is the Admit(actor, route) oracle spec.md §1 and §9
// treat as swappable: an in-process token bucket for single-instance
// deployments, a Redis fixed-window counter for multi-instance ones.
package ratelimit

import (
	"context"
	"time"
)

type Limiter interface {
	Admit(ctx context.Context, actor, route string) (allowed bool, retryAfter time.Duration, err error)
}

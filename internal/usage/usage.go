// Package usage is the Usage Metering Bridge (C10): ingests a billable
// event to the payment provider and invalidates the meter cache, tolerating
// a missing meter. Grounded on the teacher's own billing.EventHandler (an
// event handler wrapping a VoucherSigner and logging-and-swallowing every
// failure it can recover from) with the on-chain voucher signer replaced by
// a Stripe meter-event client.
package usage

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/cache"
)

// MeterClient ingests usage events and checks meter existence at the
// payment provider. Satisfied by internal/payment.Mediator.
type MeterClient interface {
	IngestUsageEvent(ctx context.Context, customerID, eventName string, amount float64, at time.Time) error
	MeterExists(ctx context.Context, customerID, meterName string) (bool, error)
}

const meterName = "ai_usage"

type Bridge struct {
	meter MeterClient
	cache cache.Cache
	log   *zap.Logger
}

func New(meter MeterClient, c cache.Cache, log *zap.Logger) *Bridge {
	return &Bridge{meter: meter, cache: c, log: log}
}

// RecordUsage is best-effort: every failure is logged and swallowed so
// metering never fails the caller's operation (spec.md §4.10).
func (b *Bridge) RecordUsage(ctx context.Context, billingCustomerID, eventName string, amount float64) {
	if err := b.meter.IngestUsageEvent(ctx, billingCustomerID, eventName, amount, time.Now()); err != nil {
		b.log.Warn("usage: ingest failed", zap.String("customerId", billingCustomerID), zap.String("event", eventName), zap.Error(err))
	}
	b.cache.Delete(ctx, meterCacheKey(billingCustomerID))
}

type RecordResult struct {
	Success  bool
	Recorded bool
	Error    string
}

// RecordUsageSafe first validates that the ai_usage meter exists for the
// customer before ingesting (spec.md §4.10).
func (b *Bridge) RecordUsageSafe(ctx context.Context, billingCustomerID, eventName string, amount float64, fallbackToLocal bool) RecordResult {
	exists, err := b.meter.MeterExists(ctx, billingCustomerID, meterName)
	if err != nil {
		b.log.Warn("usage: meter existence check failed", zap.String("customerId", billingCustomerID), zap.Error(err))
		exists = false
	}

	if !exists && !fallbackToLocal {
		return RecordResult{Success: false, Recorded: false}
	}

	if err := b.meter.IngestUsageEvent(ctx, billingCustomerID, eventName, amount, time.Now()); err != nil {
		if fallbackToLocal {
			b.log.Warn("usage: ingest failed, falling back to local record", zap.String("customerId", billingCustomerID), zap.Error(err))
			return RecordResult{Success: true, Recorded: false, Error: err.Error()}
		}
		return RecordResult{Success: false, Recorded: false, Error: err.Error()}
	}
	b.cache.Delete(ctx, meterCacheKey(billingCustomerID))
	return RecordResult{Success: true, Recorded: true}
}

func meterCacheKey(customerID string) string {
	return fmt.Sprintf("meter:%s", customerID)
}

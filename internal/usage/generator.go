package usage

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/domain"
)

// DeploymentLister is the subset of internal/repo.DeploymentRepository the
// generator needs to find bots currently billable.
type DeploymentLister interface {
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.Deployment, error)
}

type UserBillingIDResolver interface {
	FindByID(ctx context.Context, id string) (*domain.User, error)
}

const uptimeTickEvent = "bot_uptime_tick"

// RunGenerator periodically bills every active deployment for one tick of
// uptime, the same periodic-scan shape as the teacher's RunGenerator
// (billing/generator.go), adapted from signing a compute voucher per
// sandbox session to ingesting a Stripe meter event per active deployment.
func RunGenerator(ctx context.Context, interval time.Duration, deployments DeploymentLister, users UserBillingIDResolver, bridge *Bridge, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("usage generator started", zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			log.Info("usage generator stopped")
			return
		case <-ticker.C:
			runGeneration(ctx, interval, deployments, users, bridge, log)
		}
	}
}

func runGeneration(ctx context.Context, interval time.Duration, deployments DeploymentLister, users UserBillingIDResolver, bridge *Bridge, log *zap.Logger) {
	active, err := deployments.ListByStatus(ctx, domain.StatusActive)
	if err != nil {
		log.Error("usage generator: list active deployments", zap.Error(err))
		return
	}

	for _, d := range active {
		user, err := users.FindByID(ctx, d.UserID)
		if err != nil || user == nil || user.BillingCustomerID == "" {
			continue
		}
		bridge.RecordUsage(ctx, user.BillingCustomerID, uptimeTickEvent, interval.Seconds())
	}
}

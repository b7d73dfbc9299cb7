// Package statemachine is the Deployment State Machine (C6): the sole
// writer of persisted Deployment status, guarding every transition and
// firing the cache invalidation and event-bus side effects spec.md §4.6
// specifies.
package statemachine

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/cache"
	"github.com/openclaw/deploy-orchestrator/internal/domain"
	"github.com/openclaw/deploy-orchestrator/internal/eventbus"
)

type DeploymentRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Deployment, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status, details *domain.StatusDetails) error
}

type Machine struct {
	repo  DeploymentRepository
	cache cache.Cache
	bus   eventbus.Bus
	log   *zap.Logger
}

func New(repo DeploymentRepository, c cache.Cache, bus eventbus.Bus, log *zap.Logger) *Machine {
	return &Machine{repo: repo, cache: c, bus: bus, log: log}
}

var ErrInvalidTransition = fmt.Errorf("statemachine: invalid transition")

// StartDeploying transitions pending → deploying, guarded on current status
// being pending. Called by the Job Runner's first step once the payment
// webhook has started the flow.
func (m *Machine) StartDeploying(ctx context.Context, deploymentID string) error {
	d, err := m.repo.FindByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("statemachine: deployment %s not found", deploymentID)
	}
	if d.Status != domain.StatusPending {
		// terminal states and an already-deploying row are never
		// re-entered from here (spec.md §8 invariant 3); webhook replays
		// land here and become a no-op (E6).
		return nil
	}
	if err := m.repo.UpdateStatus(ctx, deploymentID, domain.StatusDeploying, nil); err != nil {
		return err
	}
	m.invalidateAndEmit(ctx, d.UserID, eventbus.Event{Type: eventbus.DeploymentStarted, DeploymentID: deploymentID})
	return nil
}

// RecordMarketplaceDeploymentID stores the dseq without changing status
// (spec.md §4.6 "Job Runner on marketplace submit: stays deploying").
func (m *Machine) RecordMarketplaceDeploymentID(ctx context.Context, deploymentID, dseq string) error {
	return m.repo.UpdateStatus(ctx, deploymentID, domain.StatusDeploying, &domain.StatusDetails{
		MarketplaceDeploymentID: &dseq,
	})
}

// RecordAttemptFailure is the "deploying → deploying" self-transition
// spec.md §4.6 allows between attempts within the same job.
func (m *Machine) RecordAttemptFailure(ctx context.Context, deploymentID, errorMessage string) error {
	return m.repo.UpdateStatus(ctx, deploymentID, domain.StatusDeploying, &domain.StatusDetails{
		ErrorMessage: &errorMessage,
	})
}

// CompleteActive transitions deploying → active. A second call against an
// already-active record is idempotent: it re-applies the same terminal
// status and details (spec.md §8 "Idempotence of updateStatus(id, terminal, …)").
func (m *Machine) CompleteActive(ctx context.Context, deploymentID, leaseID, providerURL string) error {
	d, err := m.repo.FindByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("statemachine: deployment %s not found", deploymentID)
	}
	if d.Status == domain.StatusFailed {
		return ErrInvalidTransition
	}
	if err := m.repo.UpdateStatus(ctx, deploymentID, domain.StatusActive, &domain.StatusDetails{
		MarketplaceLeaseID: &leaseID,
		ProviderURL:        &providerURL,
	}); err != nil {
		return err
	}
	m.invalidateAndEmit(ctx, d.UserID, eventbus.Event{Type: eventbus.DeploymentCompleted, DeploymentID: deploymentID, Status: string(domain.StatusActive)})
	return nil
}

// Fail transitions deploying → failed. Idempotent against a row already
// failed, same rationale as CompleteActive.
func (m *Machine) Fail(ctx context.Context, deploymentID, errorMessage string) error {
	d, err := m.repo.FindByID(ctx, deploymentID)
	if err != nil {
		return err
	}
	if d == nil {
		return fmt.Errorf("statemachine: deployment %s not found", deploymentID)
	}
	if d.Status == domain.StatusActive {
		return ErrInvalidTransition
	}
	if err := m.repo.UpdateStatus(ctx, deploymentID, domain.StatusFailed, &domain.StatusDetails{
		ErrorMessage: &errorMessage,
	}); err != nil {
		return err
	}
	m.invalidateAndEmit(ctx, d.UserID, eventbus.Event{Type: eventbus.DeploymentFailed, DeploymentID: deploymentID, Error: errorMessage})
	return nil
}

func (m *Machine) invalidateAndEmit(ctx context.Context, userID string, event eventbus.Event) {
	m.cache.Delete(ctx, cache.DeploymentListKey(userID))
	if err := m.bus.Publish(ctx, event); err != nil {
		m.log.Warn("statemachine: failed to publish event", zap.String("type", string(event.Type)), zap.Error(err))
	}
}

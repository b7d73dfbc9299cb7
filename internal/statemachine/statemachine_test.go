package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/cache"
	"github.com/openclaw/deploy-orchestrator/internal/domain"
	"github.com/openclaw/deploy-orchestrator/internal/eventbus"
)

type fakeRepo struct {
	deployments map[string]*domain.Deployment
}

func (f *fakeRepo) FindByID(ctx context.Context, id string) (*domain.Deployment, error) {
	return f.deployments[id], nil
}

func (f *fakeRepo) UpdateStatus(ctx context.Context, id string, status domain.Status, details *domain.StatusDetails) error {
	d := f.deployments[id]
	d.Status = status
	if details != nil {
		if details.MarketplaceDeploymentID != nil {
			d.MarketplaceDeploymentID = *details.MarketplaceDeploymentID
		}
		if details.MarketplaceLeaseID != nil {
			d.MarketplaceLeaseID = *details.MarketplaceLeaseID
		}
		if details.ProviderURL != nil {
			d.ProviderURL = *details.ProviderURL
		}
		if details.ErrorMessage != nil {
			d.ErrorMessage = *details.ErrorMessage
		}
	}
	return nil
}

func newTestMachine() (*Machine, *fakeRepo) {
	repo := &fakeRepo{deployments: map[string]*domain.Deployment{
		"d-1": {ID: "d-1", UserID: "u-1", Status: domain.StatusPending},
	}}
	m := New(repo, cache.NoOp{}, eventbus.NewInProcess(8), zap.NewNop())
	return m, repo
}

func TestStartDeployingFromPending(t *testing.T) {
	m, repo := newTestMachine()
	require.NoError(t, m.StartDeploying(context.Background(), "d-1"))
	require.Equal(t, domain.StatusDeploying, repo.deployments["d-1"].Status)
}

func TestStartDeployingIsNoOpWhenNotPending(t *testing.T) {
	m, repo := newTestMachine()
	repo.deployments["d-1"].Status = domain.StatusActive
	require.NoError(t, m.StartDeploying(context.Background(), "d-1"))
	require.Equal(t, domain.StatusActive, repo.deployments["d-1"].Status)
}

func TestCompleteActiveSetsLeaseAndURL(t *testing.T) {
	m, repo := newTestMachine()
	repo.deployments["d-1"].Status = domain.StatusDeploying
	require.NoError(t, m.CompleteActive(context.Background(), "d-1", "lease-1", "https://x.example/bot"))
	d := repo.deployments["d-1"]
	require.Equal(t, domain.StatusActive, d.Status)
	require.Equal(t, "lease-1", d.MarketplaceLeaseID)
	require.Equal(t, "https://x.example/bot", d.ProviderURL)
}

func TestFailRefusesToOverwriteActive(t *testing.T) {
	m, repo := newTestMachine()
	repo.deployments["d-1"].Status = domain.StatusActive
	err := m.Fail(context.Background(), "d-1", "boom")
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, domain.StatusActive, repo.deployments["d-1"].Status)
}

func TestCompleteActiveIsIdempotent(t *testing.T) {
	m, repo := newTestMachine()
	repo.deployments["d-1"].Status = domain.StatusDeploying
	require.NoError(t, m.CompleteActive(context.Background(), "d-1", "lease-1", "https://x.example/bot"))
	require.NoError(t, m.CompleteActive(context.Background(), "d-1", "lease-1", "https://x.example/bot"))
	require.Equal(t, domain.StatusActive, repo.deployments["d-1"].Status)
}

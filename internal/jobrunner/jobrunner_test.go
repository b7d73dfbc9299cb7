package jobrunner

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/openclaw/deploy-orchestrator/internal/crypto"
	"github.com/openclaw/deploy-orchestrator/internal/domain"
	"github.com/openclaw/deploy-orchestrator/internal/eventbus"
	"github.com/openclaw/deploy-orchestrator/internal/marketplace"
)

type fakeJournal struct {
	mu    sync.Mutex
	saved map[string]json.RawMessage
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{saved: make(map[string]json.RawMessage)}
}

func (j *fakeJournal) key(correlationID, stepName string) string { return correlationID + "/" + stepName }

func (j *fakeJournal) Load(ctx context.Context, correlationID, stepName string) (json.RawMessage, bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	v, ok := j.saved[j.key(correlationID, stepName)]
	return v, ok, nil
}

func (j *fakeJournal) Save(ctx context.Context, correlationID, stepName string, result json.RawMessage) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.saved[j.key(correlationID, stepName)] = result
	return nil
}

type fakeDeployRepo struct {
	d *domain.Deployment
}

func (f *fakeDeployRepo) FindByID(ctx context.Context, id string) (*domain.Deployment, error) {
	return f.d, nil
}

type fakeStateMachine struct {
	mu            sync.Mutex
	status        domain.Status
	leaseID       string
	providerURL   string
	errorMessages []string
	dseqsRecorded []string
}

func (f *fakeStateMachine) StartDeploying(ctx context.Context, deploymentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = domain.StatusDeploying
	return nil
}
func (f *fakeStateMachine) RecordMarketplaceDeploymentID(ctx context.Context, deploymentID, dseq string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dseqsRecorded = append(f.dseqsRecorded, dseq)
	return nil
}
func (f *fakeStateMachine) RecordAttemptFailure(ctx context.Context, deploymentID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errorMessages = append(f.errorMessages, errorMessage)
	return nil
}
func (f *fakeStateMachine) CompleteActive(ctx context.Context, deploymentID, leaseID, providerURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = domain.StatusActive
	f.leaseID = leaseID
	f.providerURL = providerURL
	return nil
}
func (f *fakeStateMachine) Fail(ctx context.Context, deploymentID, errorMessage string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = domain.StatusFailed
	f.errorMessages = append(f.errorMessages, errorMessage)
	return nil
}

type fakeBlacklist struct{}

func (fakeBlacklist) IsBlacklisted(ctx context.Context, providerAddress string) (bool, error) {
	return false, nil
}

func TestJobRunnerHappyPath(t *testing.T) {
	closedDseqs := []string{}
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/deployments":
			json.NewEncoder(w).Encode(map[string]string{"dseq": "dseq-1", "manifest": "rendered"})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/bids":
			json.NewEncoder(w).Encode([]marketplace.Bid{{ProviderAddress: "P1", PriceAmount: decimal.RequireFromString("500")}})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/providers/P1":
			json.NewEncoder(w).Encode(map[string]string{"uri": "https://p1.example"})
		case r.Method == http.MethodPost && r.URL.Path == "/v1/leases":
			json.NewEncoder(w).Encode(map[string]any{"services": map[string][]string{"openclaw": {"https://x.example/bot"}}})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/deployments":
			json.NewEncoder(w).Encode([]map[string]string{})
		case r.Method == http.MethodDelete:
			mu.Lock()
			closedDseqs = append(closedDseqs, r.URL.Path)
			mu.Unlock()
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := marketplace.NewClient(srv.URL, srv.Client(), zap.NewNop())
	failover := marketplace.NewFailoverEngine(client, fakeBlacklist{}, zap.NewNop())
	sm := &fakeStateMachine{status: domain.StatusPending}

	box, err := crypto.NewBox(make([]byte, 32))
	require.NoError(t, err)
	encToken, err := box.Encrypt("tok")
	require.NoError(t, err)

	deployRepo := &fakeDeployRepo{d: &domain.Deployment{ID: "d-1", Status: domain.StatusPending, InternalAPIKey: "internal-key", Model: "gpt-4", ChannelToken: encToken}}
	journal := newFakeJournal()
	bus := eventbus.NewInProcess(8)

	runner := New(Config{
		MarketplaceAPIKey: "key",
		DepositUSD:        10,
		PricingDenom:      "ibc/ABC",
		UpstreamLLMKey:    "upstream",
	}, deployRepo, sm, client, failover, bus, journal, box, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	require.NoError(t, bus.Publish(ctx, eventbus.Event{Type: eventbus.DeploymentStarted, DeploymentID: "d-1"}))

	require.Eventually(t, func() bool {
		sm.mu.Lock()
		defer sm.mu.Unlock()
		return sm.status == domain.StatusActive
	}, 20*time.Second, 50*time.Millisecond)

	require.Equal(t, "https://x.example/bot", sm.providerURL)
}

package guard

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/openclaw/deploy-orchestrator/internal/domain"
)

type fakeRepo struct {
	duplicate      *domain.Deployment
	created        []domain.DeploymentCreateInput
	sessionID      string
	lookupArgSeen  string
}

func (f *fakeRepo) FindPendingDuplicate(ctx context.Context, userID, model, channel, channelTokenLookup string) (*domain.Deployment, error) {
	f.lookupArgSeen = channelTokenLookup
	return f.duplicate, nil
}

func (f *fakeRepo) Create(ctx context.Context, in domain.DeploymentCreateInput) (domain.Deployment, error) {
	f.created = append(f.created, in)
	return domain.Deployment{ID: "new-d", UserID: in.UserID}, nil
}

func (f *fakeRepo) SetCheckoutSessionID(ctx context.Context, id, checkoutSessionID string) error {
	f.sessionID = checkoutSessionID
	return nil
}

type fakeCheckout struct {
	created  int
	retrieved int
}

func (f *fakeCheckout) CreateCheckout(ctx context.Context, email, deploymentID string) (string, string, error) {
	f.created++
	return "sess-new", "https://pay.example/new", nil
}

func (f *fakeCheckout) RetrieveCheckoutURL(ctx context.Context, sessionID string) (string, error) {
	f.retrieved++
	return "https://pay.example/existing", nil
}

func TestRequestCheckoutReusesOpenDuplicate(t *testing.T) {
	repo := &fakeRepo{duplicate: &domain.Deployment{ID: "d-1", CheckoutSessionID: "sess-1"}}
	checkout := &fakeCheckout{}
	g := New(repo, checkout)

	url, reused, err := g.RequestCheckout(context.Background(), "user@example.com", domain.DeploymentCreateInput{UserID: "u-1"})
	require.NoError(t, err)
	require.True(t, reused)
	require.Equal(t, "https://pay.example/existing", url)
	require.Equal(t, 0, checkout.created)
	require.Empty(t, repo.created)
}

func TestRequestCheckoutCreatesNewWhenNoDuplicate(t *testing.T) {
	repo := &fakeRepo{}
	checkout := &fakeCheckout{}
	g := New(repo, checkout)

	url, reused, err := g.RequestCheckout(context.Background(), "user@example.com", domain.DeploymentCreateInput{UserID: "u-1", Model: "gpt-4"})
	require.NoError(t, err)
	require.False(t, reused)
	require.Equal(t, "https://pay.example/new", url)
	require.Len(t, repo.created, 1)
	require.Equal(t, "sess-new", repo.sessionID)
}

// TestRequestCheckoutQueriesByLookupHashNotCiphertext guards against C7
// regressing into querying by the randomized-IV ciphertext, which never
// matches twice even for the same plaintext token.
func TestRequestCheckoutQueriesByLookupHashNotCiphertext(t *testing.T) {
	repo := &fakeRepo{}
	checkout := &fakeCheckout{}
	g := New(repo, checkout)

	in := domain.DeploymentCreateInput{
		UserID:             "u-1",
		Model:              "gpt-4",
		ChannelToken:       "iv-a:ciphertext-a:tag-a",
		ChannelTokenLookup: "deterministic-hash",
	}
	_, _, err := g.RequestCheckout(context.Background(), "user@example.com", in)
	require.NoError(t, err)
	require.Equal(t, "deterministic-hash", repo.lookupArgSeen)
}

// Package guard implements the Duplicate-Request Guard (C7): at-most-one
// open pending checkout per (user, model, channel, channelToken) tuple,
// without pessimistic locking (spec.md §4.7).
package guard

import (
	"context"

	"github.com/openclaw/deploy-orchestrator/internal/domain"
)

type DeploymentRepository interface {
	// channelTokenLookup is the deterministic HMAC of the plaintext token
	// (internal/crypto.Box.LookupHash), not the randomized-IV ciphertext.
	FindPendingDuplicate(ctx context.Context, userID, model, channel, channelTokenLookup string) (*domain.Deployment, error)
	Create(ctx context.Context, in domain.DeploymentCreateInput) (domain.Deployment, error)
	SetCheckoutSessionID(ctx context.Context, id, checkoutSessionID string) error
}

type CheckoutFactory interface {
	CreateCheckout(ctx context.Context, email, deploymentID string) (sessionID, redirectURL string, err error)
	// RetrieveCheckoutURL re-fetches the redirect URL of an already-created
	// session, used when reusing a still-open duplicate (spec.md §4.7 step 2).
	RetrieveCheckoutURL(ctx context.Context, sessionID string) (redirectURL string, err error)
}

type Guard struct {
	repo     DeploymentRepository
	checkout CheckoutFactory
}

func New(repo DeploymentRepository, checkout CheckoutFactory) *Guard {
	return &Guard{repo: repo, checkout: checkout}
}

// RequestCheckout implements spec.md §4.7's three-step algorithm, returning
// the redirect URL for either the reused or the freshly created checkout.
func (g *Guard) RequestCheckout(ctx context.Context, userEmail string, in domain.DeploymentCreateInput) (redirectURL string, reused bool, err error) {
	existing, err := g.repo.FindPendingDuplicate(ctx, in.UserID, in.Model, in.Channel, in.ChannelTokenLookup)
	if err != nil {
		return "", false, err
	}
	if existing != nil {
		url, err := g.checkout.RetrieveCheckoutURL(ctx, existing.CheckoutSessionID)
		if err == nil {
			return url, true, nil
		}
		// fall through to creating a fresh deployment if the existing
		// session's URL can no longer be resolved.
	}

	d, err := g.repo.Create(ctx, in)
	if err != nil {
		return "", false, err
	}
	sessionID, url, err := g.checkout.CreateCheckout(ctx, userEmail, d.ID)
	if err != nil {
		return "", false, err
	}
	if err := g.repo.SetCheckoutSessionID(ctx, d.ID, sessionID); err != nil {
		return "", false, err
	}
	return url, false, nil
}

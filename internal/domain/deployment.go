// Package domain holds the persisted entities the orchestrator manages:
// users, deployments, and the operator-curated provider blacklist.
package domain

import "time"

// Status is a Deployment's position in the pending → deploying → {active,failed}
// lifecycle. Transitions are enforced by internal/statemachine, never here.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDeploying Status = "deploying"
	StatusActive    Status = "active"
	StatusFailed    Status = "failed"
)

// Deployment is one attempt to put a bot on the marketplace for a user.
type Deployment struct {
	ID                      string
	UserID                  string
	Model                   string
	Channel                 string
	ChannelToken            string // encrypted at rest; plaintext once decrypted by the repository
	ChannelTokenLookup      string // HMAC-SHA256(channelToken), deterministic, used for duplicate lookup only
	LLMAPIKey               string // encrypted at rest
	Status                  Status
	CheckoutSessionID       string
	MarketplaceDeploymentID string // the "dseq"
	MarketplaceLeaseID      string
	ProviderURL             string
	ErrorMessage            string
	InternalAPIKey          string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// DeploymentCreateInput is the argument to the Deployment Repository's
// create operation (spec.md §4.5).
type DeploymentCreateInput struct {
	UserID             string
	Model              string
	Channel            string
	ChannelToken       string // already encrypted
	ChannelTokenLookup string // HMAC-SHA256(plaintext channelToken), for duplicate detection
	LLMAPIKey          string // already encrypted
}

// StatusDetails carries the optional fields a status transition may set.
// Only non-nil fields are written (internal/repo.DeploymentRepository.UpdateStatus
// must not clobber unrelated columns).
type StatusDetails struct {
	MarketplaceDeploymentID *string
	MarketplaceLeaseID      *string
	ProviderURL             *string
	ErrorMessage            *string
}

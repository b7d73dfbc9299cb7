package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/openclaw/deploy-orchestrator/internal/domain"
)

// CheckoutStatusChecker resolves whether a checkout session is still open
// at the payment provider. Satisfied by internal/payment.Mediator.
type CheckoutStatusChecker interface {
	IsOpen(ctx context.Context, sessionID string) (bool, error)
}

type DeploymentRepository struct {
	db       *sql.DB
	checkout CheckoutStatusChecker
}

func NewDeploymentRepository(db *sql.DB, checkout CheckoutStatusChecker) *DeploymentRepository {
	return &DeploymentRepository{db: db, checkout: checkout}
}

// Create generates id and internalApiKey and inserts the row in status
// pending (spec.md §4.5).
func (r *DeploymentRepository) Create(ctx context.Context, in domain.DeploymentCreateInput) (domain.Deployment, error) {
	d := domain.Deployment{
		ID:                 uuid.NewString(),
		UserID:             in.UserID,
		Model:              in.Model,
		Channel:            in.Channel,
		ChannelToken:       in.ChannelToken,
		ChannelTokenLookup: in.ChannelTokenLookup,
		LLMAPIKey:          in.LLMAPIKey,
		Status:             domain.StatusPending,
		InternalAPIKey:     uuid.NewString(),
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO deployments (id, user_id, model, channel, channel_token, channel_token_lookup, llm_api_key, status, internal_api_key)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.UserID, d.Model, d.Channel, d.ChannelToken, d.ChannelTokenLookup, d.LLMAPIKey, string(d.Status), d.InternalAPIKey)
	if err != nil {
		return domain.Deployment{}, err
	}
	return d, nil
}

func (r *DeploymentRepository) FindByID(ctx context.Context, id string) (*domain.Deployment, error) {
	row := r.db.QueryRowContext(ctx, selectDeploymentColumns+` WHERE id = $1`, id)
	return scanDeployment(row)
}

// ListByStatus returns every deployment currently in status, used by the
// Usage Metering generator to find active bots to bill (no per-user scope).
func (r *DeploymentRepository) ListByStatus(ctx context.Context, status domain.Status) ([]domain.Deployment, error) {
	rows, err := r.db.QueryContext(ctx, selectDeploymentColumns+` WHERE status = $1`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Deployment
	for rows.Next() {
		d, err := scanDeploymentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

func (r *DeploymentRepository) FindByUserID(ctx context.Context, userID string) ([]domain.Deployment, error) {
	rows, err := r.db.QueryContext(ctx, selectDeploymentColumns+` WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Deployment
	for rows.Next() {
		d, err := scanDeploymentRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, rows.Err()
}

// FindPendingDuplicate implements the duplicate-detection half of C7: it
// finds the most recent pending row for the tuple and, only if its checkout
// session is confirmed open at the payment provider, returns it. Any
// resolution failure is treated as "no duplicate" per spec.md §4.5.
// channelTokenLookup must be the deterministic HMAC of the plaintext token
// (internal/crypto.Box.LookupHash), never the randomized-IV ciphertext —
// two encryptions of the same token never match, but two hashes of it always
// do.
func (r *DeploymentRepository) FindPendingDuplicate(ctx context.Context, userID, model, channel, channelTokenLookup string) (*domain.Deployment, error) {
	rows, err := r.db.QueryContext(ctx,
		selectDeploymentColumns+` WHERE user_id = $1 AND model = $2 AND channel = $3 AND channel_token_lookup = $4 AND status = $5
		 ORDER BY created_at DESC`,
		userID, model, channel, channelTokenLookup, string(domain.StatusPending))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDeploymentRows(rows)
		if err != nil {
			return nil, err
		}
		if d.CheckoutSessionID == "" {
			continue
		}
		open, err := r.checkout.IsOpen(ctx, d.CheckoutSessionID)
		if err != nil || !open {
			continue
		}
		return d, nil
	}
	return nil, rows.Err()
}

func (r *DeploymentRepository) SetCheckoutSessionID(ctx context.Context, id, checkoutSessionID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE deployments SET checkout_session_id = $1, updated_at = now() WHERE id = $2`,
		checkoutSessionID, id)
	return err
}

// UpdateStatus is the sole write path for status transitions; only fields
// present (non-nil) in details are modified, per spec.md §4.5.
func (r *DeploymentRepository) UpdateStatus(ctx context.Context, id string, status domain.Status, details *domain.StatusDetails) error {
	if details == nil {
		_, err := r.db.ExecContext(ctx,
			`UPDATE deployments SET status = $1, updated_at = now() WHERE id = $2`, string(status), id)
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE deployments SET
			status = $1,
			marketplace_deployment_id = COALESCE($2, marketplace_deployment_id),
			marketplace_lease_id = COALESCE($3, marketplace_lease_id),
			provider_url = COALESCE($4, provider_url),
			error_message = COALESCE($5, error_message),
			updated_at = now()
		 WHERE id = $6`,
		string(status), details.MarketplaceDeploymentID, details.MarketplaceLeaseID,
		details.ProviderURL, details.ErrorMessage, id)
	return err
}

const selectDeploymentColumns = `SELECT id, user_id, model, channel, channel_token, channel_token_lookup, llm_api_key, status,
	COALESCE(checkout_session_id, ''), COALESCE(marketplace_deployment_id, ''),
	COALESCE(marketplace_lease_id, ''), COALESCE(provider_url, ''), COALESCE(error_message, ''),
	internal_api_key, created_at, updated_at
	FROM deployments`

type scanner interface {
	Scan(dest ...any) error
}

func scanDeployment(row *sql.Row) (*domain.Deployment, error) {
	d, err := scanDeploymentRows(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return d, err
}

func scanDeploymentRows(s scanner) (*domain.Deployment, error) {
	var d domain.Deployment
	var status string
	if err := s.Scan(&d.ID, &d.UserID, &d.Model, &d.Channel, &d.ChannelToken, &d.ChannelTokenLookup, &d.LLMAPIKey, &status,
		&d.CheckoutSessionID, &d.MarketplaceDeploymentID, &d.MarketplaceLeaseID, &d.ProviderURL,
		&d.ErrorMessage, &d.InternalAPIKey, &d.CreatedAt, &d.UpdatedAt); err != nil {
		return nil, err
	}
	d.Status = domain.Status(status)
	return &d, nil
}

// Package repo implements the persistence engine spec.md §1 treats as an
// external collaborator: CRUD and indexed queries against Postgres via
// database/sql and lib/pq, no ORM (the reference corpus's only gorm usage
// is a bare go.mod with no source to imitate — see DESIGN.md).
package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/openclaw/deploy-orchestrator/internal/domain"
)

type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindOrCreateByEmail implements the account-linking lifecycle in spec.md
// §3: an existing row for email has its externalAuthId updated in place;
// otherwise a new User is created.
func (r *UserRepository) FindOrCreateByEmail(ctx context.Context, email, externalAuthID string) (domain.User, error) {
	existing, err := r.findByEmail(ctx, email)
	if err != nil {
		return domain.User{}, err
	}
	if existing != nil {
		if existing.ExternalAuthID != externalAuthID {
			_, err := r.db.ExecContext(ctx,
				`UPDATE users SET external_auth_id = $1, updated_at = now() WHERE id = $2`,
				externalAuthID, existing.ID)
			if err != nil {
				return domain.User{}, err
			}
			existing.ExternalAuthID = externalAuthID
		}
		return *existing, nil
	}

	u := domain.User{
		ID:             uuid.NewString(),
		ExternalAuthID: externalAuthID,
		Email:          email,
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO users (id, external_auth_id, email) VALUES ($1, $2, $3)`,
		u.ID, nullIfEmpty(u.ExternalAuthID), u.Email)
	if err != nil {
		return domain.User{}, err
	}
	return u, nil
}

func (r *UserRepository) findByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(external_auth_id, ''), email, COALESCE(billing_customer_id, ''), created_at, updated_at
		 FROM users WHERE email = $1`, email)
	var u domain.User
	if err := row.Scan(&u.ID, &u.ExternalAuthID, &u.Email, &u.BillingCustomerID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT id, COALESCE(external_auth_id, ''), email, COALESCE(billing_customer_id, ''), created_at, updated_at
		 FROM users WHERE id = $1`, id)
	var u domain.User
	if err := row.Scan(&u.ID, &u.ExternalAuthID, &u.Email, &u.BillingCustomerID, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

func (r *UserRepository) SetBillingCustomerID(ctx context.Context, userID, billingCustomerID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE users SET billing_customer_id = $1, updated_at = now() WHERE id = $2`,
		billingCustomerID, userID)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

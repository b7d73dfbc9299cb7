package repo

import (
	"context"
	"database/sql"
	"errors"

	"github.com/openclaw/deploy-orchestrator/internal/domain"
)

// ProviderBlacklistRepository backs internal/marketplace.BlacklistChecker.
// Mutated only by cmd/blacklist (spec.md §3: "mutated only by administrative
// paths").
type ProviderBlacklistRepository struct {
	db *sql.DB
}

func NewProviderBlacklistRepository(db *sql.DB) *ProviderBlacklistRepository {
	return &ProviderBlacklistRepository{db: db}
}

func (r *ProviderBlacklistRepository) IsBlacklisted(ctx context.Context, providerAddress string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM provider_blacklist WHERE provider_address = $1)`, providerAddress).Scan(&exists)
	return exists, err
}

func (r *ProviderBlacklistRepository) Add(ctx context.Context, providerAddress, reason string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO provider_blacklist (provider_address, reason) VALUES ($1, $2)
		 ON CONFLICT (provider_address) DO UPDATE SET reason = EXCLUDED.reason`,
		providerAddress, reason)
	return err
}

func (r *ProviderBlacklistRepository) Remove(ctx context.Context, providerAddress string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM provider_blacklist WHERE provider_address = $1`, providerAddress)
	return err
}

func (r *ProviderBlacklistRepository) List(ctx context.Context) ([]domain.ProviderBlacklistEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT provider_address, reason, created_at FROM provider_blacklist ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ProviderBlacklistEntry
	for rows.Next() {
		var e domain.ProviderBlacklistEntry
		if err := rows.Scan(&e.ProviderAddress, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

var ErrNotFound = errors.New("repo: not found")

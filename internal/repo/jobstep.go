package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// JobStepRepository is the durable step journal internal/jobrunner reads
// on replay (spec.md §4.9, §9 "durable workflow" strategy).
type JobStepRepository struct {
	db *sql.DB
}

func NewJobStepRepository(db *sql.DB) *JobStepRepository {
	return &JobStepRepository{db: db}
}

// Load returns the journaled result for (correlationID, stepName), or
// (nil, false, nil) if the step has not run yet.
func (r *JobStepRepository) Load(ctx context.Context, correlationID, stepName string) (json.RawMessage, bool, error) {
	var raw json.RawMessage
	err := r.db.QueryRowContext(ctx,
		`SELECT result FROM job_steps WHERE correlation_id = $1 AND step_name = $2`,
		correlationID, stepName).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return raw, true, nil
}

// Save journals result. A step is recorded at most once per (correlationID,
// stepName); a second Save for the same pair is a programmer error, not a
// recoverable race, since only one Job Runner invocation ever owns a
// correlation id at a time.
func (r *JobStepRepository) Save(ctx context.Context, correlationID, stepName string, result json.RawMessage) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO job_steps (correlation_id, step_name, result) VALUES ($1, $2, $3)
		 ON CONFLICT (correlation_id, step_name) DO NOTHING`,
		correlationID, stepName, result)
	return err
}

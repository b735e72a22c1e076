package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"pspec/domain/core"
	"pspec/domain/likelihood"
	"pspec/domain/params"
	"pspec/ports"
)

// evaluationRepository implements the EvaluationRepository interface
type evaluationRepository struct {
	db *sqlx.DB
}

// NewEvaluationRepository creates a new evaluation repository
func NewEvaluationRepository(db *sqlx.DB) ports.EvaluationRepository {
	return &evaluationRepository{db: db}
}

// Save inserts a likelihood evaluation record
func (r *evaluationRepository) Save(ctx context.Context, e *likelihood.Evaluation) error {
	paramsJSON, err := json.Marshal(e.Params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}
	perWindow, err := json.Marshal(e.Result.PerWindow)
	if err != nil {
		return fmt.Errorf("failed to marshal per-window breakdown: %w", err)
	}

	query := `INSERT INTO evaluations (
		id, params, strategy, method, log_likelihood, per_window, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = r.db.ExecContext(ctx, query,
		e.ID.String(), paramsJSON, string(e.Strategy), string(e.Method),
		e.Result.LogLikelihood, perWindow, e.CreatedAt.Time(),
	)
	if err != nil {
		return fmt.Errorf("failed to save evaluation: %w", err)
	}
	return nil
}

// GetByID retrieves an evaluation by its ID
func (r *evaluationRepository) GetByID(ctx context.Context, id core.EvaluationID) (*likelihood.Evaluation, error) {
	query := `SELECT id, params, strategy, method, log_likelihood, per_window, created_at
	FROM evaluations WHERE id = $1`

	e, err := scanEvaluation(r.db.QueryRowContext(ctx, query, id.String()))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("evaluation %s not found", id)
	}
	return e, err
}

// ListRecent retrieves the most recent evaluations
func (r *evaluationRepository) ListRecent(ctx context.Context, limit int) ([]*likelihood.Evaluation, error) {
	query := `SELECT id, params, strategy, method, log_likelihood, per_window, created_at
	FROM evaluations ORDER BY created_at DESC LIMIT $1`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list evaluations: %w", err)
	}
	defer rows.Close()

	var out []*likelihood.Evaluation
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEvaluation(row rowScanner) (*likelihood.Evaluation, error) {
	var e likelihood.Evaluation
	var id, strategy, method string
	var paramsJSON, perWindow []byte
	var createdAt time.Time

	err := row.Scan(&id, &paramsJSON, &strategy, &method, &e.Result.LogLikelihood, &perWindow, &createdAt)
	if err != nil {
		return nil, err
	}
	e.ID = core.EvaluationID(id)
	e.Strategy = likelihood.Strategy(strategy)
	e.Method = likelihood.Method(method)
	e.CreatedAt = core.NewTimestamp(createdAt)

	e.Params = make(params.Set)
	if err := json.Unmarshal(paramsJSON, &e.Params); err != nil {
		return nil, fmt.Errorf("failed to unmarshal params: %w", err)
	}
	if err := json.Unmarshal(perWindow, &e.Result.PerWindow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal per-window breakdown: %w", err)
	}
	return &e, nil
}

// Schema is the DDL for the tables this adapter expects.
const Schema = `
CREATE TABLE IF NOT EXISTS measurements (
	window_id TEXT PRIMARY KEY,
	kbin_centers JSONB NOT NULL,
	kbin_widths JSONB NOT NULL,
	mean_power JSONB NOT NULL,
	covariance JSONB NOT NULL,
	window_fn JSONB NOT NULL,
	redshift DOUBLE PRECISION NOT NULL DEFAULT 0,
	has_redshift BOOLEAN NOT NULL DEFAULT FALSE,
	little_h BOOLEAN NOT NULL DEFAULT TRUE,
	history TEXT
);

CREATE TABLE IF NOT EXISTS evaluations (
	id TEXT PRIMARY KEY,
	params JSONB NOT NULL,
	strategy TEXT NOT NULL,
	method TEXT NOT NULL,
	log_likelihood DOUBLE PRECISION NOT NULL,
	per_window JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evaluations_created_at ON evaluations (created_at DESC);
`

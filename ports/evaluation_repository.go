package ports

import (
	"context"

	"pspec/domain/core"
	"pspec/domain/likelihood"
)

// EvaluationRepository records likelihood evaluations for audit and
// reporting.
type EvaluationRepository interface {
	Save(ctx context.Context, e *likelihood.Evaluation) error
	GetByID(ctx context.Context, id core.EvaluationID) (*likelihood.Evaluation, error)
	ListRecent(ctx context.Context, limit int) ([]*likelihood.Evaluation, error)
}

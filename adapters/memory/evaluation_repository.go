package memory

import (
	"context"
	"fmt"
	"sync"

	"pspec/domain/core"
	"pspec/domain/likelihood"
	"pspec/ports"
)

// evaluationRepository keeps evaluation records in memory, newest first.
type evaluationRepository struct {
	mu      sync.RWMutex
	records []*likelihood.Evaluation
	byID    map[core.EvaluationID]*likelihood.Evaluation
}

// NewEvaluationRepository creates an in-memory evaluation repository.
func NewEvaluationRepository() ports.EvaluationRepository {
	return &evaluationRepository{byID: make(map[core.EvaluationID]*likelihood.Evaluation)}
}

func (r *evaluationRepository) Save(_ context.Context, e *likelihood.Evaluation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append([]*likelihood.Evaluation{e}, r.records...)
	r.byID[e.ID] = e
	return nil
}

func (r *evaluationRepository) GetByID(_ context.Context, id core.EvaluationID) (*likelihood.Evaluation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("evaluation %s not found", id)
	}
	return e, nil
}

func (r *evaluationRepository) ListRecent(_ context.Context, limit int) ([]*likelihood.Evaluation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if limit <= 0 || limit > len(r.records) {
		limit = len(r.records)
	}
	out := make([]*likelihood.Evaluation, limit)
	copy(out, r.records[:limit])
	return out, nil
}

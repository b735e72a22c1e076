package app

import (
	"context"
	"fmt"

	"pspec/domain/core"
	"pspec/domain/likelihood"
	"pspec/domain/params"
	"pspec/domain/spectrum"
	"pspec/internal"
	"pspec/ports"
)

// EvaluationService wraps the likelihood container with record keeping:
// every evaluation gets an ID and is persisted through the evaluation
// repository (when one is configured) so results can be audited and
// reported later.
type EvaluationService struct {
	container *likelihood.Container
	evals     ports.EvaluationRepository
	meas      ports.MeasurementRepository
	logger    *internal.Logger
}

// NewEvaluationService creates a new evaluation service. Both repositories
// are optional; nil disables the corresponding persistence.
func NewEvaluationService(c *likelihood.Container, evals ports.EvaluationRepository, meas ports.MeasurementRepository, logger *internal.Logger) *EvaluationService {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &EvaluationService{container: c, evals: evals, meas: meas, logger: logger}
}

// Container exposes the underlying likelihood container.
func (s *EvaluationService) Container() *likelihood.Container { return s.container }

// Evaluate normalizes the parameter input, computes the log-likelihood
// and records the evaluation.
func (s *EvaluationService) Evaluate(ctx context.Context, input params.Input) (*likelihood.Evaluation, error) {
	set, res, err := s.evaluate(input)
	if err != nil {
		return nil, err
	}
	e := &likelihood.Evaluation{
		ID:        core.EvaluationID(core.NewID()),
		Params:    set,
		Strategy:  s.container.Strategy(),
		Method:    s.container.Method(),
		Result:    res,
		CreatedAt: core.Now(),
	}
	if s.evals != nil {
		if err := s.evals.Save(ctx, e); err != nil {
			// recording failure must not poison the evaluation itself
			s.logger.Warn("failed to record evaluation %s: %v", e.ID, err)
		}
	}
	s.logger.Debug("evaluation %s: logL=%g", e.ID, res.LogLikelihood)
	return e, nil
}

func (s *EvaluationService) evaluate(input params.Input) (params.Set, likelihood.Result, error) {
	set, err := s.container.NormalizeParams(input)
	if err != nil {
		return nil, likelihood.Result{}, err
	}
	res, err := s.container.Model().LogUnnormalizedLikelihood(set, set)
	if err != nil {
		return nil, likelihood.Result{}, err
	}
	return set, res, nil
}

// Evaluation looks up a recorded evaluation.
func (s *EvaluationService) Evaluation(ctx context.Context, id core.EvaluationID) (*likelihood.Evaluation, error) {
	if s.evals == nil {
		return nil, fmt.Errorf("evaluation recording is disabled")
	}
	return s.evals.GetByID(ctx, id)
}

// RecentEvaluations lists the most recent recorded evaluations.
func (s *EvaluationService) RecentEvaluations(ctx context.Context, limit int) ([]*likelihood.Evaluation, error) {
	if s.evals == nil {
		return nil, fmt.Errorf("evaluation recording is disabled")
	}
	return s.evals.ListRecent(ctx, limit)
}

// Measurements returns the averaged measurements in window order.
func (s *EvaluationService) Measurements() ([]*spectrum.Measurement, error) {
	var out []*spectrum.Measurement
	for _, id := range s.container.Windows() {
		m, err := s.container.Measurement(id)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// PersistMeasurements stores the averaged measurements through the
// measurement repository.
func (s *EvaluationService) PersistMeasurements(ctx context.Context) error {
	if s.meas == nil {
		return fmt.Errorf("measurement persistence is disabled")
	}
	measurements, err := s.Measurements()
	if err != nil {
		return err
	}
	for _, m := range measurements {
		if err := s.meas.Save(ctx, m); err != nil {
			return err
		}
	}
	s.logger.Info("persisted %d measurements", len(measurements))
	return nil
}

// Profile computes the quality profile of one window's measurement.
func (s *EvaluationService) Profile(id core.WindowID) (spectrum.QualityProfile, error) {
	m, err := s.container.Measurement(id)
	if err != nil {
		return spectrum.QualityProfile{}, err
	}
	return spectrum.Profile(m)
}

package ports

import (
	"context"

	"pspec/domain/core"
	"pspec/domain/spectrum"
)

// MeasurementRepository persists averaged measurements so an analysis can
// be rebuilt without re-running the averaging step.
type MeasurementRepository interface {
	Save(ctx context.Context, m *spectrum.Measurement) error
	GetByWindow(ctx context.Context, w core.WindowID) (*spectrum.Measurement, error)
	List(ctx context.Context) ([]*spectrum.Measurement, error)
	Delete(ctx context.Context, w core.WindowID) error
}

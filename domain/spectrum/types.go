package spectrum

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"pspec/domain/core"
	"pspec/domain/params"
)

// TheoreticalModel predicts band power for a wavenumber vector at a given
// redshift. littleH selects h/Mpc (true) or 1/Mpc (false) units for k. The
// output vector must have the same shape as k.
type TheoreticalModel func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error)

// BiasModel is an additive nuisance contribution in data space with the
// same signature and shape contract as TheoreticalModel.
type BiasModel func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error)

// Prior maps a parameter set to a prior probability.
type Prior func(p params.Set) (float64, error)

// Measurement is one averaged power-spectrum observation for a spectral
// window, as produced by the measurement store's averaging step.
type Measurement struct {
	Window      core.WindowID `json:"window"`
	KBinCenters []float64     `json:"kbin_centers"`
	KBinWidths  []float64     `json:"kbin_widths"`
	MeanPower   []float64     `json:"mean_power"`
	Covariance  *mat.SymDense `json:"-"`
	WindowFn    *mat.Dense    `json:"-"`
	Redshift    float64       `json:"redshift"`
	HasRedshift bool          `json:"has_redshift"`
	LittleH     bool          `json:"little_h"`
	History     string        `json:"history"`
}

// NBins returns the number of configured k-bins.
func (m *Measurement) NBins() int {
	return len(m.KBinCenters)
}

const (
	windowRowSumTol = 1e-6
)

// Validate enforces the measurement invariants: strictly increasing bin
// centers, parallel array lengths, a symmetric positive-definite
// covariance, and window-function rows that are normalized weights.
func (m *Measurement) Validate() error {
	n := len(m.KBinCenters)
	if n == 0 {
		return fmt.Errorf("%w: empty k-bin configuration", core.ErrInvalidMeasurement)
	}
	if len(m.KBinWidths) != n {
		return core.NewShapeMismatchError("kbin_widths", len(m.KBinWidths), n)
	}
	if len(m.MeanPower) != n {
		return core.NewShapeMismatchError("mean_power", len(m.MeanPower), n)
	}
	for i := 0; i < n; i++ {
		if m.KBinWidths[i] <= 0 {
			return fmt.Errorf("%w: k-bin %d has non-positive width %g", core.ErrInvalidMeasurement, i, m.KBinWidths[i])
		}
		if i > 0 && m.KBinCenters[i] <= m.KBinCenters[i-1] {
			return fmt.Errorf("%w: k-bin centers must be strictly increasing (bin %d)", core.ErrInvalidMeasurement, i)
		}
		if math.IsNaN(m.MeanPower[i]) || math.IsInf(m.MeanPower[i], 0) {
			return fmt.Errorf("%w: mean power at bin %d is not finite", core.ErrInvalidMeasurement, i)
		}
	}

	if m.Covariance == nil {
		return fmt.Errorf("%w: covariance is nil", core.ErrInvalidMeasurement)
	}
	if m.Covariance.SymmetricDim() != n {
		return core.NewShapeMismatchError("covariance", m.Covariance.SymmetricDim(), n)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(m.Covariance); !ok {
		return core.ErrCovarianceNotPSD
	}

	if m.WindowFn == nil {
		return fmt.Errorf("%w: window function is nil", core.ErrInvalidMeasurement)
	}
	rows, cols := m.WindowFn.Dims()
	if rows != n || cols != n {
		return core.NewShapeMismatchError("window function rows", rows, n)
	}
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < cols; j++ {
			sum += m.WindowFn.At(i, j)
		}
		if math.Abs(sum-1) > windowRowSumTol {
			return fmt.Errorf("%w: window function row %d sums to %g, want 1", core.ErrInvalidMeasurement, i, sum)
		}
	}
	return nil
}

// RawSample is one per-time observation of a spectral window before
// averaging: sampled wavenumbers with per-point power and variance.
type RawSample struct {
	K        []float64 `json:"k"`
	Power    []float64 `json:"power"`
	Variance []float64 `json:"variance"`
}

// RawGroup collects the raw samples of one spectral window together with
// its frequency coverage (used for the redshift lookup).
type RawGroup struct {
	Window      core.WindowID `json:"window"`
	FreqLowMHz  float64       `json:"freq_low_mhz"`
	FreqHighMHz float64       `json:"freq_high_mhz"`
	Samples     []RawSample   `json:"samples"`
	// WindowFn optionally carries the pipeline's window function for this
	// spectral window; the averaging step defaults to identity when nil.
	WindowFn *mat.Dense `json:"-"`
}

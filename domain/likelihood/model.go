package likelihood

import (
	"context"
	"fmt"

	"pspec/domain/core"
	"pspec/domain/params"
	"pspec/domain/spectrum"
)

// Strategy tags the likelihood evaluation variants.
type Strategy string

const (
	// StrategyGaussian applies no systematics marginalization; bias
	// parameters contribute directly to the residual.
	StrategyGaussian Strategy = "gaussian"
	// StrategyGaussianLinearSystematics analytically marginalizes a
	// linear-in-parameters bias term with a Gaussian prior.
	StrategyGaussianLinearSystematics Strategy = "gaussian_linear_systematics"
	// StrategyMarginalizedLinearPositiveSystematics marginalizes the same
	// linear bias term under a non-negativity-constrained prior.
	StrategyMarginalizedLinearPositiveSystematics Strategy = "marginalized_linear_positive_systematics"
)

// ParseStrategy validates a strategy string.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyGaussian, StrategyGaussianLinearSystematics, StrategyMarginalizedLinearPositiveSystematics:
		return Strategy(s), nil
	}
	return "", fmt.Errorf("unknown likelihood strategy %q", s)
}

// DataModel is the shared evaluation capability of the likelihood family.
// Each call is a pure function of the parameter sets and the owned
// measurement data; implementations hold no state across calls and are
// safe for concurrent use.
//
// A calling sampler is responsible for catching per-sample failures and
// mapping them to a rejection (for example a -Inf log-likelihood) rather
// than aborting the whole run.
type DataModel interface {
	LogUnnormalizedLikelihood(theoryParams, biasParams params.Set) (Result, error)
}

// Result is the outcome of one likelihood evaluation: the scalar
// log-likelihood summed over statistically-independent spectral windows,
// plus the per-window breakdown.
type Result struct {
	LogLikelihood float64            `json:"log_likelihood"`
	PerWindow     map[string]float64 `json:"per_window"`
}

// Evaluation is a persisted record of one likelihood evaluation.
type Evaluation struct {
	ID        core.EvaluationID `json:"id"`
	Params    params.Set        `json:"params"`
	Strategy  Strategy          `json:"strategy"`
	Method    Method            `json:"method"`
	Result    Result            `json:"result"`
	CreatedAt core.Timestamp    `json:"created_at"`
}

// Store is the measurement-store collaborator the engine consumes. The
// ingestion and inverse-covariance-weighted spherical/time averaging of
// raw measurement files is owned by implementations, not by this package.
type Store interface {
	// LoadAndAverage ingests the named sources and reduces them to one
	// averaged measurement per spectral window.
	LoadAndAverage(ctx context.Context, sources []string, cfg AveragingConfig) error
	// Windows lists the spectral windows in deterministic order.
	Windows() []core.WindowID
	// Measurement returns the averaged measurement for a window.
	Measurement(w core.WindowID) (*spectrum.Measurement, error)
	// Redshift resolves the redshift of a spectral window. It returns an
	// error wrapping core.ErrUnresolvedRedshift when the store has no
	// frequency coverage for the window.
	Redshift(w core.WindowID) (float64, error)
}

// AveragingConfig carries the binning and averaging options forwarded to
// the measurement store.
type AveragingConfig struct {
	KBinCenters  []float64
	KBinWidths   []float64
	LittleH      bool
	WeightByCov  bool
	RunCheck     bool
	AddToHistory string
}

package likelihood

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"pspec/domain/core"
	"pspec/domain/params"
	"pspec/domain/spectrum"
)

// stubStore serves fixed measurements without any averaging step.
type stubStore struct {
	order []core.WindowID
	meas  map[core.WindowID]*spectrum.Measurement
	z     map[core.WindowID]float64
}

func newStubStore(ms ...*spectrum.Measurement) *stubStore {
	s := &stubStore{
		meas: make(map[core.WindowID]*spectrum.Measurement),
		z:    make(map[core.WindowID]float64),
	}
	for _, m := range ms {
		s.order = append(s.order, m.Window)
		s.meas[m.Window] = m
		s.z[m.Window] = 8.0
	}
	return s
}

func (s *stubStore) LoadAndAverage(context.Context, []string, AveragingConfig) error { return nil }

func (s *stubStore) Windows() []core.WindowID { return s.order }

func (s *stubStore) Measurement(w core.WindowID) (*spectrum.Measurement, error) {
	m, ok := s.meas[w]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrWindowNotFound, w)
	}
	return m, nil
}

func (s *stubStore) Redshift(w core.WindowID) (float64, error) {
	z, ok := s.z[w]
	if !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrUnresolvedRedshift, w)
	}
	return z, nil
}

func identityDense(n int) *mat.Dense {
	d := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		d.Set(i, i, 1)
	}
	return d
}

func diagSym(diag []float64) *mat.SymDense {
	s := mat.NewSymDense(len(diag), nil)
	for i, v := range diag {
		s.SetSym(i, i, v)
	}
	return s
}

// threeBinMeasurement builds a single window over the standard test bins
// with identity window function.
func threeBinMeasurement(name string, mean, covDiag []float64) *spectrum.Measurement {
	return &spectrum.Measurement{
		Window:      core.WindowID(name),
		KBinCenters: []float64{0.1, 0.2, 0.3},
		KBinWidths:  []float64{0.05, 0.05, 0.05},
		MeanPower:   mean,
		Covariance:  diagSym(covDiag),
		WindowFn:    identityDense(3),
		LittleH:     true,
	}
}

func identityTheory() spectrum.TheoreticalModel {
	return func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error) {
		out := make([]float64, len(k))
		copy(out, k)
		return out, nil
	}
}

func baseConfig(store Store) Config {
	cfg := DefaultConfig()
	cfg.Store = store
	cfg.Sources = "stub"
	cfg.Theory = identityTheory()
	cfg.KBinCenters = []float64{0.1, 0.2, 0.3}
	cfg.KBinWidths = []float64{0.05, 0.05, 0.05}
	return cfg
}

func TestGaussian_ZeroResidual(t *testing.T) {
	mean := []float64{4.0, 5.0, 6.0}
	covDiag := []float64{4.0, 9.0, 16.0}
	store := newStubStore(threeBinMeasurement("spw00", mean, covDiag))

	cfg := baseConfig(store)
	cfg.Theory = func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error) {
		return append([]float64(nil), mean...), nil
	}
	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	res, err := c.LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)

	logDet := math.Log(4.0) + math.Log(9.0) + math.Log(16.0)
	want := -0.5 * (3*math.Log(2*math.Pi) + logDet)
	assert.InDelta(t, want, res.LogLikelihood, 1e-12)
}

func TestGaussian_EndToEnd(t *testing.T) {
	// one window, 3 bins, identity covariance and window, theory = k,
	// no bias: logL = -1/2 ||mean - k||^2 - 1/2 log det(2 pi I)
	mean := []float64{0.12, 0.18, 0.33}
	store := newStubStore(threeBinMeasurement("spw00", mean, []float64{1, 1, 1}))

	c, err := New(context.Background(), baseConfig(store))
	require.NoError(t, err)

	res, err := c.LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)

	k := []float64{0.1, 0.2, 0.3}
	chi2 := 0.0
	for i := range k {
		d := mean[i] - k[i]
		chi2 += d * d
	}
	want := -0.5*chi2 - 1.5*math.Log(2*math.Pi)
	assert.InDelta(t, want, res.LogLikelihood, 1e-12)
	assert.Len(t, res.PerWindow, 1)
}

func TestGaussian_MultiWindowSum(t *testing.T) {
	m1 := threeBinMeasurement("spw00", []float64{0.1, 0.2, 0.3}, []float64{1, 1, 1})
	m2 := threeBinMeasurement("spw01", []float64{0.2, 0.3, 0.4}, []float64{2, 2, 2})
	store := newStubStore(m1, m2)

	c, err := New(context.Background(), baseConfig(store))
	require.NoError(t, err)

	res, err := c.LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)
	require.Len(t, res.PerWindow, 2)

	sum := res.PerWindow["spw00"] + res.PerWindow["spw01"]
	assert.InDelta(t, sum, res.LogLikelihood, 1e-9)
}

func TestContainer_ParamsListForm(t *testing.T) {
	mean := []float64{0.1, 0.2, 0.3}
	scaled := func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error) {
		out := make([]float64, len(k))
		for i, kv := range k {
			out[i] = p.Get("amp") * kv
		}
		return out, nil
	}

	mapCfg := baseConfig(newStubStore(threeBinMeasurement("spw00", mean, []float64{1, 1, 1})))
	mapCfg.Theory = scaled
	mapContainer, err := New(context.Background(), mapCfg)
	require.NoError(t, err)

	listCfg := baseConfig(newStubStore(threeBinMeasurement("spw00", mean, []float64{1, 1, 1})))
	listCfg.Theory = scaled
	listCfg.ParamsList = []string{"amp"}
	listContainer, err := New(context.Background(), listCfg)
	require.NoError(t, err)

	byName, err := mapContainer.LogUnnormalizedLikelihood(params.ByName(map[string]float64{"amp": 1.3}))
	require.NoError(t, err)
	byPos, err := listContainer.LogUnnormalizedLikelihood(params.ByPosition([]float64{1.3}))
	require.NoError(t, err)
	assert.InDelta(t, byName.LogLikelihood, byPos.LogLikelihood, 1e-12)

	// mapping-form call is rejected once params_list is configured
	_, err = listContainer.LogUnnormalizedLikelihood(params.ByName(map[string]float64{"amp": 1.3}))
	assert.ErrorIs(t, err, core.ErrInvalidParameterFormat)

	// wrong-length value sequence
	_, err = listContainer.LogUnnormalizedLikelihood(params.ByPosition([]float64{1.3, 2.0, 3.0}))
	assert.ErrorIs(t, err, core.ErrInvalidParameterFormat)
}

func TestContainer_InvalidSources(t *testing.T) {
	cfg := baseConfig(newStubStore(threeBinMeasurement("spw00", []float64{0.1, 0.2, 0.3}, []float64{1, 1, 1})))
	cfg.Sources = 42
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, core.ErrInvalidMeasurementInput)
}

func TestContainer_UnresolvedRedshift(t *testing.T) {
	store := newStubStore(threeBinMeasurement("spw00", []float64{0.1, 0.2, 0.3}, []float64{1, 1, 1}))
	delete(store.z, core.WindowID("spw00"))

	c, err := New(context.Background(), baseConfig(store))
	require.NoError(t, err)

	_, err = c.LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	assert.ErrorIs(t, err, core.ErrUnresolvedRedshift)
}

// quadraticBias is linear in the nuisance amplitude with template k^2.
func quadraticBias(name string) spectrum.BiasModel {
	return func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error) {
		out := make([]float64, len(k))
		for i, kv := range k {
			out[i] = p.Get(name) * kv * kv
		}
		return out, nil
	}
}

func TestLinearSystematics_ZeroPriorCovReducesToGaussian(t *testing.T) {
	mean := []float64{0.15, 0.25, 0.4}
	mu0 := 0.3

	linCfg := baseConfig(newStubStore(threeBinMeasurement("spw00", mean, []float64{1, 2, 3})))
	linCfg.Strategy = StrategyGaussianLinearSystematics
	linCfg.Bias = quadraticBias("fg")
	linCfg.NuisanceNames = []string{"fg"}
	linCfg.NuisancePriorMean = []float64{mu0}
	linCfg.NuisancePriorCov = mat.NewSymDense(1, []float64{0})
	linContainer, err := New(context.Background(), linCfg)
	require.NoError(t, err)

	gaussCfg := baseConfig(newStubStore(threeBinMeasurement("spw00", mean, []float64{1, 2, 3})))
	gaussCfg.Bias = quadraticBias("fg")
	gaussContainer, err := New(context.Background(), gaussCfg)
	require.NoError(t, err)

	linRes, err := linContainer.LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)
	gaussRes, err := gaussContainer.LogUnnormalizedLikelihood(params.ByName(map[string]float64{"fg": mu0}))
	require.NoError(t, err)

	assert.InDelta(t, gaussRes.LogLikelihood, linRes.LogLikelihood, 1e-10)
}

func TestLinearSystematics_NonLinearBiasRejected(t *testing.T) {
	cfg := baseConfig(newStubStore(threeBinMeasurement("spw00", []float64{0.1, 0.2, 0.3}, []float64{1, 1, 1})))
	cfg.Strategy = StrategyGaussianLinearSystematics
	cfg.NuisanceNames = []string{"fg"}
	// non-zero intercept violates bias = A theta
	cfg.Bias = func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error) {
		out := make([]float64, len(k))
		for i := range out {
			out[i] = 1 + p.Get("fg")
		}
		return out, nil
	}
	_, err := New(context.Background(), cfg)
	assert.ErrorIs(t, err, core.ErrNonLinearBias)
}

func TestPositiveSystematics_SymmetricPriorZeroResidual(t *testing.T) {
	// with a zero-mean prior and zero theory residual the posterior over
	// the amplitude is symmetric around zero; both orthant masses are 1/2
	// and the correction cancels, so positive == linear exactly
	mean := []float64{0.1, 0.2, 0.3}

	build := func(strategy Strategy) *Container {
		cfg := baseConfig(newStubStore(threeBinMeasurement("spw00", mean, []float64{1, 1, 1})))
		cfg.Strategy = strategy
		cfg.Bias = quadraticBias("fg")
		cfg.NuisanceNames = []string{"fg"}
		cfg.NuisancePriorMean = []float64{0}
		cfg.NuisancePriorCov = mat.NewSymDense(1, []float64{0.04})
		c, err := New(context.Background(), cfg)
		require.NoError(t, err)
		return c
	}

	linRes, err := build(StrategyGaussianLinearSystematics).LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)
	posRes, err := build(StrategyMarginalizedLinearPositiveSystematics).LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)

	assert.InDelta(t, linRes.LogLikelihood, posRes.LogLikelihood, 1e-10)
}

func TestPositiveSystematics_TightPositivePriorMatchesLinear(t *testing.T) {
	// a prior far inside the positive orthant makes the truncation
	// correction negligible
	mean := []float64{0.15, 0.22, 0.35}

	build := func(strategy Strategy) *Container {
		cfg := baseConfig(newStubStore(threeBinMeasurement("spw00", mean, []float64{1, 1, 1})))
		cfg.Strategy = strategy
		cfg.Bias = quadraticBias("fg")
		cfg.NuisanceNames = []string{"fg"}
		cfg.NuisancePriorMean = []float64{10}
		cfg.NuisancePriorCov = mat.NewSymDense(1, []float64{0.0025})
		c, err := New(context.Background(), cfg)
		require.NoError(t, err)
		return c
	}

	linRes, err := build(StrategyGaussianLinearSystematics).LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)
	posRes, err := build(StrategyMarginalizedLinearPositiveSystematics).LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)

	assert.InDelta(t, linRes.LogLikelihood, posRes.LogLikelihood, 1e-6)
}

// twoTemplateBias is linear in two nuisance amplitudes with independent
// spectral templates k^2 and 0.2/k.
func twoTemplateBias() spectrum.BiasModel {
	return func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error) {
		out := make([]float64, len(k))
		for i, kv := range k {
			out[i] = p.Get("fg0")*kv*kv + p.Get("fg1")*0.2/kv
		}
		return out, nil
	}
}

func logGauss2(theta, mu []float64, cov [][]float64) float64 {
	a, b, d := cov[0][0], cov[0][1], cov[1][1]
	det := a*d - b*b
	dx, dy := theta[0]-mu[0], theta[1]-mu[1]
	q := (d*dx*dx - 2*b*dx*dy + a*dy*dy) / det
	return -0.5*q - math.Log(2*math.Pi*math.Sqrt(det))
}

// bruteLogMarginal integrates the two-nuisance marginal
//
//	integral N(r0; A theta, Sigma) N(theta; mu0, Sigma0) dtheta
//
// by midpoint quadrature on a 400x400 grid, over the positive orthant when
// truncated, over mu0 +/- 8 sigma otherwise.
func bruteLogMarginal(r0, sigma2 []float64, A [][]float64, mu0 []float64, cov0 [][]float64, truncated bool) float64 {
	const steps = 400
	lo := make([]float64, 2)
	hi := make([]float64, 2)
	for j := 0; j < 2; j++ {
		s := math.Sqrt(cov0[j][j])
		lo[j] = mu0[j] - 8*s
		hi[j] = mu0[j] + 8*s
		if truncated && lo[j] < 0 {
			lo[j] = 0
		}
	}
	h0 := (hi[0] - lo[0]) / steps
	h1 := (hi[1] - lo[1]) / steps

	sum := 0.0
	theta := make([]float64, 2)
	for i := 0; i < steps; i++ {
		theta[0] = lo[0] + (float64(i)+0.5)*h0
		for j := 0; j < steps; j++ {
			theta[1] = lo[1] + (float64(j)+0.5)*h1
			logLik := 0.0
			for b := range r0 {
				resid := r0[b] - A[b][0]*theta[0] - A[b][1]*theta[1]
				logLik += -0.5*resid*resid/sigma2[b] - 0.5*math.Log(2*math.Pi*sigma2[b])
			}
			sum += math.Exp(logLik + logGauss2(theta, mu0, cov0))
		}
	}
	return math.Log(sum * h0 * h1)
}

// bruteLogOrthant computes log P(theta >= 0) under N(mu0, Sigma0) on the
// same midpoint grid.
func bruteLogOrthant(mu0 []float64, cov0 [][]float64) float64 {
	const steps = 400
	lo := make([]float64, 2)
	hi := make([]float64, 2)
	for j := 0; j < 2; j++ {
		s := math.Sqrt(cov0[j][j])
		lo[j] = 0
		hi[j] = mu0[j] + 8*s
	}
	h0 := (hi[0] - lo[0]) / steps
	h1 := (hi[1] - lo[1]) / steps

	sum := 0.0
	theta := make([]float64, 2)
	for i := 0; i < steps; i++ {
		theta[0] = lo[0] + (float64(i)+0.5)*h0
		for j := 0; j < steps; j++ {
			theta[1] = lo[1] + (float64(j)+0.5)*h1
			sum += math.Exp(logGauss2(theta, mu0, cov0))
		}
	}
	return math.Log(sum * h0 * h1)
}

func TestLinearSystematics_TwoNuisancesMatchBruteForce(t *testing.T) {
	mean := []float64{0.5, 0.4, 0.6}
	covDiag := []float64{1.0, 0.8, 1.2}
	mu0 := []float64{0.2, 0.1}
	cov0 := [][]float64{{0.09, 0.01}, {0.01, 0.04}}

	cfg := baseConfig(newStubStore(threeBinMeasurement("spw00", mean, covDiag)))
	cfg.Strategy = StrategyGaussianLinearSystematics
	cfg.Bias = twoTemplateBias()
	cfg.NuisanceNames = []string{"fg0", "fg1"}
	cfg.NuisancePriorMean = mu0
	cfg.NuisancePriorCov = mat.NewSymDense(2, []float64{0.09, 0.01, 0.01, 0.04})
	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	res, err := c.LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)

	// identity window and bin_center discretization make the design matrix
	// the templates sampled at the bin centers
	centers := []float64{0.1, 0.2, 0.3}
	r0 := make([]float64, 3)
	A := make([][]float64, 3)
	for i, kv := range centers {
		r0[i] = mean[i] - kv
		A[i] = []float64{kv * kv, 0.2 / kv}
	}
	want := bruteLogMarginal(r0, covDiag, A, mu0, cov0, false)
	assert.InDelta(t, want, res.LogLikelihood, 1e-3)
}

func TestPositiveSystematics_TwoCorrelatedNuisancesMatchBruteForce(t *testing.T) {
	mean := []float64{0.5, 0.4, 0.6}
	covDiag := []float64{1.0, 0.8, 1.2}
	mu0 := []float64{0.2, 0.1}
	cov0 := [][]float64{{0.09, 0.01}, {0.01, 0.04}}

	cfg := baseConfig(newStubStore(threeBinMeasurement("spw00", mean, covDiag)))
	cfg.Strategy = StrategyMarginalizedLinearPositiveSystematics
	cfg.Bias = twoTemplateBias()
	cfg.NuisanceNames = []string{"fg0", "fg1"}
	cfg.NuisancePriorMean = mu0
	cfg.NuisancePriorCov = mat.NewSymDense(2, []float64{0.09, 0.01, 0.01, 0.04})
	cfg.OrthantDraws = 1 << 20
	c, err := New(context.Background(), cfg)
	require.NoError(t, err)

	res, err := c.LogUnnormalizedLikelihood(params.ByName(map[string]float64{}))
	require.NoError(t, err)

	centers := []float64{0.1, 0.2, 0.3}
	r0 := make([]float64, 3)
	A := make([][]float64, 3)
	for i, kv := range centers {
		r0[i] = mean[i] - kv
		A[i] = []float64{kv * kv, 0.2 / kv}
	}
	want := bruteLogMarginal(r0, covDiag, A, mu0, cov0, true) - bruteLogOrthant(mu0, cov0)
	// slack covers the fixed-seed Monte Carlo orthant estimates
	assert.InDelta(t, want, res.LogLikelihood, 1e-2)
}

func TestLogOrthantMass_OneDimensional(t *testing.T) {
	// standard normal: mass above zero is exactly 1/2
	got := logOrthantMass([]float64{0}, mat.NewSymDense(1, []float64{1}), 0, 1)
	assert.InDelta(t, math.Log(0.5), got, 1e-12)
}

func TestParseStrategy(t *testing.T) {
	_, err := ParseStrategy("gaussian")
	require.NoError(t, err)
	_, err = ParseStrategy("student_t")
	assert.Error(t, err)
}

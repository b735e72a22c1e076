package likelihood

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"pspec/domain/core"
	"pspec/domain/params"
	"pspec/domain/spectrum"
)

const linearityTol = 1e-9

// linearWindow caches the per-window pieces of the analytic
// marginalization: the windowed design matrix A, the fixed offset A mu0,
// and the factorization of the effective covariance Sigma + A Sigma0 A^T.
type linearWindow struct {
	design     *mat.Dense
	offset     []float64
	cholEff    mat.Cholesky
	logNormEff float64
}

// LinearSystematics analytically marginalizes a bias term that is linear
// in its nuisance parameters, bias(k; theta) = A theta, under a Gaussian
// prior N(mu0, Sigma0). The nuisance uncertainty is absorbed into an
// effective covariance (a Woodbury-style update), avoiding numerical
// integration; the result is exact under the linear/Gaussian assumption.
type LinearSystematics struct {
	c     *Container
	names []string
	mu0   []float64
	cov0  *mat.SymDense
	wins  []linearWindow
}

func newLinearSystematics(c *Container, cfg *Config) (*LinearSystematics, error) {
	if c.bias == nil {
		return nil, fmt.Errorf("%w: no bias model configured", core.ErrNonLinearBias)
	}
	m := len(cfg.NuisanceNames)
	if m == 0 {
		return nil, fmt.Errorf("%w: no nuisance parameter names configured", core.ErrNonLinearBias)
	}

	mu0 := cfg.NuisancePriorMean
	if mu0 == nil {
		mu0 = make([]float64, m)
	} else if len(mu0) != m {
		return nil, core.NewShapeMismatchError("nuisance prior mean", len(mu0), m)
	}
	cov0 := cfg.NuisancePriorCov
	if cov0 == nil {
		cov0 = mat.NewSymDense(m, nil)
	} else if cov0.SymmetricDim() != m {
		return nil, core.NewShapeMismatchError("nuisance prior covariance", cov0.SymmetricDim(), m)
	}

	lin := &LinearSystematics{
		c:     c,
		names: cfg.NuisanceNames,
		mu0:   mu0,
		cov0:  cov0,
		wins:  make([]linearWindow, len(c.windows)),
	}
	for i := range c.windows {
		if err := lin.buildWindow(&c.windows[i], &lin.wins[i]); err != nil {
			return nil, fmt.Errorf("window %s: %w", c.windows[i].id, err)
		}
	}
	return lin, nil
}

// buildWindow derives the windowed design matrix by probing the bias
// callable at unit nuisance vectors and assembles the effective
// covariance. The bias model must have zero intercept; a non-zero
// response at theta = 0 is a linearity violation.
func (l *LinearSystematics) buildWindow(w *windowState, lw *linearWindow) error {
	n := w.meas.NBins()
	m := len(l.names)

	zero, err := l.probe(w, func(p params.Set) {})
	if err != nil {
		return err
	}
	scale := 0.0
	cols := make([][]float64, m)
	for j := range l.names {
		col, err := l.probe(w, func(p params.Set) { p[l.names[j]] = 1 })
		if err != nil {
			return err
		}
		for i := range col {
			col[i] -= zero[i]
			if a := math.Abs(col[i]); a > scale {
				scale = a
			}
		}
		cols[j] = col
	}
	for _, v := range zero {
		if math.Abs(v) > linearityTol*(1+scale) {
			return fmt.Errorf("%w: non-zero response %g at zero nuisance amplitude", core.ErrNonLinearBias, v)
		}
	}

	lw.design = mat.NewDense(n, m, nil)
	for j, col := range cols {
		for i := 0; i < n; i++ {
			lw.design.Set(i, j, col[i])
		}
	}

	var off mat.VecDense
	off.MulVec(lw.design, mat.NewVecDense(m, l.mu0))
	lw.offset = make([]float64, n)
	for i := 0; i < n; i++ {
		lw.offset[i] = off.AtVec(i)
	}

	// Sigma_eff = Sigma + A Sigma0 A^T
	var acov mat.Dense
	acov.Mul(lw.design, l.cov0)
	var update mat.Dense
	update.Mul(&acov, lw.design.T())
	sigmaEff := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			sigmaEff.SetSym(i, j, w.meas.Covariance.At(i, j)+0.5*(update.At(i, j)+update.At(j, i)))
		}
	}
	if ok := lw.cholEff.Factorize(sigmaEff); !ok {
		return core.ErrCovarianceNotPSD
	}
	lw.logNormEff = 0.5 * (float64(n)*math.Log(2*math.Pi) + lw.cholEff.LogDet())
	return nil
}

// probe evaluates the windowed bias response for a nuisance configuration.
func (l *LinearSystematics) probe(w *windowState, set func(params.Set)) ([]float64, error) {
	p := make(params.Set, len(l.names))
	for _, name := range l.names {
		p[name] = 0
	}
	set(p)
	return l.c.windowedModel(w, spectrum.TheoreticalModel(l.c.bias), p)
}

// LogUnnormalizedLikelihood evaluates the marginalized Gaussian: per
// window,
//
//	-1/2 r^T Sigma_eff^-1 r - 1/2 log det(2 pi Sigma_eff)
//
// with r = mean - windowed_theory - A mu0. Bias parameters do not appear;
// they have been integrated out.
func (l *LinearSystematics) LogUnnormalizedLikelihood(theoryParams, _ params.Set) (Result, error) {
	return l.c.sumWindows(func(w *windowState) (float64, error) {
		v, _, err := l.windowTerms(w, theoryParams)
		return v, err
	})
}

// windowTerms computes one window's marginalized log-likelihood along with
// the pre-offset residual (needed by the positivity-constrained variant).
func (l *LinearSystematics) windowTerms(w *windowState, theoryParams params.Set) (float64, []float64, error) {
	lw := &l.wins[w.idx]
	theory, err := l.c.windowedModel(w, l.c.theory, theoryParams)
	if err != nil {
		return 0, nil, err
	}
	r0 := make([]float64, len(theory))
	r := make([]float64, len(theory))
	for i := range r {
		r0[i] = w.meas.MeanPower[i] - theory[i]
		r[i] = r0[i] - lw.offset[i]
	}
	chi2, err := chiSquared(&lw.cholEff, r)
	if err != nil {
		return 0, nil, err
	}
	return -0.5*chi2 - lw.logNormEff, r0, nil
}

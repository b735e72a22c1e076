package likelihood

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distmv"
	"gonum.org/v1/gonum/stat/distuv"

	"pspec/domain/core"
	"pspec/domain/params"
)

// positiveWindow caches the evaluation-independent pieces of the
// truncated-prior correction: the posterior precision factorization and
// covariance of the nuisance amplitudes for one window.
type positiveWindow struct {
	cholPrec mat.Cholesky
	postCov  *mat.SymDense
}

// PositiveSystematics marginalizes the linear bias term under a prior
// truncated to non-negative amplitudes (foreground power cannot be
// negative). No closed form exists for the truncated-Gaussian marginal;
// the analytic Gaussian marginal is corrected by the ratio of
// posterior-orthant mass to prior-orthant mass over theta >= 0, with the
// orthant probabilities evaluated exactly in one dimension and by
// fixed-seed Monte Carlo otherwise. Strictly more expensive than the
// unconstrained variant.
type PositiveSystematics struct {
	lin      *LinearSystematics
	cov0inv  *mat.SymDense
	priorLog float64 // log prior-orthant mass
	wins     []positiveWindow
	draws    int
	seed     uint64
}

func newPositiveSystematics(c *Container, cfg *Config) (*PositiveSystematics, error) {
	lin, err := newLinearSystematics(c, cfg)
	if err != nil {
		return nil, err
	}
	m := len(lin.names)

	var chol0 mat.Cholesky
	if ok := chol0.Factorize(lin.cov0); !ok {
		return nil, fmt.Errorf("positivity-constrained marginalization needs a positive-definite nuisance prior covariance: %w", core.ErrCovarianceNotPSD)
	}
	cov0inv := mat.NewSymDense(m, nil)
	if err := chol0.InverseTo(cov0inv); err != nil {
		return nil, err
	}

	pos := &PositiveSystematics{
		lin:     lin,
		cov0inv: cov0inv,
		wins:    make([]positiveWindow, len(c.windows)),
		draws:   cfg.OrthantDraws,
		seed:    cfg.Seed,
	}
	if pos.draws <= 0 {
		pos.draws = 1 << 17
	}

	pos.priorLog = logOrthantMass(lin.mu0, lin.cov0, pos.draws, pos.seed)
	if math.IsInf(pos.priorLog, -1) {
		return nil, fmt.Errorf("nuisance prior has no mass on the non-negative orthant")
	}

	for i := range c.windows {
		if err := pos.buildWindow(&c.windows[i], &pos.wins[i]); err != nil {
			return nil, fmt.Errorf("window %s: %w", c.windows[i].id, err)
		}
	}
	return pos, nil
}

// buildWindow assembles the conditional posterior of the nuisance
// amplitudes: precision P = A^T Sigma^-1 A + Sigma0^-1 and covariance
// P^-1. Both depend only on the design matrix, so they are fixed per
// window.
func (p *PositiveSystematics) buildWindow(w *windowState, pw *positiveWindow) error {
	lw := &p.lin.wins[w.idx]
	m := len(p.lin.names)

	var solved mat.Dense // Sigma^-1 A
	if err := w.chol.SolveTo(&solved, lw.design); err != nil {
		return err
	}
	var prec mat.Dense
	prec.Mul(lw.design.T(), &solved)
	precSym := mat.NewSymDense(m, nil)
	for i := 0; i < m; i++ {
		for j := i; j < m; j++ {
			precSym.SetSym(i, j, 0.5*(prec.At(i, j)+prec.At(j, i))+p.cov0inv.At(i, j))
		}
	}
	if ok := pw.cholPrec.Factorize(precSym); !ok {
		return core.ErrCovarianceNotPSD
	}
	pw.postCov = mat.NewSymDense(m, nil)
	return pw.cholPrec.InverseTo(pw.postCov)
}

// LogUnnormalizedLikelihood evaluates, per window, the analytic Gaussian
// marginal of the unconstrained variant renormalized by
//
//	log P_post(theta >= 0) - log P_prior(theta >= 0)
//
// where P_post is the conditional Gaussian posterior over the nuisance
// amplitudes given the theory residual. Zero posterior-orthant mass
// yields -Inf, which a sampler should treat as a rejection.
func (p *PositiveSystematics) LogUnnormalizedLikelihood(theoryParams, _ params.Set) (Result, error) {
	return p.lin.c.sumWindows(func(w *windowState) (float64, error) {
		linTerm, r0, err := p.lin.windowTerms(w, theoryParams)
		if err != nil {
			return 0, err
		}
		mu, err := p.posteriorMean(w, r0)
		if err != nil {
			return 0, err
		}
		postLog := logOrthantMass(mu, p.wins[w.idx].postCov, p.draws, p.seed)
		return linTerm + postLog - p.priorLog, nil
	})
}

// posteriorMean solves P mu_post = A^T Sigma^-1 r0 + Sigma0^-1 mu0.
func (p *PositiveSystematics) posteriorMean(w *windowState, r0 []float64) ([]float64, error) {
	lw := &p.lin.wins[w.idx]
	pw := &p.wins[w.idx]
	m := len(p.lin.names)

	var u mat.VecDense // Sigma^-1 r0
	if err := w.chol.SolveVecTo(&u, mat.NewVecDense(len(r0), r0)); err != nil {
		return nil, err
	}
	var rhs mat.VecDense
	rhs.MulVec(lw.design.T(), &u)
	var priorPull mat.VecDense
	priorPull.MulVec(p.cov0inv, mat.NewVecDense(m, p.lin.mu0))
	rhs.AddVec(&rhs, &priorPull)

	var mu mat.VecDense
	if err := pw.cholPrec.SolveVecTo(&mu, &rhs); err != nil {
		return nil, err
	}
	out := make([]float64, m)
	for i := 0; i < m; i++ {
		out[i] = mu.AtVec(i)
	}
	return out, nil
}

// logOrthantMass returns log P(theta >= 0) under N(mu, cov). The
// one-dimensional case is exact; higher dimensions use Monte Carlo with a
// fixed seed so repeated evaluations stay deterministic.
func logOrthantMass(mu []float64, cov *mat.SymDense, draws int, seed uint64) float64 {
	if len(mu) == 1 {
		sigma := math.Sqrt(cov.At(0, 0))
		dist := distuv.Normal{Mu: mu[0], Sigma: sigma}
		mass := dist.Survival(0)
		if mass <= 0 {
			return math.Inf(-1)
		}
		return math.Log(mass)
	}

	src := rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)
	normal, ok := distmv.NewNormal(mu, cov, src)
	if !ok {
		return math.Inf(-1)
	}
	x := make([]float64, len(mu))
	hits := 0
	for i := 0; i < draws; i++ {
		normal.Rand(x)
		inside := true
		for _, v := range x {
			if v < 0 {
				inside = false
				break
			}
		}
		if inside {
			hits++
		}
	}
	if hits == 0 {
		return math.Inf(-1)
	}
	return math.Log(float64(hits) / float64(draws))
}

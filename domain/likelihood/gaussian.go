package likelihood

import (
	"pspec/domain/params"
	"pspec/domain/spectrum"
)

// Gaussian evaluates the plain multivariate-Gaussian likelihood with no
// nuisance marginalization. Bias parameters, if a bias model is
// configured, are ordinary free parameters contributing directly to the
// residual.
type Gaussian struct {
	c *Container
}

// LogUnnormalizedLikelihood sums, over statistically-independent spectral
// windows,
//
//	-1/2 r^T Sigma^-1 r - 1/2 log det(2 pi Sigma)
//
// with r = mean - windowed_theory - windowed_bias.
func (m *Gaussian) LogUnnormalizedLikelihood(theoryParams, biasParams params.Set) (Result, error) {
	return m.c.sumWindows(func(w *windowState) (float64, error) {
		theory, err := m.c.windowedModel(w, m.c.theory, theoryParams)
		if err != nil {
			return 0, err
		}
		r := make([]float64, len(theory))
		for i := range r {
			r[i] = w.meas.MeanPower[i] - theory[i]
		}
		if m.c.bias != nil {
			bias, err := m.c.windowedModel(w, spectrum.TheoreticalModel(m.c.bias), biasParams)
			if err != nil {
				return 0, err
			}
			for i := range r {
				r[i] -= bias[i]
			}
		}
		chi2, err := chiSquared(&w.chol, r)
		if err != nil {
			return 0, err
		}
		return -0.5*chi2 - w.logNorm, nil
	})
}

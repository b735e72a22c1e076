package testkit

import (
	"fmt"
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/mat"

	"pspec/adapters/memory"
	"pspec/domain/core"
	"pspec/domain/params"
	"pspec/domain/spectrum"
)

// SyntheticConfig controls the generated measurement set.
type SyntheticConfig struct {
	Windows     int
	Samples     int // raw time samples per window
	KBinCenters []float64
	KBinWidths  []float64
	NoiseSigma  float64
	FreqLowMHz  float64
	FreqHighMHz float64
	Seed        uint64
}

// DefaultSyntheticConfig returns a small, fast configuration: two spectral
// windows, five k-bins, band around 150 MHz (z ~ 8.5).
func DefaultSyntheticConfig() SyntheticConfig {
	return SyntheticConfig{
		Windows:     2,
		Samples:     16,
		KBinCenters: []float64{0.1, 0.2, 0.3, 0.4, 0.5},
		KBinWidths:  []float64{0.05, 0.05, 0.05, 0.05, 0.05},
		NoiseSigma:  0.5,
		FreqLowMHz:  145,
		FreqHighMHz: 155,
		Seed:        7,
	}
}

// PowerLawTheory returns a theory callable Delta^2(k) = amp * (k/0.2)^index.
// Parameter names: "amp", "index".
func PowerLawTheory() spectrum.TheoreticalModel {
	return func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error) {
		amp := p.Get("amp")
		index := p.Get("index")
		out := make([]float64, len(k))
		for i, kv := range k {
			out[i] = amp * math.Pow(kv/0.2, index)
		}
		return out, nil
	}
}

// ForegroundBias returns a bias callable linear in the named nuisance
// amplitudes: bias(k) = sum_j theta_j * (k/0.2)^(-2j-1). Each template is
// a steep foreground-like spectral shape.
func ForegroundBias(names []string) spectrum.BiasModel {
	return func(k []float64, z float64, littleH bool, p params.Set) ([]float64, error) {
		out := make([]float64, len(k))
		for j, name := range names {
			theta := p.Get(name)
			if theta == 0 {
				continue
			}
			slope := -float64(2*j + 1)
			for i, kv := range k {
				out[i] += theta * math.Pow(kv/0.2, slope)
			}
		}
		return out, nil
	}
}

// SmoothingWindow builds a normalized tri-diagonal smoothing window
// function: each row mixes a bin with its neighbours.
func SmoothingWindow(n int, leak float64) *mat.Dense {
	w := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		sum := 1.0
		w.Set(i, i, 1)
		if i > 0 {
			w.Set(i, i-1, leak)
			sum += leak
		}
		if i < n-1 {
			w.Set(i, i+1, leak)
			sum += leak
		}
		for j := 0; j < n; j++ {
			if v := w.At(i, j); v != 0 {
				w.Set(i, j, v/sum)
			}
		}
	}
	return w
}

// RawGroups generates deterministic synthetic raw measurement groups. The
// underlying truth is the power-law theory at amp=1, index=2 with additive
// Gaussian noise of the configured sigma per raw point.
func RawGroups(cfg SyntheticConfig) ([]spectrum.RawGroup, error) {
	if cfg.Windows <= 0 || cfg.Samples <= 0 {
		return nil, fmt.Errorf("synthetic config needs positive window and sample counts")
	}
	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0xda3e39cb94b95bdb))
	theory := PowerLawTheory()
	truth := params.Set{"amp": 1, "index": 2}

	bandWidth := (cfg.FreqHighMHz - cfg.FreqLowMHz) / float64(cfg.Windows)
	groups := make([]spectrum.RawGroup, 0, cfg.Windows)
	for w := 0; w < cfg.Windows; w++ {
		g := spectrum.RawGroup{
			Window:      core.WindowID(fmt.Sprintf("spw%02d", w)),
			FreqLowMHz:  cfg.FreqLowMHz + float64(w)*bandWidth,
			FreqHighMHz: cfg.FreqLowMHz + float64(w+1)*bandWidth,
			WindowFn:    SmoothingWindow(len(cfg.KBinCenters), 0.1),
		}
		for t := 0; t < cfg.Samples; t++ {
			sample := spectrum.RawSample{
				K:        make([]float64, len(cfg.KBinCenters)),
				Power:    make([]float64, len(cfg.KBinCenters)),
				Variance: make([]float64, len(cfg.KBinCenters)),
			}
			for b, center := range cfg.KBinCenters {
				// jitter within the bin keeps the averaging non-trivial
				sample.K[b] = center + (rng.Float64()-0.5)*cfg.KBinWidths[b]*0.8
			}
			clean, err := theory(sample.K, 0, true, truth)
			if err != nil {
				return nil, err
			}
			for b := range clean {
				sample.Power[b] = clean[b] + rng.NormFloat64()*cfg.NoiseSigma
				sample.Variance[b] = cfg.NoiseSigma * cfg.NoiseSigma
			}
			g.Samples = append(g.Samples, sample)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// NewStore builds an in-memory measurement store over one synthetic
// source named "synthetic".
func NewStore(cfg SyntheticConfig) (*memory.Store, error) {
	groups, err := RawGroups(cfg)
	if err != nil {
		return nil, err
	}
	return memory.NewStoreFromGroups(map[string][]spectrum.RawGroup{
		"synthetic": groups,
	}), nil
}

package memory

import (
	"context"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"pspec/domain/core"
	"pspec/domain/likelihood"
	"pspec/domain/spectrum"
	"pspec/internal"
)

// rest frequency of the 21cm line
const line21cmMHz = 1420.405751768

// RawLoader resolves a measurement-source identifier into the raw
// per-observation groups it contains.
type RawLoader interface {
	Load(ctx context.Context, source string) ([]spectrum.RawGroup, error)
}

// Store is an in-memory measurement store. It ingests raw measurement
// groups, reduces them to one averaged measurement per spectral window
// with inverse-covariance weighting, and serves the averaged data to the
// likelihood container. Immutable once LoadAndAverage has run.
type Store struct {
	loader   RawLoader
	logger   *internal.Logger
	windows  []core.WindowID
	meas     map[core.WindowID]*spectrum.Measurement
	redshift map[core.WindowID]float64
}

// NewStore creates a store backed by a raw-measurement loader.
func NewStore(loader RawLoader) *Store {
	return &Store{
		loader:   loader,
		logger:   internal.DefaultLogger,
		meas:     make(map[core.WindowID]*spectrum.Measurement),
		redshift: make(map[core.WindowID]float64),
	}
}

// mapLoader serves pre-seeded raw groups keyed by source identifier.
type mapLoader map[string][]spectrum.RawGroup

func (m mapLoader) Load(_ context.Context, source string) ([]spectrum.RawGroup, error) {
	groups, ok := m[source]
	if !ok {
		return nil, fmt.Errorf("%w: unknown source %q", core.ErrInvalidMeasurementInput, source)
	}
	return groups, nil
}

// NewStoreFromGroups creates a store over fixed in-memory raw groups,
// keyed by source identifier.
func NewStoreFromGroups(sources map[string][]spectrum.RawGroup) *Store {
	return NewStore(mapLoader(sources))
}

// LoadAndAverage ingests the named sources and spherically averages each
// spectral window onto the configured k-bins. Groups with the same window
// identifier are merged across sources before averaging.
func (s *Store) LoadAndAverage(ctx context.Context, sources []string, cfg likelihood.AveragingConfig) error {
	merged := make(map[core.WindowID]*spectrum.RawGroup)
	for _, source := range sources {
		groups, err := s.loader.Load(ctx, source)
		if err != nil {
			return err
		}
		for i := range groups {
			g := groups[i]
			acc, ok := merged[g.Window]
			if !ok {
				gc := g
				merged[g.Window] = &gc
				continue
			}
			acc.Samples = append(acc.Samples, g.Samples...)
			if g.FreqLowMHz > 0 && (acc.FreqLowMHz == 0 || g.FreqLowMHz < acc.FreqLowMHz) {
				acc.FreqLowMHz = g.FreqLowMHz
			}
			if g.FreqHighMHz > acc.FreqHighMHz {
				acc.FreqHighMHz = g.FreqHighMHz
			}
			if g.WindowFn != nil {
				acc.WindowFn = g.WindowFn
			}
		}
	}
	if len(merged) == 0 {
		return fmt.Errorf("%w: sources contained no spectral windows", core.ErrInvalidMeasurementInput)
	}

	ids := make([]core.WindowID, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		group := merged[id]
		m, err := s.average(group, cfg)
		if err != nil {
			return fmt.Errorf("window %s: %w", id, err)
		}
		if cfg.RunCheck {
			if err := s.check(m); err != nil {
				return fmt.Errorf("window %s: %w", id, err)
			}
		}
		s.meas[id] = m
		if m.HasRedshift {
			s.redshift[id] = m.Redshift
		}
	}
	s.windows = ids
	s.logger.Info("averaged %d spectral windows onto %d k-bins", len(ids), len(cfg.KBinCenters))
	return nil
}

// average reduces one window's raw samples to per-bin means with
// inverse-variance weights (or uniform weights when weight_by_cov is
// off), a diagonal covariance from the combined weights, and a redshift
// derived from the band center when frequency coverage is known.
func (s *Store) average(g *spectrum.RawGroup, cfg likelihood.AveragingConfig) (*spectrum.Measurement, error) {
	n := len(cfg.KBinCenters)
	if n == 0 || len(cfg.KBinWidths) != n {
		return nil, fmt.Errorf("%w: bad averaging bin configuration", core.ErrInvalidBinning)
	}
	weightSum := make([]float64, n)
	powerSum := make([]float64, n)
	varSum := make([]float64, n)
	count := make([]int, n)

	for _, sample := range g.Samples {
		if len(sample.Power) != len(sample.K) {
			return nil, core.NewShapeMismatchError("raw power", len(sample.Power), len(sample.K))
		}
		if len(sample.Variance) != len(sample.K) {
			return nil, core.NewShapeMismatchError("raw variance", len(sample.Variance), len(sample.K))
		}
		for i, k := range sample.K {
			b := findBin(cfg.KBinCenters, cfg.KBinWidths, k)
			if b < 0 {
				continue
			}
			w := 1.0
			if cfg.WeightByCov && sample.Variance[i] > 0 {
				w = 1 / sample.Variance[i]
			}
			weightSum[b] += w
			powerSum[b] += w * sample.Power[i]
			varSum[b] += sample.Variance[i]
			count[b]++
		}
	}

	mean := make([]float64, n)
	variance := make([]float64, n)
	for b := 0; b < n; b++ {
		if count[b] == 0 || weightSum[b] <= 0 {
			return nil, fmt.Errorf("%w: no raw samples fall in k-bin %d (k=%g)", core.ErrInvalidMeasurementInput, b, cfg.KBinCenters[b])
		}
		mean[b] = powerSum[b] / weightSum[b]
		if cfg.WeightByCov {
			variance[b] = 1 / weightSum[b]
		} else if varSum[b] > 0 {
			// uniform weights: variance of the mean is the average point
			// variance divided by the sample count
			variance[b] = varSum[b] / float64(count[b]*count[b])
		} else {
			variance[b] = 1 / float64(count[b])
		}
	}

	cov := mat.NewSymDense(n, nil)
	for b := 0; b < n; b++ {
		cov.SetSym(b, b, variance[b])
	}

	windowFn := g.WindowFn
	if windowFn == nil {
		windowFn = identityWindow(n)
	} else if r, c := windowFn.Dims(); r != n || c != n {
		return nil, core.NewShapeMismatchError("window function", r, n)
	}

	m := &spectrum.Measurement{
		Window:      g.Window,
		KBinCenters: append([]float64(nil), cfg.KBinCenters...),
		KBinWidths:  append([]float64(nil), cfg.KBinWidths...),
		MeanPower:   mean,
		Covariance:  cov,
		WindowFn:    windowFn,
		LittleH:     cfg.LittleH,
		History:     cfg.AddToHistory,
	}
	if g.FreqLowMHz > 0 && g.FreqHighMHz > g.FreqLowMHz {
		mid := (g.FreqLowMHz + g.FreqHighMHz) / 2
		m.Redshift = line21cmMHz/mid - 1
		m.HasRedshift = true
	}
	return m, nil
}

// check validates the averaged measurement and logs quality warnings.
func (s *Store) check(m *spectrum.Measurement) error {
	if err := m.Validate(); err != nil {
		return err
	}
	profile, err := spectrum.Profile(m)
	if err != nil {
		return err
	}
	if profile.NegativeBins > 0 {
		s.logger.Warn("window %s: %d bins with negative mean power", m.Window, profile.NegativeBins)
	}
	if math.IsInf(profile.DynamicRange, 1) || profile.DynamicRange > 1e12 {
		s.logger.Warn("window %s: covariance dynamic range %g is suspicious", m.Window, profile.DynamicRange)
	}
	return nil
}

// Windows lists the averaged spectral windows in deterministic order.
func (s *Store) Windows() []core.WindowID {
	return append([]core.WindowID(nil), s.windows...)
}

// Measurement returns the averaged measurement for a window.
func (s *Store) Measurement(w core.WindowID) (*spectrum.Measurement, error) {
	m, ok := s.meas[w]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrWindowNotFound, w)
	}
	return m, nil
}

// Redshift resolves a spectral window's redshift from its frequency
// coverage. Windows ingested without coverage stay unresolved.
func (s *Store) Redshift(w core.WindowID) (float64, error) {
	if _, ok := s.meas[w]; !ok {
		return 0, fmt.Errorf("%w: %s", core.ErrWindowNotFound, w)
	}
	z, ok := s.redshift[w]
	if !ok {
		return 0, fmt.Errorf("%w: window %s has no frequency coverage", core.ErrUnresolvedRedshift, w)
	}
	return z, nil
}

// identityWindow builds the identity window function used when the
// pipeline supplies none.
func identityWindow(n int) *mat.Dense {
	w := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		w.Set(i, i, 1)
	}
	return w
}

// findBin returns the index of the k-bin containing k, or -1. Bin edges
// are center +/- width/2 with the lower edge inclusive.
func findBin(centers, widths []float64, k float64) int {
	for b := range centers {
		lo := centers[b] - widths[b]/2
		hi := centers[b] + widths[b]/2
		if k >= lo && k < hi {
			return b
		}
	}
	// the last bin's upper edge is inclusive
	last := len(centers) - 1
	if last >= 0 && k == centers[last]+widths[last]/2 {
		return last
	}
	return -1
}

package likelihood

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"

	"pspec/domain/core"
	"pspec/domain/params"
	"pspec/domain/spectrum"
)

// Config collects everything the container owns for its lifetime.
type Config struct {
	Store Store
	// Sources is a single measurement-source identifier (string) or an
	// ordered list of them ([]string). Anything else is rejected with
	// core.ErrInvalidMeasurementInput.
	Sources any

	Theory      spectrum.TheoreticalModel
	Bias        spectrum.BiasModel
	TheoryPrior spectrum.Prior
	BiasPrior   spectrum.Prior

	KBinCenters []float64
	KBinWidths  []float64
	LittleH     bool
	WeightByCov bool
	RunCheck    bool
	History     string

	Method   Method
	Strategy Strategy

	// ParamsList enables list-form parameter calls; nil means mapping-form
	// calls only.
	ParamsList []string

	// Linear-systematics configuration: the bias model must be linear in
	// the named nuisance parameters, bias(k; theta) = A theta, with a
	// Gaussian prior N(PriorMean, PriorCov) over theta. Required for the
	// linear and positive strategies, ignored by the plain Gaussian one.
	NuisanceNames     []string
	NuisancePriorMean []float64
	NuisancePriorCov  *mat.SymDense

	// OrthantDraws bounds the Monte Carlo sample used for orthant masses
	// in the positive strategy when more than one nuisance dimension is
	// marginalized.
	OrthantDraws int
	Seed         uint64
}

// DefaultConfig returns a Config with the documented defaults: little_h
// units, inverse-covariance weighting, consistency checks on, bin-center
// discretization, plain Gaussian likelihood.
func DefaultConfig() Config {
	return Config{
		LittleH:      true,
		WeightByCov:  true,
		RunCheck:     true,
		Method:       MethodBinCenter,
		Strategy:     StrategyGaussian,
		OrthantDraws: 1 << 17,
		Seed:         1,
	}
}

// windowState caches the per-window immutable pieces of an evaluation:
// the averaged measurement, its covariance factorization, and the
// Gaussian normalization constant.
type windowState struct {
	idx     int
	id      core.WindowID
	meas    *spectrum.Measurement
	chol    mat.Cholesky
	logNorm float64 // 1/2 log det(2 pi Sigma)
}

// Container owns the measurement set, the model and prior callables, and
// the binning configuration for one analysis. All owned data is immutable
// after construction; every evaluation is a pure read, so the container is
// safe for concurrent use by a sampler.
type Container struct {
	store       Store
	theory      spectrum.TheoreticalModel
	bias        spectrum.BiasModel
	theoryPrior spectrum.Prior
	biasPrior   spectrum.Prior

	centers    []float64
	widths     []float64
	littleH    bool
	method     Method
	strategy   Strategy
	paramsList []string

	windows []windowState
	model   DataModel
}

// New constructs the container: it normalizes the measurement sources,
// delegates loading and spherical averaging to the store, validates and
// factorizes each averaged measurement, and selects the evaluation
// strategy.
func New(ctx context.Context, cfg Config) (*Container, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("%w: no measurement store configured", core.ErrInvalidMeasurementInput)
	}
	if cfg.Theory == nil {
		return nil, fmt.Errorf("theoretical model callable is required")
	}
	sources, err := normalizeSources(cfg.Sources)
	if err != nil {
		return nil, err
	}
	if err := validateBins(cfg.KBinCenters, cfg.KBinWidths); err != nil {
		return nil, err
	}

	method := cfg.Method
	if method == "" {
		method = MethodBinCenter
	}
	if _, err := ParseMethod(string(method)); err != nil {
		return nil, err
	}
	strategy := cfg.Strategy
	if strategy == "" {
		strategy = StrategyGaussian
	}
	if _, err := ParseStrategy(string(strategy)); err != nil {
		return nil, err
	}

	history := cfg.History
	if history == "" {
		history = "spherical average with time averaging."
	}
	if err := cfg.Store.LoadAndAverage(ctx, sources, AveragingConfig{
		KBinCenters:  cfg.KBinCenters,
		KBinWidths:   cfg.KBinWidths,
		LittleH:      cfg.LittleH,
		WeightByCov:  cfg.WeightByCov,
		RunCheck:     cfg.RunCheck,
		AddToHistory: history,
	}); err != nil {
		return nil, err
	}

	c := &Container{
		store:       cfg.Store,
		theory:      cfg.Theory,
		bias:        cfg.Bias,
		theoryPrior: cfg.TheoryPrior,
		biasPrior:   cfg.BiasPrior,
		centers:     cfg.KBinCenters,
		widths:      cfg.KBinWidths,
		littleH:     cfg.LittleH,
		method:      method,
		strategy:    strategy,
		paramsList:  cfg.ParamsList,
	}

	ids := cfg.Store.Windows()
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: store produced no spectral windows", core.ErrInvalidMeasurementInput)
	}
	c.windows = make([]windowState, len(ids))
	for i, id := range ids {
		meas, err := cfg.Store.Measurement(id)
		if err != nil {
			return nil, err
		}
		if cfg.RunCheck {
			if err := meas.Validate(); err != nil {
				return nil, fmt.Errorf("window %s: %w", id, err)
			}
		}
		w := &c.windows[i]
		w.idx = i
		w.id = id
		w.meas = meas
		if ok := w.chol.Factorize(meas.Covariance); !ok {
			return nil, fmt.Errorf("window %s: %w", id, core.ErrCovarianceNotPSD)
		}
		n := float64(meas.NBins())
		w.logNorm = 0.5 * (n*math.Log(2*math.Pi) + w.chol.LogDet())
	}

	switch strategy {
	case StrategyGaussian:
		c.model = &Gaussian{c: c}
	case StrategyGaussianLinearSystematics:
		lin, err := newLinearSystematics(c, &cfg)
		if err != nil {
			return nil, err
		}
		c.model = lin
	case StrategyMarginalizedLinearPositiveSystematics:
		pos, err := newPositiveSystematics(c, &cfg)
		if err != nil {
			return nil, err
		}
		c.model = pos
	}
	return c, nil
}

// Model returns the selected evaluation strategy.
func (c *Container) Model() DataModel { return c.model }

// Strategy returns the configured strategy tag.
func (c *Container) Strategy() Strategy { return c.strategy }

// Method returns the configured discretization method.
func (c *Container) Method() Method { return c.method }

// Windows lists the spectral windows in evaluation order.
func (c *Container) Windows() []core.WindowID {
	ids := make([]core.WindowID, len(c.windows))
	for i := range c.windows {
		ids[i] = c.windows[i].id
	}
	return ids
}

// Measurement returns the averaged measurement for a window.
func (c *Container) Measurement(id core.WindowID) (*spectrum.Measurement, error) {
	for i := range c.windows {
		if c.windows[i].id == id {
			return c.windows[i].meas, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", core.ErrWindowNotFound, id)
}

// NormalizeParams resolves a parameter input against the container's
// configured params_list.
func (c *Container) NormalizeParams(input params.Input) (params.Set, error) {
	return params.Normalize(input, c.paramsList)
}

// LogUnnormalizedLikelihood is the primary runtime call: it normalizes the
// parameter input once and evaluates the selected strategy. The same
// canonical set feeds both the theory and bias callables; each picks out
// the names it understands.
func (c *Container) LogUnnormalizedLikelihood(input params.Input) (Result, error) {
	set, err := params.Normalize(input, c.paramsList)
	if err != nil {
		return Result{}, err
	}
	return c.model.LogUnnormalizedLikelihood(set, set)
}

// LogUnnormalizedPosterior adds the configured theory and bias prior
// log-probabilities to the likelihood. Priors returning zero (or negative)
// probability yield -Inf.
func (c *Container) LogUnnormalizedPosterior(input params.Input) (Result, error) {
	set, err := params.Normalize(input, c.paramsList)
	if err != nil {
		return Result{}, err
	}
	res, err := c.model.LogUnnormalizedLikelihood(set, set)
	if err != nil {
		return Result{}, err
	}
	for _, prior := range []spectrum.Prior{c.theoryPrior, c.biasPrior} {
		if prior == nil {
			continue
		}
		prob, err := prior(set)
		if err != nil {
			return Result{}, err
		}
		if prob <= 0 {
			res.LogLikelihood = math.Inf(-1)
			return res, nil
		}
		res.LogLikelihood += math.Log(prob)
	}
	return res, nil
}

// windowedModel discretizes a model callable onto the k-bins at the
// window's redshift and projects it through the window function.
func (c *Container) windowedModel(w *windowState, model spectrum.TheoreticalModel, p params.Set) ([]float64, error) {
	z, err := c.store.Redshift(w.id)
	if err != nil {
		return nil, err
	}
	vals, _, err := Discretize(c.centers, c.widths, z, c.littleH, p, model, c.method)
	if err != nil {
		return nil, err
	}
	return ApplyWindow(vals, w.meas.WindowFn)
}

// sumWindows evaluates per-window contributions concurrently (spectral
// windows are statistically independent, so the reduction commutes) and
// sums them in window order so the result is deterministic.
func (c *Container) sumWindows(eval func(w *windowState) (float64, error)) (Result, error) {
	vals := make([]float64, len(c.windows))
	var g errgroup.Group
	for i := range c.windows {
		w := &c.windows[i]
		g.Go(func() error {
			v, err := eval(w)
			if err != nil {
				return fmt.Errorf("window %s: %w", w.id, err)
			}
			vals[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}
	res := Result{PerWindow: make(map[string]float64, len(c.windows))}
	for i := range c.windows {
		res.PerWindow[c.windows[i].id.String()] = vals[i]
		res.LogLikelihood += vals[i]
	}
	return res, nil
}

// chiSquared computes r^T Sigma^-1 r using the cached factorization.
func chiSquared(chol *mat.Cholesky, r []float64) (float64, error) {
	rv := mat.NewVecDense(len(r), r)
	var u mat.VecDense
	if err := chol.SolveVecTo(&u, rv); err != nil {
		return 0, err
	}
	return mat.Dot(rv, &u), nil
}

func normalizeSources(sources any) ([]string, error) {
	switch s := sources.(type) {
	case string:
		return []string{s}, nil
	case []string:
		if len(s) == 0 {
			return nil, fmt.Errorf("%w: empty source list", core.ErrInvalidMeasurementInput)
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: got %T", core.ErrInvalidMeasurementInput, sources)
}

func validateBins(centers, widths []float64) error {
	if len(centers) == 0 {
		return fmt.Errorf("%w: kbin_centers is empty", core.ErrInvalidBinning)
	}
	if len(widths) != len(centers) {
		return core.NewShapeMismatchError("kbin_widths", len(widths), len(centers))
	}
	for i := range centers {
		if widths[i] <= 0 {
			return fmt.Errorf("%w: bin %d has non-positive width", core.ErrInvalidBinning, i)
		}
		if i > 0 && centers[i] <= centers[i-1] {
			return fmt.Errorf("%w: bin centers must be strictly increasing", core.ErrInvalidBinning)
		}
	}
	return nil
}

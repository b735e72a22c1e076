package likelihood

import (
	"fmt"

	"gonum.org/v1/gonum/integrate/quad"

	"pspec/domain/core"
	"pspec/domain/params"
	"pspec/domain/spectrum"
)

// Method selects how a continuous model is discretized onto k-bins.
type Method string

const (
	// MethodBinCenter samples the model once at each bin center.
	MethodBinCenter Method = "bin_center"
	// MethodTwoPoint samples the model at both bin edges and averages.
	MethodTwoPoint Method = "two_point"
	// MethodIntegrate computes the bin average by adaptive quadrature.
	MethodIntegrate Method = "integrate"
)

// ParseMethod validates a method string.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodBinCenter, MethodTwoPoint, MethodIntegrate:
		return Method(s), nil
	}
	return "", core.NewInvalidMethodError(s)
}

const (
	quadMinNodes = 8
	quadMaxNodes = 256
	quadRelTol   = 1e-10
)

// Discretize evaluates a continuous model on the configured k-bins.
//
// The analysis formalism assumes the power spectrum is piecewise constant
// over each bin, so the continuous model is reduced to one value per bin.
// The returned errors slice is nil for bin_center. For two_point the error
// is (lower-upper)/2, an order-of-magnitude indicator only -- it is not a
// statistical confidence interval and can be negative when the model is
// non-monotonic over a bin. For integrate the error is the quadrature
// refinement residual divided by the bin width.
func Discretize(centers, widths []float64, z float64, littleH bool, p params.Set, model spectrum.TheoreticalModel, method Method) (values, errors []float64, err error) {
	if len(centers) == 0 {
		return nil, nil, fmt.Errorf("%w: empty k-bin arrays", core.ErrInvalidBinning)
	}
	if len(widths) != len(centers) {
		return nil, nil, core.NewShapeMismatchError("kbin_widths", len(widths), len(centers))
	}
	if model == nil {
		return nil, nil, fmt.Errorf("%w: model callable is nil", core.ErrInvalidBinning)
	}

	switch method {
	case MethodBinCenter:
		values, err = evalModel(model, centers, z, littleH, p)
		return values, nil, err

	case MethodTwoPoint:
		n := len(centers)
		lowerK := make([]float64, n)
		upperK := make([]float64, n)
		for i := range centers {
			lowerK[i] = centers[i] - widths[i]/2
			upperK[i] = centers[i] + widths[i]/2
		}
		lower, err := evalModel(model, lowerK, z, littleH, p)
		if err != nil {
			return nil, nil, err
		}
		upper, err := evalModel(model, upperK, z, littleH, p)
		if err != nil {
			return nil, nil, err
		}
		values = make([]float64, n)
		errors = make([]float64, n)
		for i := 0; i < n; i++ {
			values[i] = (lower[i] + upper[i]) / 2
			errors[i] = (lower[i] - upper[i]) / 2
		}
		return values, errors, nil

	case MethodIntegrate:
		n := len(centers)
		values = make([]float64, n)
		errors = make([]float64, n)
		for i := 0; i < n; i++ {
			integral, quadErr, err := binIntegral(model, centers[i], widths[i], z, littleH, p)
			if err != nil {
				return nil, nil, err
			}
			values[i] = integral / widths[i]
			errors[i] = quadErr / widths[i]
		}
		return values, errors, nil
	}
	return nil, nil, core.NewInvalidMethodError(string(method))
}

// evalModel invokes a model callable and enforces the shape contract.
func evalModel(model spectrum.TheoreticalModel, k []float64, z float64, littleH bool, p params.Set) ([]float64, error) {
	out, err := model(k, z, littleH, p)
	if err != nil {
		return nil, err
	}
	if len(out) != len(k) {
		return nil, core.NewShapeMismatchError("model output", len(out), len(k))
	}
	return out, nil
}

// binIntegral integrates the model over one bin with Gauss-Legendre
// quadrature, doubling the node count until the result stabilizes. The
// returned error estimate is the residual between the last two refinements.
func binIntegral(model spectrum.TheoreticalModel, center, width, z float64, littleH bool, p params.Set) (integral, quadErr float64, err error) {
	var evalErr error
	f := func(k float64) float64 {
		out, err := evalModel(model, []float64{k}, z, littleH, p)
		if err != nil {
			if evalErr == nil {
				evalErr = err
			}
			return 0
		}
		return out[0]
	}

	a, b := center-width/2, center+width/2
	prev := quad.Fixed(f, a, b, quadMinNodes, nil, 0)
	for n := quadMinNodes * 2; n <= quadMaxNodes; n *= 2 {
		cur := quad.Fixed(f, a, b, n, nil, 0)
		quadErr = cur - prev
		if quadErr < 0 {
			quadErr = -quadErr
		}
		prev = cur
		if quadErr <= quadRelTol*(1+absFloat(cur)) {
			break
		}
	}
	if evalErr != nil {
		return 0, 0, evalErr
	}
	return prev, quadErr, nil
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

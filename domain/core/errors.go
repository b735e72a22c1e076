package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Construction-time precondition errors
	ErrInvalidMeasurementInput = errors.New("measurement input must be a single source or a list of sources")
	ErrInvalidBinning          = errors.New("invalid k-bin configuration")

	// Evaluation-time precondition errors
	ErrInvalidMethod          = errors.New("invalid discretization method")
	ErrInvalidParameterFormat = errors.New("invalid parameter format")
	ErrShapeMismatch          = errors.New("vector/matrix shape mismatch")
	ErrUnresolvedRedshift     = errors.New("redshift for spectral window is unresolved")

	// Measurement validation errors
	ErrInvalidMeasurement = errors.New("measurement violates data-model invariants")
	ErrCovarianceNotPSD   = fmt.Errorf("%w: covariance is not positive definite", ErrInvalidMeasurement)
	ErrWindowNotFound     = errors.New("spectral window not found")

	// Model contract errors
	ErrNonLinearBias = errors.New("bias model is not linear in its nuisance parameters")
)

// NewShapeMismatchError reports a dimension disagreement with both sizes attached.
func NewShapeMismatchError(what string, got, want int) error {
	return fmt.Errorf("%w: %s has length %d, want %d", ErrShapeMismatch, what, got, want)
}

// NewInvalidMethodError reports an unrecognized discretization method string.
func NewInvalidMethodError(method string) error {
	return fmt.Errorf("%w: method must be one of 'bin_center', 'two_point' or 'integrate', got %q", ErrInvalidMethod, method)
}

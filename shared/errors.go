package shared

import (
	"context"
	"errors"
)

// The error taxonomy of the scoring core. Errors are wrapped with
// context at each layer and discriminated with errors.Is.
var (
	// ErrNumericDivergence marks a ground-truth model given an input
	// outside its valid domain.
	ErrNumericDivergence = errors.New("numeric divergence")

	// ErrUnknownDomain marks a task descriptor with no registered model.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrShapeMismatch marks a vector whose dimensionality does not
	// match its task descriptor.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrTimeout marks an unresponsive collaborator.
	ErrTimeout = errors.New("timeout")

	// ErrInvalidConfiguration marks configuration that failed startup
	// validation.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// Error kinds for result records and metric labels.
const (
	KindNumericDivergence    = "numeric_divergence"
	KindUnknownDomain        = "unknown_domain"
	KindShapeMismatch        = "shape_mismatch"
	KindTimeout              = "timeout"
	KindInvalidConfiguration = "invalid_configuration"
	KindInternal             = "internal"
)

// KindOf maps an error chain onto the taxonomy. A nil error maps to
// the empty string; anything outside the taxonomy is internal.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNumericDivergence):
		return KindNumericDivergence
	case errors.Is(err, ErrUnknownDomain):
		return KindUnknownDomain
	case errors.Is(err, ErrShapeMismatch):
		return KindShapeMismatch
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, ErrInvalidConfiguration):
		return KindInvalidConfiguration
	default:
		return KindInternal
	}
}

package nn

import "github.com/pkg/errors"

// Precondition failures. These are never retried; the host decides whether
// to abort training.
var (
	ErrNotBuilt      = errors.New("optimizer state not built for parameter")
	ErrShapeMismatch = errors.New("gradient shape does not match parameter")
	ErrNoStep        = errors.New("step context was not produced by Begin")
)

// ErrInvalidConfig reports constructor arguments that can never work.
var ErrInvalidConfig = errors.New("invalid optimizer configuration")

// ErrChaosDomain reports a chaos factor with no real value, e.g. a negative
// base raised to a fractional punishment exponent.
var ErrChaosDomain = errors.New("chaos factor outside real domain")

// IsPrecondition reports whether err is a host-side contract violation.
func IsPrecondition(err error) bool {
	switch errors.Cause(err) {
	case ErrNotBuilt, ErrShapeMismatch, ErrNoStep:
		return true
	}
	return false
}

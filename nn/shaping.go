package nn

import (
	"math"

	"github.com/pkg/errors"

	"github.com/openfluke/adalpha/tensor"
)

// Shaper reshapes a raw moment delta in place before it is accumulated into
// a moment tensor. The base variant uses IdentityShaper, the momentum variant
// MomentumShaper.
type Shaper[T tensor.Float] interface {
	Shape(x []T)
	Name() string
}

// IdentityShaper leaves deltas untouched.
type IdentityShaper[T tensor.Float] struct{}

func (IdentityShaper[T]) Shape([]T)    {}
func (IdentityShaper[T]) Name() string { return "identity" }

// MomentumShaper applies Activate to the whole delta tensor.
type MomentumShaper[T tensor.Float] struct{}

func (MomentumShaper[T]) Shape(x []T)  { Activate(x) }
func (MomentumShaper[T]) Name() string { return "momentum" }

// activationDamping weighs the dispersion term in the activation denominator.
const activationDamping = 0.1

// Activate rewrites x in place as
//
//	x * (2 - (x^2 - d^2) / (x^2 + 0.1*d^2))^2,  d = |mean(x) - std(x)|
//
// with one scalar mean and population std over all of x. A zero denominator
// contributes 0 to the ratio, so Activate(0) is 0.
// Elements well below d are amplified up to 144x, elements near d by 4x,
// and elements far above d pass through almost unchanged.
func Activate[T tensor.Float](x []T) {
	if len(x) == 0 {
		return
	}
	mean, std := tensor.MeanStd(x)
	d := math.Abs(mean - std)
	d2 := d * d
	for i, v := range x {
		f := float64(v)
		f2 := f * f
		c := 2 - tensor.SafeDiv(f2-d2, f2+activationDamping*d2)
		x[i] = T(f * c * c)
	}
}

// ChaosRule maps the control signal and the punishment exponent to the
// factor alpha is multiplied by.
type ChaosRule func(signal, punishment float64, policy DomainPolicy) (float64, error)

// ChaosComplement is the base variant rule: (1 - signal*k)^k.
func ChaosComplement(signal, punishment float64, policy DomainPolicy) (float64, error) {
	return chaosPow(1-signal*punishment, punishment, policy)
}

// ChaosDirect is the momentum variant rule: signal^k.
func ChaosDirect(signal, punishment float64, policy DomainPolicy) (float64, error) {
	return chaosPow(signal, punishment, policy)
}

func chaosPow(base, exp float64, policy DomainPolicy) (float64, error) {
	if math.IsNaN(base) || math.IsInf(base, 0) {
		return 0, errors.Wrapf(ErrChaosDomain, "non-finite base %v", base)
	}
	if base < 0 && exp != math.Trunc(exp) {
		if policy != DomainClamp {
			return 0, errors.Wrapf(ErrChaosDomain, "(%v)^%v", base, exp)
		}
		base = 0
	}
	return math.Pow(base, exp), nil
}

func rulesFor[T tensor.Float](v Variant) (Shaper[T], ChaosRule) {
	if v == VariantMomentum {
		return MomentumShaper[T]{}, ChaosDirect
	}
	return IdentityShaper[T]{}, ChaosComplement
}

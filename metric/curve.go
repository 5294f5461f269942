package metric

import (
	"fmt"
	"math"

	"github.com/orrerynet/orrery/shared"
)

// Curve kinds.
const (
	Exponential = "exponential"
	Rational    = "rational"
)

// Curve maps a discrepancy onto a score in [0, 1]. Both kinds equal 1
// at zero distance and decay smoothly towards 0: exponential is
// exp(-k*d), rational is 1/(1 + k*d^p). Parameters are fixed per task
// so different domains' error scales produce comparable score
// distributions.
type Curve struct {
	Kind      string  `yaml:"kind"`
	Steepness float64 `yaml:"steepness"`
	Power     float64 `yaml:"power,omitempty"`
}

func DefaultCurve() Curve {
	return Curve{Kind: Exponential, Steepness: 1}
}

func (c Curve) Validate() error {
	switch c.Kind {
	case Exponential:
	case Rational:
		if c.Power < 1 {
			return fmt.Errorf("%w: curve power must be >= 1, got %v", shared.ErrInvalidConfiguration, c.Power)
		}
	default:
		return fmt.Errorf("%w: unknown curve kind %q", shared.ErrInvalidConfiguration, c.Kind)
	}
	if c.Steepness <= 0 {
		return fmt.Errorf("%w: curve steepness must be positive, got %v", shared.ErrInvalidConfiguration, c.Steepness)
	}
	return nil
}

// Score converts a discrepancy into a score. The Missing sentinel
// scores exactly 0 regardless of the curve parameters.
func (c Curve) Score(d Discrepancy) float64 {
	if d.Missing {
		return 0
	}
	switch c.Kind {
	case Rational:
		return 1 / (1 + c.Steepness*math.Pow(d.Distance, c.Power))
	default:
		return math.Exp(-c.Steepness * d.Distance)
	}
}

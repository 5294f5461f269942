package equations

import (
	"fmt"
	"math"

	"github.com/orrerynet/orrery/shared"
)

// param reads a named scalar from the snapshot. A missing or
// non-finite parameter is an input outside the model's domain.
func param(snap shared.ObservationSnapshot, name string) (float64, error) {
	value, ok := snap.Params[name]
	if !ok {
		return 0, fmt.Errorf("%w: missing snapshot parameter %q", shared.ErrNumericDivergence, name)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: non-finite snapshot parameter %q", shared.ErrNumericDivergence, name)
	}
	return value, nil
}

// positiveParam is param restricted to values > 0.
func positiveParam(snap shared.ObservationSnapshot, name string) (float64, error) {
	value, err := param(snap, name)
	if err != nil {
		return 0, err
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: parameter %q must be positive, got %v", shared.ErrNumericDivergence, name, value)
	}
	return value, nil
}

type vec3 struct {
	x, y, z float64
}

func (v vec3) add(o vec3) vec3 {
	return vec3{v.x + o.x, v.y + o.y, v.z + o.z}
}

func (v vec3) scale(s float64) vec3 {
	return vec3{v.x * s, v.y * s, v.z * s}
}

func (v vec3) dot(o vec3) float64 {
	return v.x*o.x + v.y*o.y + v.z*o.z
}

func (v vec3) norm() float64 {
	return math.Sqrt(v.dot(v))
}

// paramVec3 reads a 3-component vector from named scalar parameters.
func paramVec3(snap shared.ObservationSnapshot, xName, yName, zName string) (vec3, error) {
	x, err := param(snap, xName)
	if err != nil {
		return vec3{}, err
	}
	y, err := param(snap, yName)
	if err != nil {
		return vec3{}, err
	}
	z, err := param(snap, zName)
	if err != nil {
		return vec3{}, err
	}
	return vec3{x, y, z}, nil
}

// newtonSolve finds a root of f starting at x0. The derivative must
// not vanish near the root.
func newtonSolve(f, fPrime func(float64) float64, x0, tolerance float64, maxIterations int) (float64, error) {
	x := x0
	for i := 0; i < maxIterations; i++ {
		fx := f(x)
		if math.Abs(fx) < tolerance {
			return x, nil
		}
		derivative := fPrime(x)
		if derivative == 0 || math.IsNaN(derivative) {
			return 0, fmt.Errorf("%w: vanishing derivative at %v", shared.ErrNumericDivergence, x)
		}
		x -= fx / derivative
	}
	return 0, fmt.Errorf("%w: no convergence after %d iterations", shared.ErrNumericDivergence, maxIterations)
}

// simpson integrates f over [a, b] with composite Simpson's rule.
// steps must be even and positive; the registry tuning guarantees it.
func simpson(f func(float64) float64, a, b float64, steps int) float64 {
	h := (b - a) / float64(steps)
	sum := f(a) + f(b)
	for i := 1; i < steps; i++ {
		x := a + float64(i)*h
		if i%2 == 1 {
			sum += 4 * f(x)
		} else {
			sum += 2 * f(x)
		}
	}
	return sum * h / 3
}

// interpolate evaluates a tabulated series at x by linear
// interpolation. The xs must be strictly ascending; an x outside the
// tabulated range is out of the model's domain.
func interpolate(xs, ys []float64, x float64) (float64, error) {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0, fmt.Errorf("%w: interpolation table needs at least 2 matched points", shared.ErrNumericDivergence)
	}
	for i := 1; i < len(xs); i++ {
		if xs[i] <= xs[i-1] {
			return 0, fmt.Errorf("%w: interpolation table not strictly ascending", shared.ErrNumericDivergence)
		}
	}
	if x < xs[0] || x > xs[len(xs)-1] {
		return 0, fmt.Errorf(
			"%w: %v outside tabulated range [%v, %v]",
			shared.ErrNumericDivergence, x, xs[0], xs[len(xs)-1],
		)
	}
	for i := 1; i < len(xs); i++ {
		if x <= xs[i] {
			t := (x - xs[i-1]) / (xs[i] - xs[i-1])
			return ys[i-1] + t*(ys[i]-ys[i-1]), nil
		}
	}
	return ys[len(ys)-1], nil
}

// Stumpff functions of the universal-variables Kepler formulation.
func stumpffC(z float64) float64 {
	switch {
	case z > 1e-8:
		return (1 - math.Cos(math.Sqrt(z))) / z
	case z < -1e-8:
		return (math.Cosh(math.Sqrt(-z)) - 1) / -z
	default:
		return 1.0 / 2
	}
}

func stumpffS(z float64) float64 {
	switch {
	case z > 1e-8:
		sq := math.Sqrt(z)
		return (sq - math.Sin(sq)) / (sq * sq * sq)
	case z < -1e-8:
		sq := math.Sqrt(-z)
		return (math.Sinh(sq) - sq) / (sq * sq * sq)
	default:
		return 1.0 / 6
	}
}

// countPeaks counts strict local maxima at or above the threshold.
func countPeaks(series []float64, threshold float64) int {
	count := 0
	for i := 1; i < len(series)-1; i++ {
		if series[i] > series[i-1] && series[i] > series[i+1] && series[i] >= threshold {
			count++
		}
	}
	return count
}

func maxAbs(series []float64) float64 {
	peak := 0.0
	for _, v := range series {
		if abs := math.Abs(v); abs > peak {
			peak = abs
		}
	}
	return peak
}

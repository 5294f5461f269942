package equations

import (
	"fmt"
	"math"

	"github.com/orrerynet/orrery/shared"
)

// trajectoryModel propagates a small body around a central mass with
// the universal-variables Kepler formulation and returns the predicted
// position [x, y, z] in km after the snapshot's horizon.
func trajectoryModel(tuning Tuning) Model {
	return func(snap shared.ObservationSnapshot) (shared.CorrectValue, error) {
		positionKm, err := paramVec3(snap, "position_x_km", "position_y_km", "position_z_km")
		if err != nil {
			return nil, err
		}
		velocityKmS, err := paramVec3(snap, "velocity_x_km_s", "velocity_y_km_s", "velocity_z_km_s")
		if err != nil {
			return nil, err
		}
		centralMass, err := positiveParam(snap, "central_mass_kg")
		if err != nil {
			return nil, err
		}
		horizon, err := positiveParam(snap, "horizon_s")
		if err != nil {
			return nil, err
		}

		r0 := positionKm.scale(1e3)
		v0 := velocityKmS.scale(1e3)
		mu := GravitationalConstant * centralMass

		r1, err := propagateUniversal(r0, v0, mu, horizon, tuning)
		if err != nil {
			return nil, err
		}
		return shared.CorrectValue{r1.x / 1e3, r1.y / 1e3, r1.z / 1e3}, nil
	}
}

// propagateUniversal advances a two-body state by dt seconds. It
// solves the universal Kepler equation for the universal anomaly with
// Newton's method and maps the state forward with the Lagrange f and g
// coefficients. Orbits at or above the eccentricity bound are outside
// the model's domain.
func propagateUniversal(r0, v0 vec3, mu, dt float64, tuning Tuning) (vec3, error) {
	rNorm := r0.norm()
	if rNorm == 0 {
		return vec3{}, fmt.Errorf("%w: degenerate initial position", shared.ErrNumericDivergence)
	}
	vSquared := v0.dot(v0)

	eccVector := r0.scale(vSquared - mu/rNorm).add(v0.scale(-r0.dot(v0))).scale(1 / mu)
	if ecc := eccVector.norm(); ecc >= tuning.MaxEccentricity {
		return vec3{}, fmt.Errorf(
			"%w: eccentricity %.4f at or above bound %.4f",
			shared.ErrNumericDivergence, ecc, tuning.MaxEccentricity,
		)
	}

	// Reciprocal semi-major axis; positive for the elliptic orbits
	// admitted by the eccentricity bound.
	alpha := 2/rNorm - vSquared/mu
	radialSpeed := r0.dot(v0) / rNorm
	sqrtMu := math.Sqrt(mu)

	kepler := func(chi float64) float64 {
		z := alpha * chi * chi
		return rNorm*radialSpeed/sqrtMu*chi*chi*stumpffC(z) +
			(1-alpha*rNorm)*chi*chi*chi*stumpffS(z) +
			rNorm*chi - sqrtMu*dt
	}
	keplerPrime := func(chi float64) float64 {
		z := alpha * chi * chi
		return rNorm*radialSpeed/sqrtMu*chi*(1-z*stumpffS(z)) +
			(1-alpha*rNorm)*chi*chi*stumpffC(z) +
			rNorm
	}

	initialGuess := sqrtMu * math.Abs(alpha) * dt
	chi, err := newtonSolve(kepler, keplerPrime, initialGuess, tuning.SolverTolerance, tuning.SolverIterations)
	if err != nil {
		return vec3{}, fmt.Errorf("solving universal anomaly: %w", err)
	}

	z := alpha * chi * chi
	f := 1 - chi*chi/rNorm*stumpffC(z)
	g := dt - chi*chi*chi/sqrtMu*stumpffS(z)
	return r0.scale(f).add(v0.scale(g)), nil
}

// Package equations provides the library of closed-form physical
// models used to derive authoritative correct values, one model per
// prediction domain. Models are pure and deterministic: the same
// snapshot always yields the same vector, and inputs outside a model's
// valid domain yield an explicit numeric-divergence error instead of
// garbage.
package equations

import (
	"fmt"
	"math"

	"github.com/orrerynet/orrery/shared"
)

// Model computes the authoritative output vector for one task
// instance from an observation snapshot. No side effects.
type Model func(snap shared.ObservationSnapshot) (shared.CorrectValue, error)

// Registry maps domains to their models.
type Registry map[shared.Domain]Model

// Tuning holds the numeric knobs shared by the models. A registry is
// built once at startup from an immutable Tuning; models never read
// process-wide mutable state.
type Tuning struct {
	// MaxEccentricity bounds trajectory propagation away from
	// hyperbolic orbits.
	MaxEccentricity float64
	// SolverTolerance and SolverIterations bound the Newton root
	// searches.
	SolverTolerance  float64
	SolverIterations int
	// IntegrationSteps is the (even) subdivision count for numeric
	// integrals.
	IntegrationSteps int
	// PeakSignificance is the fraction of a series' maximum a local
	// maximum must reach to count as a detected peak.
	PeakSignificance float64
}

func DefaultTuning() Tuning {
	return Tuning{
		MaxEccentricity:  0.95,
		SolverTolerance:  1e-8,
		SolverIterations: 64,
		IntegrationSteps: 512,
		PeakSignificance: 0.5,
	}
}

func (t Tuning) validate() error {
	if t.MaxEccentricity <= 0 || t.MaxEccentricity >= 1 {
		return fmt.Errorf("%w: max eccentricity must be in (0, 1), got %v", shared.ErrInvalidConfiguration, t.MaxEccentricity)
	}
	if t.SolverTolerance <= 0 {
		return fmt.Errorf("%w: solver tolerance must be positive, got %v", shared.ErrInvalidConfiguration, t.SolverTolerance)
	}
	if t.SolverIterations <= 0 {
		return fmt.Errorf("%w: solver iterations must be positive, got %d", shared.ErrInvalidConfiguration, t.SolverIterations)
	}
	if t.IntegrationSteps <= 0 || t.IntegrationSteps%2 != 0 {
		return fmt.Errorf("%w: integration steps must be even and positive, got %d", shared.ErrInvalidConfiguration, t.IntegrationSteps)
	}
	if t.PeakSignificance <= 0 || t.PeakSignificance > 1 {
		return fmt.Errorf("%w: peak significance must be in (0, 1], got %v", shared.ErrInvalidConfiguration, t.PeakSignificance)
	}
	return nil
}

// New builds the registry of all known domain models from the given
// tuning.
func New(tuning Tuning) (Registry, error) {
	if err := tuning.validate(); err != nil {
		return nil, err
	}
	return Registry{
		shared.Trajectory:        total(trajectoryModel(tuning)),
		shared.GravitationalWave: total(gravitationalWaveModel(tuning)),
		shared.DarkMatter:        total(darkMatterModel(tuning)),
		shared.Exoplanet:         total(exoplanetModel(tuning)),
		shared.StellarEvolution:  total(stellarEvolutionModel(tuning)),
		shared.CMB:               total(cmbModel(tuning)),
	}, nil
}

// Default builds the registry with the default tuning.
func Default() Registry {
	registry, err := New(DefaultTuning())
	if err != nil {
		panic(err)
	}
	return registry
}

// total wraps a model so that a non-finite output component is
// reported as divergence rather than propagated into scoring.
func total(model Model) Model {
	return func(snap shared.ObservationSnapshot) (shared.CorrectValue, error) {
		values, err := model(snap)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%w: non-finite output component %d", shared.ErrNumericDivergence, i)
			}
		}
		return values, nil
	}
}

package equations

import (
	"math"

	"github.com/orrerynet/orrery/shared"
)

// darkMatterModel evaluates an NFW halo at a probe radius and derives
// the point-lens deflection at an impact parameter. Output:
// [density_kg_m3, enclosed_mass_msun, rotation_velocity_km_s,
// deflection_arcsec].
func darkMatterModel(tuning Tuning) Model {
	return func(snap shared.ObservationSnapshot) (shared.CorrectValue, error) {
		scaleDensity, err := positiveParam(snap, "scale_density_kg_m3")
		if err != nil {
			return nil, err
		}
		scaleRadiusKpc, err := positiveParam(snap, "scale_radius_kpc")
		if err != nil {
			return nil, err
		}
		probeRadiusKpc, err := positiveParam(snap, "probe_radius_kpc")
		if err != nil {
			return nil, err
		}
		impactKpc, err := positiveParam(snap, "impact_parameter_kpc")
		if err != nil {
			return nil, err
		}

		scaleRadius := scaleRadiusKpc * Kiloparsec
		probeRadius := probeRadiusKpc * Kiloparsec
		impact := impactKpc * Kiloparsec

		x := probeRadius / scaleRadius
		density := scaleDensity / (x * (1 + x) * (1 + x))

		enclosedMass := nfwEnclosedMass(scaleDensity, scaleRadius, probeRadius)
		rotationVelocity := math.Sqrt(GravitationalConstant * enclosedMass / probeRadius)

		// Deflection by the mass enclosed within the impact parameter,
		// treated as a point lens.
		lensMass := nfwEnclosedMass(scaleDensity, scaleRadius, impact)
		deflection := 4 * GravitationalConstant * lensMass / (SpeedOfLight * SpeedOfLight * impact)

		return shared.CorrectValue{
			density,
			enclosedMass / SolarMass,
			rotationVelocity / 1e3,
			deflection * arcsecPerRadian,
		}, nil
	}
}

// nfwEnclosedMass is the analytic NFW mass profile out to radius r.
func nfwEnclosedMass(scaleDensity, scaleRadius, r float64) float64 {
	x := r / scaleRadius
	return 4 * math.Pi * scaleDensity * math.Pow(scaleRadius, 3) * (math.Log(1+x) - x/(1+x))
}

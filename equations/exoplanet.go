package equations

import (
	"fmt"
	"math"

	"github.com/orrerynet/orrery/shared"
)

// exoplanetModel derives the observable transit and radial-velocity
// signature of a transiting planet. Output: [transit_depth,
// transit_duration_hours, rv_amplitude_m_s, equilibrium_temp_k].
func exoplanetModel(tuning Tuning) Model {
	return func(snap shared.ObservationSnapshot) (shared.CorrectValue, error) {
		starMass, err := positiveParam(snap, "star_mass_msun")
		if err != nil {
			return nil, err
		}
		starRadiusRsun, err := positiveParam(snap, "star_radius_rsun")
		if err != nil {
			return nil, err
		}
		planetMass, err := positiveParam(snap, "planet_mass_mearth")
		if err != nil {
			return nil, err
		}
		planetRadiusRearth, err := positiveParam(snap, "planet_radius_rearth")
		if err != nil {
			return nil, err
		}
		periodDays, err := positiveParam(snap, "period_days")
		if err != nil {
			return nil, err
		}
		teff, err := positiveParam(snap, "star_teff_k")
		if err != nil {
			return nil, err
		}
		impact, err := param(snap, "impact_parameter")
		if err != nil {
			return nil, err
		}
		albedo, err := param(snap, "albedo")
		if err != nil {
			return nil, err
		}
		eccentricity, err := param(snap, "eccentricity")
		if err != nil {
			return nil, err
		}

		if impact < 0 {
			return nil, fmt.Errorf("%w: negative impact parameter %v", shared.ErrNumericDivergence, impact)
		}
		if albedo < 0 || albedo >= 1 {
			return nil, fmt.Errorf("%w: albedo %v outside [0, 1)", shared.ErrNumericDivergence, albedo)
		}
		if eccentricity < 0 || eccentricity >= 1 {
			return nil, fmt.Errorf("%w: unbound orbit, eccentricity %v", shared.ErrNumericDivergence, eccentricity)
		}

		mStar := starMass * SolarMass
		rStar := starRadiusRsun * SolarRadius
		mPlanet := planetMass * EarthMass
		rPlanet := planetRadiusRearth * EarthRadius
		period := periodDays * secondsPerDay

		// Kepler's third law.
		semiMajor := math.Cbrt(GravitationalConstant * (mStar + mPlanet) * period * period / (4 * math.Pi * math.Pi))
		if semiMajor <= rStar {
			return nil, fmt.Errorf("%w: orbit inside the star", shared.ErrNumericDivergence)
		}

		depth := (rPlanet / rStar) * (rPlanet / rStar)

		// Total transit duration across the chord set by the impact
		// parameter.
		chord := (rStar+rPlanet)*(rStar+rPlanet) - (impact*rStar)*(impact*rStar)
		if chord <= 0 {
			return nil, fmt.Errorf("%w: no transit at impact parameter %v", shared.ErrNumericDivergence, impact)
		}
		sinArg := math.Sqrt(chord) / semiMajor
		cosInclination := impact * rStar / semiMajor
		if sinArg > 1 || cosInclination >= 1 {
			return nil, fmt.Errorf("%w: degenerate transit geometry", shared.ErrNumericDivergence)
		}
		duration := period / math.Pi * math.Asin(sinArg) / secondsPerHour

		sinInclination := math.Sqrt(1 - cosInclination*cosInclination)
		rvAmplitude := math.Cbrt(2*math.Pi*GravitationalConstant/period) * mPlanet * sinInclination /
			(math.Pow(mStar+mPlanet, 2.0/3) * math.Sqrt(1-eccentricity*eccentricity))

		equilibriumTemp := teff * math.Sqrt(rStar/(2*semiMajor)) * math.Pow(1-albedo, 0.25)

		return shared.CorrectValue{depth, duration, rvAmplitude, equilibriumTemp}, nil
	}
}

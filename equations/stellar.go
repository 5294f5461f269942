package equations

import (
	"fmt"
	"math"

	"github.com/orrerynet/orrery/shared"
)

// Progenitor mass window of the white-dwarf relations, solar masses.
// Below the hydrogen-burning limit there is no main sequence; above
// the upper bound the star ends in core collapse instead of a white
// dwarf.
const (
	minProgenitorMass = 0.08
	maxProgenitorMass = 8.0
)

// stellarEvolutionModel derives stage properties of a single star
// from its initial mass and age. Luminosity comes from the snapshot's
// isochrone series when supplied, otherwise from the main-sequence
// mass-luminosity law. Output: [luminosity_lsun, ms_lifetime_gyr,
// wd_radius_km, final_core_mass_msun].
func stellarEvolutionModel(tuning Tuning) Model {
	return func(snap shared.ObservationSnapshot) (shared.CorrectValue, error) {
		mass, err := positiveParam(snap, "initial_mass_msun")
		if err != nil {
			return nil, err
		}
		age, err := param(snap, "age_gyr")
		if err != nil {
			return nil, err
		}
		if mass < minProgenitorMass || mass > maxProgenitorMass {
			return nil, fmt.Errorf(
				"%w: mass %v outside the white-dwarf progenitor window [%v, %v]",
				shared.ErrNumericDivergence, mass, minProgenitorMass, maxProgenitorMass,
			)
		}

		ages := snap.Series["isochrone_age_gyr"]
		luminosities := snap.Series["isochrone_luminosity_lsun"]
		var luminosity float64
		if len(ages) > 0 || len(luminosities) > 0 {
			luminosity, err = interpolate(ages, luminosities, age)
			if err != nil {
				return nil, err
			}
		} else {
			luminosity = math.Pow(mass, 3.5)
		}

		// Nuclear timescale, t proportional to M/L.
		lifetime := 10 * math.Pow(mass, -2.5)

		// Initial-final mass relation for the degenerate remnant.
		coreMass := 0.109*mass + 0.394

		// Polytrope mass-radius relation for the white dwarf.
		wdRadius := 0.0126 * SolarRadius * math.Pow(coreMass, -1.0/3) / 1e3

		return shared.CorrectValue{luminosity, lifetime, wdRadius, coreMass}, nil
	}
}

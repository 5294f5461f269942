package equations

import (
	"math"

	"github.com/orrerynet/orrery/shared"
)

// gravitationalWaveModel characterizes a compact-binary inspiral from
// the component masses, the luminosity distance and the observed wave
// frequency. Output: [strain_amplitude, peak_frequency_hz,
// chirp_mass_msun, detected_peaks].
func gravitationalWaveModel(tuning Tuning) Model {
	return func(snap shared.ObservationSnapshot) (shared.CorrectValue, error) {
		mass1, err := positiveParam(snap, "mass_1_msun")
		if err != nil {
			return nil, err
		}
		mass2, err := positiveParam(snap, "mass_2_msun")
		if err != nil {
			return nil, err
		}
		distanceMpc, err := positiveParam(snap, "distance_mpc")
		if err != nil {
			return nil, err
		}
		frequency, err := positiveParam(snap, "wave_frequency_hz")
		if err != nil {
			return nil, err
		}

		m1 := mass1 * SolarMass
		m2 := mass2 * SolarMass
		totalMass := m1 + m2
		chirpMass := math.Pow(m1*m2, 3.0/5) / math.Pow(totalMass, 1.0/5)

		// Quadrupole strain of a circular binary observed face-on.
		distance := distanceMpc * Megaparsec
		strain := 4 / distance *
			math.Pow(GravitationalConstant*chirpMass/(SpeedOfLight*SpeedOfLight), 5.0/3) *
			math.Pow(math.Pi*frequency/SpeedOfLight, 2.0/3)

		// The inspiral sweeps up to the wave frequency at the
		// innermost stable circular orbit of the total mass.
		peakFrequency := math.Pow(SpeedOfLight, 3) /
			(6 * math.Sqrt(6) * math.Pi * GravitationalConstant * totalMass)

		strainSeries := snap.Series["strain"]
		peaks := countPeaks(strainSeries, tuning.PeakSignificance*maxAbs(strainSeries))

		return shared.CorrectValue{strain, peakFrequency, chirpMass / SolarMass, float64(peaks)}, nil
	}
}

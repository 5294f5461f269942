package equations

import (
	"math"

	"github.com/orrerynet/orrery/shared"
)

// cmbModel evaluates the flat-LCDM acoustic scale: the comoving
// distance and baryon-loaded sound horizon to recombination by
// Simpson integration in scale factor, the angular diameter distance,
// the first acoustic peak multipole and the Sachs-Wolfe plateau power
// of a scale-invariant spectrum. Output: [sound_horizon_mpc,
// angular_diameter_distance_mpc, first_peak_multipole,
// sachs_wolfe_plateau_uk2].
func cmbModel(tuning Tuning) Model {
	return func(snap shared.ObservationSnapshot) (shared.CorrectValue, error) {
		hubble, err := positiveParam(snap, "hubble_km_s_mpc")
		if err != nil {
			return nil, err
		}
		omegaMatter, err := positiveParam(snap, "omega_matter")
		if err != nil {
			return nil, err
		}
		omegaRadiation, err := positiveParam(snap, "omega_radiation")
		if err != nil {
			return nil, err
		}
		omegaBaryon, err := positiveParam(snap, "omega_baryon")
		if err != nil {
			return nil, err
		}
		zRecombination, err := positiveParam(snap, "recombination_redshift")
		if err != nil {
			return nil, err
		}
		temperature, err := positiveParam(snap, "cmb_temp_k")
		if err != nil {
			return nil, err
		}
		amplitude, err := positiveParam(snap, "scalar_amplitude_1e9")
		if err != nil {
			return nil, err
		}

		hubbleSI := hubble * 1e3 / Megaparsec
		omegaLambda := 1 - omegaMatter - omegaRadiation
		aRecombination := 1 / (1 + zRecombination)

		// d(eta)/da = 1/(a^2 H(a)); the radiation term keeps the
		// integrand finite down to a = 0.
		conformal := func(a float64) float64 {
			return 1 / (hubbleSI * math.Sqrt(omegaRadiation+omegaMatter*a+omegaLambda*a*a*a*a))
		}
		comoving := SpeedOfLight * simpson(conformal, aRecombination, 1, tuning.IntegrationSteps)

		soundSpeed := func(a float64) float64 {
			loading := 3 * omegaBaryon * a / (4 * omegaRadiation)
			return conformal(a) / math.Sqrt(3*(1+loading))
		}
		soundHorizon := SpeedOfLight * simpson(soundSpeed, 0, aRecombination, tuning.IntegrationSteps)

		angularDiameter := comoving * aRecombination
		firstPeak := math.Pi * comoving / soundHorizon

		microKelvin := temperature * 1e6
		plateau := microKelvin * microKelvin * amplitude * 1e-9 / 25

		return shared.CorrectValue{
			soundHorizon / Megaparsec,
			angularDiameter / Megaparsec,
			firstPeak,
			plateau,
		}, nil
	}
}

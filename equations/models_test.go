package equations_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orrerynet/orrery/equations"
	"github.com/orrerynet/orrery/shared"
)

func snapshot(domain shared.Domain, params map[string]float64) shared.ObservationSnapshot {
	return shared.ObservationSnapshot{Domain: domain, Params: params}
}

func TestRegistryCoversAllDomains(t *testing.T) {
	t.Parallel()

	registry := equations.Default()
	for _, domain := range shared.Domains() {
		require.Contains(t, registry, domain)
	}
}

func TestNewRejectsInvalidTuning(t *testing.T) {
	t.Parallel()

	t.Run("eccentricity bound", func(t *testing.T) {
		tuning := equations.DefaultTuning()
		tuning.MaxEccentricity = 1.5
		_, err := equations.New(tuning)
		require.ErrorIs(t, err, shared.ErrInvalidConfiguration)
	})
	t.Run("odd integration steps", func(t *testing.T) {
		tuning := equations.DefaultTuning()
		tuning.IntegrationSteps = 511
		_, err := equations.New(tuning)
		require.ErrorIs(t, err, shared.ErrInvalidConfiguration)
	})
}

func circularOrbit(radiusKm, massKg float64) map[string]float64 {
	speedKmS := math.Sqrt(equations.GravitationalConstant*massKg/(radiusKm*1e3)) / 1e3
	return map[string]float64{
		"position_x_km":   radiusKm,
		"position_y_km":   0,
		"position_z_km":   0,
		"velocity_x_km_s": 0,
		"velocity_y_km_s": speedKmS,
		"velocity_z_km_s": 0,
		"central_mass_kg": massKg,
		"horizon_s":       0,
	}
}

func TestTrajectoryQuarterOrbit(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.Trajectory]

	const (
		massKg   = 5.9722e24
		radiusKm = 7000.0
	)
	params := circularOrbit(radiusKm, massKg)
	period := 2 * math.Pi * radiusKm / params["velocity_y_km_s"]
	params["horizon_s"] = period / 4

	values, err := model(snapshot(shared.Trajectory, params))
	require.NoError(t, err)
	require.Len(t, values, 3)
	require.InDelta(t, 0, values[0], 1.0)
	require.InDelta(t, radiusKm, values[1], 1.0)
	require.InDelta(t, 0, values[2], 1e-9)
}

func TestTrajectoryDeterministic(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.Trajectory]

	params := circularOrbit(9000, 5.9722e24)
	params["horizon_s"] = 12345
	snap := snapshot(shared.Trajectory, params)

	first, err := model(snap)
	require.NoError(t, err)
	second, err := model(snap)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestTrajectoryDivergence(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.Trajectory]

	t.Run("hyperbolic orbit", func(t *testing.T) {
		params := circularOrbit(7000, 5.9722e24)
		params["velocity_y_km_s"] *= 2
		params["horizon_s"] = 600
		_, err := model(snapshot(shared.Trajectory, params))
		require.ErrorIs(t, err, shared.ErrNumericDivergence)
	})
	t.Run("negative central mass", func(t *testing.T) {
		params := circularOrbit(7000, 5.9722e24)
		params["central_mass_kg"] = -1e24
		params["horizon_s"] = 600
		_, err := model(snapshot(shared.Trajectory, params))
		require.ErrorIs(t, err, shared.ErrNumericDivergence)
	})
	t.Run("missing parameter", func(t *testing.T) {
		_, err := model(snapshot(shared.Trajectory, map[string]float64{}))
		require.ErrorIs(t, err, shared.ErrNumericDivergence)
	})
}

func TestGravitationalWaveInspiral(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.GravitationalWave]

	snap := snapshot(shared.GravitationalWave, map[string]float64{
		"mass_1_msun":       30,
		"mass_2_msun":       30,
		"distance_mpc":      400,
		"wave_frequency_hz": 100,
	})
	snap.Series = map[string][]float64{"strain": {0, 1, 0, 0.9, 0, 0.2, 0}}

	values, err := model(snap)
	require.NoError(t, err)
	require.Len(t, values, 4)
	// Strain of a stellar-mass binary at hundreds of Mpc.
	require.Greater(t, values[0], 1e-24)
	require.Less(t, values[0], 1e-18)
	// ISCO cutoff for a 60 Msun system.
	require.Greater(t, values[1], 60.0)
	require.Less(t, values[1], 90.0)
	// Equal masses: chirp mass = m / 2^(1/5).
	require.InEpsilon(t, 30/math.Pow(2, 0.2), values[2], 1e-12)
	require.Equal(t, 2.0, values[3])
}

func TestGravitationalWaveDivergence(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.GravitationalWave]

	_, err := model(snapshot(shared.GravitationalWave, map[string]float64{
		"mass_1_msun":       -5,
		"mass_2_msun":       30,
		"distance_mpc":      400,
		"wave_frequency_hz": 100,
	}))
	require.ErrorIs(t, err, shared.ErrNumericDivergence)
}

func TestDarkMatterProfile(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.DarkMatter]

	params := map[string]float64{
		"scale_density_kg_m3":  7e-22,
		"scale_radius_kpc":     20,
		"probe_radius_kpc":     20,
		"impact_parameter_kpc": 10,
	}
	values, err := model(snapshot(shared.DarkMatter, params))
	require.NoError(t, err)
	require.Len(t, values, 4)
	// Density at the scale radius is rho_s / 4 exactly.
	require.InEpsilon(t, 7e-22/4, values[0], 1e-12)
	for i, v := range values {
		require.Greater(t, v, 0.0, "component %d", i)
	}

	// Farther out: less dense, more enclosed mass.
	params["probe_radius_kpc"] = 40
	farther, err := model(snapshot(shared.DarkMatter, params))
	require.NoError(t, err)
	require.Less(t, farther[0], values[0])
	require.Greater(t, farther[1], values[1])
}

func TestExoplanetTransit(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.Exoplanet]

	params := map[string]float64{
		"star_mass_msun":       1,
		"star_radius_rsun":     1,
		"planet_mass_mearth":   317.8,
		"planet_radius_rearth": 11.2,
		"period_days":          3.5,
		"impact_parameter":     0,
		"albedo":               0.3,
		"eccentricity":         0,
		"star_teff_k":          5778,
	}
	values, err := model(snapshot(shared.Exoplanet, params))
	require.NoError(t, err)
	require.Len(t, values, 4)
	// Depth is exactly (Rp/Rs)^2.
	depth := math.Pow(11.2*equations.EarthRadius/equations.SolarRadius, 2)
	require.InEpsilon(t, depth, values[0], 1e-12)
	// Hot-Jupiter ballpark: a few hours, a hundred-odd m/s, over 1000 K.
	require.Greater(t, values[1], 2.0)
	require.Less(t, values[1], 4.0)
	require.Greater(t, values[2], 100.0)
	require.Less(t, values[2], 200.0)
	require.Greater(t, values[3], 1000.0)
	require.Less(t, values[3], 1500.0)
}

func TestExoplanetDivergence(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.Exoplanet]

	base := func() map[string]float64 {
		return map[string]float64{
			"star_mass_msun":       1,
			"star_radius_rsun":     1,
			"planet_mass_mearth":   317.8,
			"planet_radius_rearth": 11.2,
			"period_days":          3.5,
			"impact_parameter":     0,
			"albedo":               0.3,
			"eccentricity":         0,
			"star_teff_k":          5778,
		}
	}

	t.Run("no transit", func(t *testing.T) {
		params := base()
		params["impact_parameter"] = 5
		_, err := model(snapshot(shared.Exoplanet, params))
		require.ErrorIs(t, err, shared.ErrNumericDivergence)
	})
	t.Run("unbound orbit", func(t *testing.T) {
		params := base()
		params["eccentricity"] = 1.2
		_, err := model(snapshot(shared.Exoplanet, params))
		require.ErrorIs(t, err, shared.ErrNumericDivergence)
	})
	t.Run("orbit inside the star", func(t *testing.T) {
		params := base()
		params["period_days"] = 1e-4
		_, err := model(snapshot(shared.Exoplanet, params))
		require.ErrorIs(t, err, shared.ErrNumericDivergence)
	})
}

func TestStellarEvolutionStages(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.StellarEvolution]

	values, err := model(snapshot(shared.StellarEvolution, map[string]float64{
		"initial_mass_msun": 3,
		"age_gyr":           0.2,
	}))
	require.NoError(t, err)
	require.Len(t, values, 4)
	require.InEpsilon(t, math.Pow(3, 3.5), values[0], 1e-12)
	require.InEpsilon(t, 10*math.Pow(3, -2.5), values[1], 1e-12)
	// White dwarfs are Earth-sized.
	require.Greater(t, values[2], 5000.0)
	require.Less(t, values[2], 15000.0)
	require.InEpsilon(t, 0.109*3+0.394, values[3], 1e-12)
}

func TestStellarEvolutionIsochrone(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.StellarEvolution]

	snap := snapshot(shared.StellarEvolution, map[string]float64{
		"initial_mass_msun": 1,
		"age_gyr":           7.5,
	})
	snap.Series = map[string][]float64{
		"isochrone_age_gyr":         {0, 5, 10},
		"isochrone_luminosity_lsun": {1, 2, 3},
	}

	values, err := model(snap)
	require.NoError(t, err)
	require.InDelta(t, 2.5, values[0], 1e-12)

	snap.Params["age_gyr"] = 12
	_, err = model(snap)
	require.ErrorIs(t, err, shared.ErrNumericDivergence)
}

func TestStellarEvolutionMassWindow(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.StellarEvolution]

	for _, mass := range []float64{0.05, 10} {
		_, err := model(snapshot(shared.StellarEvolution, map[string]float64{
			"initial_mass_msun": mass,
			"age_gyr":           1,
		}))
		require.ErrorIs(t, err, shared.ErrNumericDivergence)
	}
}

func cmbParams() map[string]float64 {
	return map[string]float64{
		"hubble_km_s_mpc":        67.4,
		"omega_matter":           0.315,
		"omega_radiation":        9.1e-5,
		"omega_baryon":           0.049,
		"recombination_redshift": 1089,
		"cmb_temp_k":             2.725,
		"scalar_amplitude_1e9":   2.1,
	}
}

func TestCMBAcousticScale(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.CMB]

	values, err := model(snapshot(shared.CMB, cmbParams()))
	require.NoError(t, err)
	require.Len(t, values, 4)
	// Observed ballparks: r_s ~ 145 Mpc, first peak between the
	// Sachs-Wolfe plateau and the damping tail.
	require.Greater(t, values[0], 100.0)
	require.Less(t, values[0], 200.0)
	require.Greater(t, values[1], 0.0)
	require.Greater(t, values[2], 150.0)
	require.Less(t, values[2], 400.0)
	require.InEpsilon(t, 2.725e6*2.725e6*2.1e-9/25, values[3], 1e-9)
}

func TestCMBDeterministic(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.CMB]

	snap := snapshot(shared.CMB, cmbParams())
	first, err := model(snap)
	require.NoError(t, err)
	second, err := model(snap)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestCMBDivergence(t *testing.T) {
	t.Parallel()
	model := equations.Default()[shared.CMB]

	params := cmbParams()
	params["omega_radiation"] = 0
	_, err := model(snapshot(shared.CMB, params))
	require.ErrorIs(t, err, shared.ErrNumericDivergence)
}

func BenchmarkTrajectory(b *testing.B) {
	model := equations.Default()[shared.Trajectory]
	params := circularOrbit(7000, 5.9722e24)
	params["horizon_s"] = 5400
	snap := snapshot(shared.Trajectory, params)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := model(snap); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkCMB(b *testing.B) {
	model := equations.Default()[shared.CMB]
	snap := snapshot(shared.CMB, cmbParams())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := model(snap); err != nil {
			b.Fatal(err)
		}
	}
}

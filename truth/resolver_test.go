package truth_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orrerynet/orrery/equations"
	"github.com/orrerynet/orrery/shared"
	"github.com/orrerynet/orrery/tasks"
	"github.com/orrerynet/orrery/truth"
)

func trajectorySnapshot() shared.ObservationSnapshot {
	return shared.ObservationSnapshot{
		Domain: shared.Trajectory,
		Params: map[string]float64{
			"position_x_km":   7000,
			"position_y_km":   0,
			"position_z_km":   0,
			"velocity_x_km_s": 0,
			"velocity_y_km_s": 7.55,
			"velocity_z_km_s": 0,
			"central_mass_kg": 5.9722e24,
			"horizon_s":       1800,
		},
	}
}

func TestResolve(t *testing.T) {
	t.Parallel()

	resolver := truth.NewResolver(equations.Default())
	trajectory, ok := tasks.Default().Get(shared.Trajectory)
	require.True(t, ok)

	values, err := resolver.Resolve(trajectory, trajectorySnapshot())
	require.NoError(t, err)
	require.Len(t, values, len(trajectory.Dimensions))

	// Identical inputs resolve identically.
	again, err := resolver.Resolve(trajectory, trajectorySnapshot())
	require.NoError(t, err)
	require.Equal(t, values, again)
}

func TestResolveUnknownDomain(t *testing.T) {
	t.Parallel()

	resolver := truth.NewResolver(equations.Registry{})
	trajectory, ok := tasks.Default().Get(shared.Trajectory)
	require.True(t, ok)

	_, err := resolver.Resolve(trajectory, trajectorySnapshot())
	require.ErrorIs(t, err, shared.ErrUnknownDomain)
}

func TestResolvePropagatesDivergence(t *testing.T) {
	t.Parallel()

	resolver := truth.NewResolver(equations.Default())
	trajectory, ok := tasks.Default().Get(shared.Trajectory)
	require.True(t, ok)

	snap := trajectorySnapshot()
	snap.Params["central_mass_kg"] = -1
	_, err := resolver.Resolve(trajectory, snap)
	require.ErrorIs(t, err, shared.ErrNumericDivergence)
	require.Equal(t, shared.KindNumericDivergence, shared.KindOf(err))
}

func TestResolveChecksDimensionality(t *testing.T) {
	t.Parallel()

	// A model that disagrees with its descriptor's shape must not
	// reach scoring.
	registry := equations.Registry{
		shared.Trajectory: func(shared.ObservationSnapshot) (shared.CorrectValue, error) {
			return shared.CorrectValue{1, 2}, nil
		},
	}
	resolver := truth.NewResolver(registry)
	trajectory, ok := tasks.Default().Get(shared.Trajectory)
	require.True(t, ok)

	_, err := resolver.Resolve(trajectory, trajectorySnapshot())
	require.ErrorIs(t, err, shared.ErrShapeMismatch)
}

func TestValidateSet(t *testing.T) {
	t.Parallel()

	require.NoError(t, truth.NewResolver(equations.Default()).ValidateSet(tasks.Default()))

	err := truth.NewResolver(equations.Registry{}).ValidateSet(tasks.Default())
	require.ErrorIs(t, err, shared.ErrUnknownDomain)
}

package rewards_test

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orrerynet/orrery/rewards"
	"github.com/orrerynet/orrery/shared"
)

func score(miner string, value float64) shared.MinerScore {
	return shared.MinerScore{Miner: shared.MinerID(miner), Score: value}
}

func missing(miner string) shared.MinerScore {
	return shared.MinerScore{Miner: shared.MinerID(miner), Missing: true}
}

func TestAllocateSuperLinear(t *testing.T) {
	t.Parallel()

	// Scores 1.0 and 0.561 with exponent 2 split the pool roughly
	// three to one; the missing miner holds an explicit zero.
	shares, err := rewards.DefaultPolicy().Allocate([]shared.MinerScore{
		score("alpha", 1.0),
		score("beta", 0.5614),
		missing("gamma"),
	})
	require.NoError(t, err)
	require.Len(t, shares, 3)
	require.InDelta(t, 0.760, shares["alpha"], 5e-3)
	require.InDelta(t, 0.240, shares["beta"], 5e-3)
	require.Zero(t, shares["gamma"])
	require.InDelta(t, 1.0, shares.Sum(), 1e-9)
}

func TestAllocateAllMissing(t *testing.T) {
	t.Parallel()

	shares, err := rewards.DefaultPolicy().Allocate([]shared.MinerScore{
		missing("alpha"),
		missing("beta"),
	})
	require.ErrorIs(t, err, rewards.ErrNoValidScores)
	require.Zero(t, shares.Sum())
}

func TestAllocateEmpty(t *testing.T) {
	t.Parallel()

	_, err := rewards.DefaultPolicy().Allocate(nil)
	require.ErrorIs(t, err, rewards.ErrNoValidScores)
}

func TestAllocateTiesShareEqually(t *testing.T) {
	t.Parallel()

	shares, err := rewards.DefaultPolicy().Allocate([]shared.MinerScore{
		score("alpha", 0.8),
		score("beta", 0.8),
		score("gamma", 0.4),
	})
	require.NoError(t, err)
	require.Equal(t, shares["alpha"], shares["beta"])
	require.Greater(t, shares["alpha"], shares["gamma"])
	require.InDelta(t, 1.0, shares.Sum(), 1e-9)
}

func TestAllocateMonotonic(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		a := rng.Float64()
		b := rng.Float64()
		if a < b {
			a, b = b, a
		}
		shares, err := rewards.DefaultPolicy().Allocate([]shared.MinerScore{
			score("high", a),
			score("low", b),
			score("noise", rng.Float64()),
		})
		if err != nil {
			// All three scores can round to zero weight.
			require.ErrorIs(t, err, rewards.ErrNoValidScores)
			continue
		}
		require.GreaterOrEqual(t, shares["high"], shares["low"])
	}
}

func TestAllocateScoreFloor(t *testing.T) {
	t.Parallel()

	policy := rewards.DefaultPolicy()
	policy.ScoreFloor = 0.1
	shares, err := policy.Allocate([]shared.MinerScore{
		score("alpha", 0.9),
		score("dust", 0.05),
	})
	require.NoError(t, err)
	require.Zero(t, shares["dust"])
	require.InDelta(t, 1.0, shares["alpha"], 1e-9)
}

func TestAllocateShareCeiling(t *testing.T) {
	t.Parallel()

	t.Run("cap redistributes the excess", func(t *testing.T) {
		t.Parallel()
		policy := rewards.DefaultPolicy()
		policy.ShareCeiling = 0.5
		shares, err := policy.Allocate([]shared.MinerScore{
			score("alpha", 1.0),
			score("beta", 0.5),
			score("gamma", 0.5),
		})
		require.NoError(t, err)
		require.InDelta(t, 0.5, shares["alpha"], 1e-9)
		require.InDelta(t, 0.25, shares["beta"], 1e-9)
		require.InDelta(t, 0.25, shares["gamma"], 1e-9)
		require.InDelta(t, 1.0, shares.Sum(), 1e-9)
	})
	t.Run("sum beats an infeasible cap", func(t *testing.T) {
		t.Parallel()
		policy := rewards.DefaultPolicy()
		policy.ShareCeiling = 0.2
		shares, err := policy.Allocate([]shared.MinerScore{
			score("alpha", 1.0),
			score("beta", 0.9),
		})
		require.NoError(t, err)
		require.InDelta(t, 0.5, shares["alpha"], 1e-9)
		require.InDelta(t, 0.5, shares["beta"], 1e-9)
	})
}

func TestAllocateDeterministic(t *testing.T) {
	t.Parallel()

	policy := rewards.DefaultPolicy()
	policy.ShareCeiling = 0.4
	scores := []shared.MinerScore{
		score("alpha", 0.93),
		score("beta", 0.41),
		score("gamma", 0.87),
		missing("delta"),
		score("epsilon", 0.12),
	}
	reversed := make([]shared.MinerScore, len(scores))
	for i, s := range scores {
		reversed[len(scores)-1-i] = s
	}

	first, err := policy.Allocate(scores)
	require.NoError(t, err)
	second, err := policy.Allocate(reversed)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, rewards.DefaultPolicy().Validate())

	for name, policy := range map[string]rewards.Policy{
		"linear exponent":  {Exponent: 1, ShareCeiling: 1},
		"negative floor":   {Exponent: 2, ScoreFloor: -0.1, ShareCeiling: 1},
		"floor at one":     {Exponent: 2, ScoreFloor: 1, ShareCeiling: 1},
		"zero ceiling":     {Exponent: 2},
		"ceiling over one": {Exponent: 2, ShareCeiling: 1.5},
	} {
		policy := policy
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, policy.Validate(), shared.ErrInvalidConfiguration)
		})
	}
}

func BenchmarkAllocate(b *testing.B) {
	policy := rewards.Policy{Exponent: 2, ShareCeiling: 0.2}
	scores := make([]shared.MinerScore, 256)
	for i := range scores {
		scores[i] = score(fmt.Sprintf("miner-%03d", i), float64(i+1)/float64(len(scores)))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := policy.Allocate(scores); err != nil {
			b.Fatal(err)
		}
	}
}

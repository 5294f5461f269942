// Package rewards converts a round's score set into a distribution of
// the reward pool. The allocation is super-linear in score, so
// precision is rewarded disproportionately, while a floor/ceiling
// policy keeps the distribution resistant to degenerate submissions.
package rewards

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/slices"

	"github.com/orrerynet/orrery/shared"
)

// ErrNoValidScores signals the all-missing edge case: no miner earned
// a positive weight, so there is nothing to distribute.
var ErrNoValidScores = errors.New("no valid scores to allocate")

// Policy parameterizes the allocation. Exponent is the super-linear
// power applied to scores. ScoreFloor zeroes scores at or below it.
// ShareCeiling caps any single share, with the excess redistributed
// proportionally among the others.
type Policy struct {
	Exponent     float64 `yaml:"exponent"`
	ScoreFloor   float64 `yaml:"score_floor,omitempty"`
	ShareCeiling float64 `yaml:"share_ceiling"`
}

func DefaultPolicy() Policy {
	return Policy{Exponent: 2, ShareCeiling: 1}
}

func (p Policy) Validate() error {
	if p.Exponent <= 1 {
		return fmt.Errorf("%w: allocation exponent must be > 1, got %v", shared.ErrInvalidConfiguration, p.Exponent)
	}
	if p.ScoreFloor < 0 || p.ScoreFloor >= 1 {
		return fmt.Errorf("%w: score floor must be in [0, 1), got %v", shared.ErrInvalidConfiguration, p.ScoreFloor)
	}
	if p.ShareCeiling <= 0 || p.ShareCeiling > 1 {
		return fmt.Errorf("%w: share ceiling must be in (0, 1], got %v", shared.ErrInvalidConfiguration, p.ShareCeiling)
	}
	return nil
}

// Allocate distributes a pool of 1.0 across the scored miners. Every
// scored miner appears in the result; miners whose prediction was
// missing or whose score fell at or below the floor hold an explicit
// zero. Shares are non-negative and sum to 1, and a strictly higher
// score never earns a smaller share. The result is independent of the
// order of the input.
func (p Policy) Allocate(scores []shared.MinerScore) (shared.RewardDistribution, error) {
	shares := make(shared.RewardDistribution, len(scores))
	order := make([]shared.MinerID, 0, len(scores))

	for _, s := range scores {
		order = append(order, s.Miner)
		shares[s.Miner] = 0
		if s.Missing || s.Score <= p.ScoreFloor {
			continue
		}
		shares[s.Miner] = math.Pow(s.Score, p.Exponent)
	}
	slices.Sort(order)

	// Summing in sorted order keeps the result bit-identical across
	// permutations of the input.
	var total float64
	for _, id := range order {
		total += shares[id]
	}
	if total == 0 {
		return shared.RewardDistribution{}, ErrNoValidScores
	}
	for _, id := range order {
		shares[id] /= total
	}
	if p.ShareCeiling < 1 {
		applyCeiling(shares, order, p.ShareCeiling)
	}
	return shares, nil
}

// applyCeiling iteratively caps shares above the ceiling and pours
// the excess proportionally into the uncapped shares. When the cap
// cannot absorb the whole pool, keeping the total at 1 takes
// precedence and the positive shares equalize instead.
func applyCeiling(shares shared.RewardDistribution, order []shared.MinerID, ceiling float64) {
	capped := make(map[shared.MinerID]bool, len(order))
	for {
		var excess float64
		for _, id := range order {
			if !capped[id] && shares[id] > ceiling {
				excess += shares[id] - ceiling
				shares[id] = ceiling
				capped[id] = true
			}
		}
		if excess == 0 {
			return
		}

		var open float64
		for _, id := range order {
			if !capped[id] {
				open += shares[id]
			}
		}
		if open == 0 {
			var positive int
			for _, id := range order {
				if shares[id] > 0 {
					positive++
				}
			}
			for _, id := range order {
				if shares[id] > 0 {
					shares[id] = 1 / float64(positive)
				}
			}
			return
		}
		for _, id := range order {
			if !capped[id] && shares[id] > 0 {
				shares[id] += excess * shares[id] / open
			}
		}
	}
}

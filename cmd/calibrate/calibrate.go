// calibrate prints the score and reward share earned at increasing
// error levels under a task configuration, so that curve steepness and
// allocation exponents can be judged before deploying them.
package main

import (
	"fmt"
	"os"

	"github.com/orrerynet/orrery/metric"
	"github.com/orrerynet/orrery/shared"
	"github.com/orrerynet/orrery/tasks"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		os.Exit(1)
	}
	if err := run(cfg); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config) error {
	domain, err := shared.ParseDomain(cfg.Domain)
	if err != nil {
		return err
	}
	if cfg.Miners < 2 {
		return fmt.Errorf("%w: need at least 2 synthetic miners, got %d", shared.ErrInvalidConfiguration, cfg.Miners)
	}

	set := tasks.Default()
	if cfg.TaskFile != "" {
		if set, err = tasks.Load(cfg.TaskFile); err != nil {
			return err
		}
	}
	desc, ok := set.Get(domain)
	if !ok {
		return fmt.Errorf("%w: no task configured for %q", shared.ErrUnknownDomain, domain)
	}

	// A miner whose every dimension is off by noise*scale sits at
	// normalized distance exactly noise, whatever the task's scales
	// and weights are.
	scores := make([]shared.MinerScore, cfg.Miners)
	for i := range scores {
		noise := cfg.MaxNoise * float64(i) / float64(cfg.Miners-1)
		scores[i] = shared.MinerScore{
			Miner:    shared.MinerID(fmt.Sprintf("miner-%02d", i)),
			Distance: noise,
			Score:    desc.Curve.Score(metric.Discrepancy{Distance: noise}),
		}
	}

	shares, err := desc.Allocator.Allocate(scores)
	if err != nil {
		return fmt.Errorf("allocating: %w", err)
	}

	curve := desc.Curve.Kind
	if curve == metric.Rational {
		curve = fmt.Sprintf("%s (p=%v)", curve, desc.Curve.Power)
	}
	fmt.Printf(
		"domain: %s  curve: %s k=%v  allocation exponent: %v\n\n",
		desc.Domain, curve, desc.Curve.Steepness, desc.Allocator.Exponent,
	)
	fmt.Printf("%-10s %10s %10s %10s\n", "miner", "distance", "score", "share")
	for _, s := range scores {
		fmt.Printf("%-10s %10.4f %10.4f %10.4f\n", s.Miner, s.Distance, s.Score, shares[s.Miner])
	}
	return nil
}

// Package tasks holds the static per-domain scoring configuration:
// output dimensions with characteristic scales and weights, the score
// curve, the allocation policy and the share of the round pool. A set
// is loaded and validated once at startup and never mutated.
package tasks

import (
	_ "embed"
	"fmt"
	"math"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/orrerynet/orrery/metric"
	"github.com/orrerynet/orrery/rewards"
	"github.com/orrerynet/orrery/shared"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// weightEpsilon bounds the allowed drift of a task's dimension
// weights away from summing to exactly 1.
const weightEpsilon = 1e-9

// Dimension describes one component of a task's output vector. Scale
// is the characteristic magnitude that makes errors in this dimension
// comparable with the others; Weight is its share of the combined
// distance.
type Dimension struct {
	Label  string  `yaml:"label"`
	Unit   string  `yaml:"unit,omitempty"`
	Scale  float64 `yaml:"scale"`
	Weight float64 `yaml:"weight"`
}

// Descriptor is the immutable scoring configuration of one domain.
type Descriptor struct {
	Domain     shared.Domain  `yaml:"domain"`
	Disabled   bool           `yaml:"disabled,omitempty"`
	PoolWeight float64        `yaml:"pool_weight"`
	Dimensions []Dimension    `yaml:"dimensions"`
	Curve      metric.Curve   `yaml:"curve"`
	Allocator  rewards.Policy `yaml:"allocator"`
}

// Scales returns the per-dimension characteristic scales in order.
func (d *Descriptor) Scales() []float64 {
	scales := make([]float64, len(d.Dimensions))
	for i, dim := range d.Dimensions {
		scales[i] = dim.Scale
	}
	return scales
}

// Weights returns the per-dimension weights in order.
func (d *Descriptor) Weights() []float64 {
	weights := make([]float64, len(d.Dimensions))
	for i, dim := range d.Dimensions {
		weights[i] = dim.Weight
	}
	return weights
}

func (d *Descriptor) validate() error {
	var result *multierror.Error
	if _, err := shared.ParseDomain(string(d.Domain)); err != nil {
		result = multierror.Append(result, fmt.Errorf(
			"%w: unknown domain %q", shared.ErrInvalidConfiguration, d.Domain,
		))
	}
	if d.PoolWeight <= 0 {
		result = multierror.Append(result, fmt.Errorf(
			"%w: pool weight must be positive, got %v", shared.ErrInvalidConfiguration, d.PoolWeight,
		))
	}
	if len(d.Dimensions) == 0 {
		result = multierror.Append(result, fmt.Errorf("%w: no dimensions", shared.ErrInvalidConfiguration))
	}

	var weightSum float64
	for i, dim := range d.Dimensions {
		if dim.Label == "" {
			result = multierror.Append(result, fmt.Errorf(
				"%w: dimension %d has no label", shared.ErrInvalidConfiguration, i,
			))
		}
		if dim.Scale <= 0 {
			result = multierror.Append(result, fmt.Errorf(
				"%w: dimension %q scale must be strictly positive, got %v",
				shared.ErrInvalidConfiguration, dim.Label, dim.Scale,
			))
		}
		if dim.Weight < 0 {
			result = multierror.Append(result, fmt.Errorf(
				"%w: dimension %q weight must be non-negative, got %v",
				shared.ErrInvalidConfiguration, dim.Label, dim.Weight,
			))
		}
		weightSum += dim.Weight
	}
	if len(d.Dimensions) > 0 && math.Abs(weightSum-1) > weightEpsilon {
		result = multierror.Append(result, fmt.Errorf(
			"%w: dimension weights sum to %v, want 1", shared.ErrInvalidConfiguration, weightSum,
		))
	}

	if err := d.Curve.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := d.Allocator.Validate(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// Set is the full task configuration.
type Set struct {
	Tasks []Descriptor `yaml:"tasks"`
}

// Enabled returns the descriptors that participate in rounds, in
// configuration order.
func (s *Set) Enabled() []Descriptor {
	enabled := make([]Descriptor, 0, len(s.Tasks))
	for _, task := range s.Tasks {
		if !task.Disabled {
			enabled = append(enabled, task)
		}
	}
	return enabled
}

// Get looks a descriptor up by domain.
func (s *Set) Get(domain shared.Domain) (Descriptor, bool) {
	for _, task := range s.Tasks {
		if task.Domain == domain {
			return task, true
		}
	}
	return Descriptor{}, false
}

// Validate checks the whole set and reports every violation at once.
func (s *Set) Validate() error {
	var result *multierror.Error
	seen := make(map[shared.Domain]bool, len(s.Tasks))
	for i := range s.Tasks {
		task := &s.Tasks[i]
		if seen[task.Domain] {
			result = multierror.Append(result, fmt.Errorf(
				"%w: duplicate descriptor for domain %q", shared.ErrInvalidConfiguration, task.Domain,
			))
		}
		seen[task.Domain] = true
		if err := task.validate(); err != nil {
			result = multierror.Append(result, fmt.Errorf("task %q: %w", task.Domain, err))
		}
	}
	if len(s.Enabled()) == 0 {
		result = multierror.Append(result, fmt.Errorf("%w: no enabled tasks", shared.ErrInvalidConfiguration))
	}
	return result.ErrorOrNil()
}

// Default returns the embedded task configuration.
func Default() *Set {
	set, err := parse(defaultsYAML)
	if err != nil {
		panic(err)
	}
	return set
}

// Load reads and validates a task configuration file. The file
// replaces the embedded defaults entirely.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task configuration: %w", err)
	}
	set, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("task configuration %s: %w", path, err)
	}
	return set, nil
}

func parse(data []byte) (*Set, error) {
	var set Set
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrInvalidConfiguration, err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}

// Package truth resolves authoritative correct values for task
// instances by dispatching observation snapshots to the registered
// physical model of each domain.
package truth

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/orrerynet/orrery/equations"
	"github.com/orrerynet/orrery/shared"
	"github.com/orrerynet/orrery/tasks"
)

// Resolver selects and runs the registered model for a task.
type Resolver struct {
	registry equations.Registry
}

func NewResolver(registry equations.Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Resolve computes the correct value for one task instance. Unknown
// domains and model divergence surface unmasked; scoring against
// garbage is worse than failing the instance. The model's output must
// match the descriptor's dimensionality.
func (r *Resolver) Resolve(desc tasks.Descriptor, snap shared.ObservationSnapshot) (shared.CorrectValue, error) {
	model, ok := r.registry[desc.Domain]
	if !ok {
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownDomain, desc.Domain)
	}
	values, err := model(snap)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", desc.Domain, err)
	}
	if len(values) != len(desc.Dimensions) {
		return nil, fmt.Errorf(
			"%w: %q model produced %d components, descriptor has %d dimensions",
			shared.ErrShapeMismatch, desc.Domain, len(values), len(desc.Dimensions),
		)
	}
	return values, nil
}

// ValidateSet checks that every enabled task has a registered model.
// Run at startup so a misconfigured descriptor is fatal before any
// round is scheduled.
func (r *Resolver) ValidateSet(set *tasks.Set) error {
	var result *multierror.Error
	for _, task := range set.Enabled() {
		if _, ok := r.registry[task.Domain]; !ok {
			result = multierror.Append(result, fmt.Errorf("%w: %q", shared.ErrUnknownDomain, task.Domain))
		}
	}
	return result.ErrorOrNil()
}

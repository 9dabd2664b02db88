// Package registry implements the Registry (C3): a stateless facade over
// the Placement Runtime's actor-listing and lookup primitives.
package registry

import (
	"context"
	"errors"
	"fmt"

	"github.com/operolabs/browserstation/internal/placement"
)

// ErrNotFound is returned by Lookup when the given browser_id has no
// backing actor. Callers map this to a 404 (HTTP) or close(1008) (WS).
var ErrNotFound = errors.New("registry: browser not found")

// Registry enumerates and resolves actors through a Placement Runtime. It
// keeps no local table: every call re-queries the Runtime, so a restart or a
// parallel control-plane replica never observes stale state.
type Registry struct {
	runtime placement.Runtime
}

// New wraps a Placement Runtime in a Registry.
func New(runtime placement.Runtime) *Registry {
	return &Registry{runtime: runtime}
}

// Lookup resolves a single actor by browser_id.
func (r *Registry) Lookup(ctx context.Context, browserID string) (placement.Handle, error) {
	h, err := r.runtime.Lookup(ctx, browserID)
	if err != nil {
		if errors.Is(err, placement.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: lookup %s: %w", browserID, err)
	}
	return h, nil
}

// ListByState enumerates actors in the given state.
func (r *Registry) ListByState(ctx context.Context, state placement.State) ([]placement.Descriptor, error) {
	descs, err := r.runtime.ListByState(ctx, state)
	if err != nil {
		return nil, fmt.Errorf("registry: list %s: %w", state, err)
	}
	return descs, nil
}

// Healthy reports whether the underlying Placement Runtime answers.
func (r *Registry) Healthy(ctx context.Context) bool {
	return r.runtime.Healthy(ctx)
}

// ClusterResources proxies directly to the Placement Runtime.
func (r *Registry) ClusterResources(ctx context.Context) (total, available map[string]float64, err error) {
	total, available, err = r.runtime.ClusterResources(ctx)
	if err != nil {
		return map[string]float64{}, map[string]float64{}, fmt.Errorf("registry: cluster resources: %w", err)
	}
	if total == nil {
		total = map[string]float64{}
	}
	if available == nil {
		available = map[string]float64{}
	}
	return total, available, nil
}

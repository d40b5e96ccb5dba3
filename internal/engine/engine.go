// Package engine builds the dependency graph of a declaration set, plans the
// changes needed to reach it from observed state and applies them through the
// registered provider adapters.
package engine

import (
	"context"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/provider"
)

const defaultParallelism = 10

// Store is the observed-state store the applier writes through. Each call must
// be durable on return.
type Store interface {
	Get(name string) (*ir.ResourceState, bool)
	Put(ctx context.Context, res *ir.ResourceState) error
	Delete(ctx context.Context, name string) error
}

// Engine orchestrates the lifecycle of resources.
type Engine struct {
	registry *provider.Registry

	// Parallelism bounds concurrent provider calls during apply.
	Parallelism int
	// Refresh reads each observed resource from its provider before diffing.
	Refresh bool
	// Retry applies to transient provider errors.
	Retry *RetryPolicy
	// Policies maps kinds to replace and timeout behavior.
	Policies map[string]Policy
}

func NewEngine(registry *provider.Registry) *Engine {
	return &Engine{
		registry:    registry,
		Parallelism: defaultParallelism,
		Refresh:     true,
		Retry:       DefaultRetryPolicy(),
		Policies:    Policies,
	}
}

func (e *Engine) policy(kind string) Policy {
	return PolicyFor(e.Policies, kind)
}

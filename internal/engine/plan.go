package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/logging"
	"github.com/picklr-io/eksstack/internal/provider"
)

// CreatePlan generates an execution plan by comparing desired config with current state.
func (e *Engine) CreatePlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	return e.CreatePlanWithTargets(ctx, cfg, state, nil)
}

// CreatePlanWithTargets generates a plan filtered to specific resource addresses.
// If targets is nil or empty, all resources are planned. A target keeps its
// transitive dependencies in the plan.
func (e *Engine) CreatePlanWithTargets(ctx context.Context, cfg *ir.Config, state *ir.State, targets []string) (*ir.Plan, error) {
	if state == nil {
		state = &ir.State{}
	}
	logging.Debug("creating plan", "resources", len(cfg.Resources), "state_resources", len(state.Resources), "targets", len(targets))

	dag, err := BuildDAG(cfg.Resources)
	if err != nil {
		return nil, fmt.Errorf("failed to build dependency graph: %w", err)
	}

	plan := newPlan(state, cfg.Outputs)

	configByAddr := make(map[string]*ir.Resource, len(cfg.Resources))
	for _, res := range cfg.Resources {
		configByAddr[res.Name] = res
	}

	var targetSet map[string]bool
	if len(targets) > 0 {
		targetSet = make(map[string]bool)
		for _, t := range targets {
			if !dag.Has(t) {
				return nil, fmt.Errorf("target %s is not declared", t)
			}
			targetSet[t] = true
			for _, dep := range dag.TransitiveDeps(t) {
				targetSet[dep] = true
			}
		}
	}

	observed := make(map[string]*ir.ResourceState, len(state.Resources))
	for _, res := range state.Resources {
		observed[res.Name] = res
	}

	pending := make(map[string]bool)
	lookup := func(ref ir.Ref) (any, error) {
		if pending[ref.Node] {
			return ir.Unknown, nil
		}
		prior, ok := observed[ref.Node]
		if !ok {
			return ir.Unknown, nil
		}
		if v, ok := prior.Outputs[ref.Attr]; ok {
			return v, nil
		}
		return ir.Unknown, nil
	}

	for _, addr := range dag.CreationOrder() {
		if targetSet != nil && !targetSet[addr] {
			continue
		}
		res := configByAddr[addr]

		if _, err := e.registry.Get(res.Kind); err != nil {
			return nil, fmt.Errorf("cannot plan %s: %w", addr, err)
		}

		prior := observed[addr]
		if prior != nil && e.Refresh {
			prior, err = e.refresh(ctx, prior)
			if err != nil {
				return nil, fmt.Errorf("refresh failed for %s: %w", addr, err)
			}
			if prior == nil {
				logging.Warn("resource disappeared outside eksstack", "node", addr)
				delete(observed, addr)
			} else {
				observed[addr] = prior
			}
		}

		resolved, err := resolveProperties(res.Properties, lookup)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %s: %w", addr, err)
		}

		change := &ir.ResourceChange{
			Address:      addr,
			Desired:      res,
			Prior:        prior,
			Dependencies: dag.Dependencies(addr),
		}

		if prior == nil {
			change.Action = ir.ActionCreate
			change.Diff = createDiff(resolved)
		} else {
			diff, replace := diffProperties(res, e.policy(res.Kind), prior.Inputs, resolved)
			change.Diff = diff
			switch {
			case replace, prior.Tainted:
				change.Action = ir.ActionReplace
			case len(diff) > 0:
				change.Action = ir.ActionUpdate
			default:
				change.Action = ir.ActionNoop
				change.Diff = nil
			}
		}

		if change.Action == ir.ActionReplace && res.Lifecycle != nil && res.Lifecycle.PreventDestroy {
			return nil, &PreventDestroyError{Address: addr, Action: string(ir.ActionReplace)}
		}
		if change.Action == ir.ActionCreate || change.Action == ir.ActionReplace {
			pending[addr] = true
		}
		addChange(plan, change)
	}

	// Observed resources that are no longer declared.
	var orphans []*ir.ResourceState
	for _, res := range state.Resources {
		if _, declared := configByAddr[res.Name]; declared {
			continue
		}
		if targetSet != nil && !targetSet[res.Name] {
			continue
		}
		orphans = append(orphans, res)
	}
	if err := e.planDeletes(plan, orphans, nil); err != nil {
		return nil, err
	}

	return plan, nil
}

// CreateDestroyPlan plans the deletion of every observed resource. cfg may be
// nil; when given, its lifecycle.preventDestroy settings are enforced.
func (e *Engine) CreateDestroyPlan(ctx context.Context, cfg *ir.Config, state *ir.State) (*ir.Plan, error) {
	if state == nil {
		state = &ir.State{}
	}
	protected := make(map[string]bool)
	if cfg != nil {
		for _, res := range cfg.Resources {
			if res.Lifecycle != nil && res.Lifecycle.PreventDestroy {
				protected[res.Name] = true
			}
		}
	}

	plan := newPlan(state, nil)
	if err := e.planDeletes(plan, state.Resources, protected); err != nil {
		return nil, err
	}
	return plan, nil
}

func (e *Engine) planDeletes(plan *ir.Plan, resources []*ir.ResourceState, protected map[string]bool) error {
	if len(resources) == 0 {
		return nil
	}
	dag, err := BuildDAGFromState(resources)
	if err != nil {
		return fmt.Errorf("failed to build destroy graph: %w", err)
	}
	byName := make(map[string]*ir.ResourceState, len(resources))
	for _, res := range resources {
		byName[res.Name] = res
	}

	for _, addr := range dag.DestructionOrder() {
		if protected[addr] {
			return &PreventDestroyError{Address: addr, Action: string(ir.ActionDelete)}
		}
		prior := byName[addr]
		if _, err := e.registry.Get(prior.Kind); err != nil {
			return fmt.Errorf("cannot plan delete of %s: %w", addr, err)
		}
		addChange(plan, &ir.ResourceChange{
			Address:      addr,
			Action:       ir.ActionDelete,
			Prior:        prior,
			Dependencies: dag.Dependencies(addr),
			Diff:         deleteDiff(prior.Inputs),
		})
	}
	return nil
}

// refresh reads prior back from its provider. A nil result means the object is gone.
func (e *Engine) refresh(ctx context.Context, prior *ir.ResourceState) (*ir.ResourceState, error) {
	adapter, err := e.registry.Get(prior.Kind)
	if err != nil {
		return nil, err
	}
	pol := e.policy(prior.Kind)
	callCtx, cancel := WithTimeout(ctx, pol.Timeout)
	defer cancel()

	var attrs provider.Attributes
	var exists bool
	err = e.call(callCtx, prior.Kind, "read", func(ctx context.Context) error {
		var readErr error
		attrs, exists, readErr = adapter.Read(ctx, &provider.Request{
			Kind:   prior.Kind,
			Name:   prior.Name,
			Inputs: prior.Inputs,
			Prior:  prior.Outputs,
		})
		return readErr
	})
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	refreshed := *prior
	refreshed.Outputs = attrs
	return &refreshed, nil
}

func newPlan(state *ir.State, outputs map[string]ir.OutputSpec) *ir.Plan {
	return &ir.Plan{
		Metadata: &ir.PlanMetadata{
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Lineage:   state.Lineage,
			Serial:    state.Serial,
		},
		Changes: []*ir.ResourceChange{},
		Summary: &ir.PlanSummary{},
		Outputs: outputs,
	}
}

func addChange(plan *ir.Plan, change *ir.ResourceChange) {
	plan.Changes = append(plan.Changes, change)
	s := plan.Summary
	switch change.Action {
	case ir.ActionCreate:
		s.Create++
	case ir.ActionUpdate:
		s.Update++
	case ir.ActionReplace:
		s.Replace++
	case ir.ActionDelete:
		s.Delete++
	default:
		s.NoOp++
	}
}

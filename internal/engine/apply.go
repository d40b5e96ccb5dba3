package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/logging"
	"github.com/picklr-io/eksstack/internal/metrics"
	"github.com/picklr-io/eksstack/internal/provider"
)

// ApplyEvent represents a progress event during apply.
type ApplyEvent struct {
	Address  string
	Action   string
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Error    error
	Blocker  string // set for skipped nodes
}

// ApplyCallback is called for each apply event if set.
type ApplyCallback func(event ApplyEvent)

// ApplyPlan executes a plan, writing each node's new observed state to store
// as soon as it finishes.
func (e *Engine) ApplyPlan(ctx context.Context, plan *ir.Plan, store Store) (*ir.Report, error) {
	return e.ApplyPlanWithCallback(ctx, plan, store, nil)
}

// ApplyPlanWithCallback executes a plan with progress event callbacks.
//
// The run has three phases. Replacements that must delete before they create
// tear down their old objects first, in reverse dependency order. Creates,
// updates and the new halves of replacements then run in dependency order.
// Deletes of undeclared resources run last, in reverse dependency order. A
// failed node does not stop independent branches, and nothing already applied
// is rolled back. Once ctx is cancelled no further node starts, but calls
// already in flight finish.
func (e *Engine) ApplyPlanWithCallback(ctx context.Context, plan *ir.Plan, store Store, callback ApplyCallback) (*ir.Report, error) {
	emit := func(event ApplyEvent) {
		if callback != nil {
			callback(event)
		}
	}

	var teardown, forward, deletes []*ir.ResourceChange
	for _, change := range plan.Changes {
		if change.Action == ir.ActionDelete {
			deletes = append(deletes, change)
			continue
		}
		forward = append(forward, change)
		if change.Action == ir.ActionReplace && !e.policy(changeKind(change)).CreateBeforeDestroy {
			teardown = append(teardown, &ir.ResourceChange{
				Address:      change.Address,
				Action:       ir.ActionDelete,
				Prior:        change.Prior,
				Dependencies: change.Dependencies,
			})
		}
	}

	run := func(ctx context.Context, c *ir.ResourceChange) *ir.NodeResult {
		return e.applyChange(ctx, c, store, emit)
	}

	// An old object goes only after the old objects of its dependents.
	dependents := transitiveDependents(forward)
	torn := e.schedule(ctx, teardown, func(c *ir.ResourceChange) []string {
		return dependents(c.Address)
	}, run, emit, nil)

	// A replacement whose old object is still there cannot be created.
	blocked := make(map[string]string)
	for addr, r := range torn {
		if !r.Status.Succeeded() {
			blocked[addr] = addr
		}
	}

	results := e.schedule(ctx, forward, func(c *ir.ResourceChange) []string {
		return c.Dependencies
	}, run, emit, blocked)
	for addr := range blocked {
		r := *torn[addr]
		r.Action = ir.ActionReplace
		results[addr] = &r
	}

	// A delete waits for the deletes of everything that depended on it.
	orphanDependents := make(map[string][]string)
	for _, c := range deletes {
		for _, dep := range c.Dependencies {
			orphanDependents[dep] = append(orphanDependents[dep], c.Address)
		}
	}
	for addr, r := range e.schedule(ctx, deletes, func(c *ir.ResourceChange) []string {
		return orphanDependents[c.Address]
	}, run, emit, nil) {
		results[addr] = r
	}

	report := &ir.Report{}
	var errs []error
	for _, change := range plan.Changes {
		r := results[change.Address]
		report.Results = append(report.Results, r)
		metrics.RecordTransition(r.Kind, string(r.Status))
		if r.Status == ir.StatusFailed {
			errs = append(errs, fmt.Errorf("%s: %w", r.Address, r.Err))
		}
	}

	if len(errs) > 0 {
		return report, fmt.Errorf("%d resource(s) failed: %w", len(errs), errors.Join(errs...))
	}
	if err := ctx.Err(); err != nil && report.Count(ir.StatusSkipped) > 0 {
		return report, fmt.Errorf("apply cancelled: %w", err)
	}
	return report, nil
}

func (e *Engine) applyChange(ctx context.Context, change *ir.ResourceChange, store Store, emit func(ApplyEvent)) *ir.NodeResult {
	addr := change.Address
	kind := changeKind(change)
	result := &ir.NodeResult{Address: addr, Kind: kind, Action: change.Action}
	start := time.Now()

	logging.Debug("applying change", "node", addr, "action", change.Action)

	// Calls already started survive cancellation of the run, bounded by the kind's timeout.
	callCtx, cancel := WithTimeout(context.WithoutCancel(ctx), e.policy(kind).Timeout)
	defer cancel()

	status, err := e.execute(callCtx, change, kind, store)
	result.Duration = time.Since(start)
	metrics.ObserveNode(kind, string(change.Action), result.Duration)

	if err != nil {
		result.Status = ir.StatusFailed
		result.Reason = err.Error()
		result.Err = err
		logging.Error("resource failed", "node", addr, "action", change.Action, "error", err)
		emit(ApplyEvent{Address: addr, Action: string(change.Action), Status: "failed", Duration: result.Duration, Error: err})
		return result
	}

	result.Status = status
	logging.Info("resource applied", "node", addr, "action", change.Action, "status", status, "duration", result.Duration.Round(time.Millisecond))
	emit(ApplyEvent{Address: addr, Action: string(change.Action), Status: "completed", Duration: result.Duration})
	return result
}

func (e *Engine) execute(ctx context.Context, change *ir.ResourceChange, kind string, store Store) (ir.Status, error) {
	if change.Action == ir.ActionNoop {
		return ir.StatusUnchanged, nil
	}

	adapter, err := e.registry.Get(kind)
	if err != nil {
		return "", err
	}

	if change.Action == ir.ActionDelete {
		prior, ok := store.Get(change.Address)
		if !ok {
			prior = change.Prior
		}
		if err := e.destroy(ctx, adapter, prior); err != nil {
			return "", err
		}
		if err := store.Delete(ctx, change.Address); err != nil {
			return "", fmt.Errorf("failed to persist delete: %w", err)
		}
		return ir.StatusDeleted, nil
	}

	res := change.Desired
	inputs, err := resolveProperties(res.Properties, func(ref ir.Ref) (any, error) {
		dep, ok := store.Get(ref.Node)
		if !ok {
			return nil, provider.Permanent(fmt.Errorf("reference %s: resource %s has no observed state", ref, ref.Node))
		}
		v, ok := dep.Outputs[ref.Attr]
		if !ok {
			return nil, provider.Permanent(fmt.Errorf("reference %s: attribute %s not reported by provider", ref, ref.Attr))
		}
		return v, nil
	})
	if err != nil {
		return "", err
	}
	if inputs, err = normalize(inputs); err != nil {
		return "", provider.Permanent(err)
	}

	prior, _ := store.Get(change.Address)

	switch change.Action {
	case ir.ActionCreate:
		attrs, err := e.create(ctx, adapter, res, inputs)
		if err != nil {
			return "", e.keepPartial(ctx, store, change, inputs, err)
		}
		return ir.StatusCreated, e.persist(ctx, store, change, inputs, attrs, false)

	case ir.ActionUpdate:
		req := &provider.Request{Kind: kind, Name: res.Name, Inputs: inputs}
		if prior != nil {
			req.Prior = prior.Outputs
			req.PriorInputs = prior.Inputs
		}
		var attrs provider.Attributes
		err := e.call(ctx, kind, "update", func(ctx context.Context) error {
			var callErr error
			attrs, callErr = adapter.Update(ctx, req)
			return callErr
		})
		if err != nil {
			return "", err
		}
		return ir.StatusUpdated, e.persist(ctx, store, change, inputs, attrs, false)

	case ir.ActionReplace:
		if e.policy(kind).CreateBeforeDestroy {
			if prior == nil {
				prior = change.Prior
			}
			attrs, err := e.create(ctx, adapter, res, inputs)
			if err != nil {
				return "", e.discardPartial(ctx, adapter, res, inputs, err)
			}
			if err := e.persist(ctx, store, change, inputs, attrs, false); err != nil {
				return "", err
			}
			if err := e.destroy(ctx, adapter, prior); err != nil {
				return "", fmt.Errorf("replacement created but previous object not deleted: %w", err)
			}
			return ir.StatusCreated, nil
		}

		// The old object is normally gone by now, torn down before the forward phase.
		if prior != nil {
			if err := e.destroy(ctx, adapter, prior); err != nil {
				return "", err
			}
			if err := store.Delete(ctx, change.Address); err != nil {
				return "", fmt.Errorf("failed to persist delete: %w", err)
			}
		}
		attrs, err := e.create(ctx, adapter, res, inputs)
		if err != nil {
			return "", e.keepPartial(ctx, store, change, inputs, err)
		}
		return ir.StatusCreated, e.persist(ctx, store, change, inputs, attrs, false)
	}

	return "", provider.Permanent(fmt.Errorf("unknown action %q", change.Action))
}

// create makes the object once. Retries reuse one token so an API that
// honours client tokens returns the first object instead of making another.
func (e *Engine) create(ctx context.Context, adapter provider.Adapter, res *ir.Resource, inputs map[string]any) (provider.Attributes, error) {
	req := &provider.Request{Kind: res.Kind, Name: res.Name, Inputs: inputs, Token: uuid.NewString()}
	var attrs provider.Attributes
	err := e.call(ctx, res.Kind, "create", func(ctx context.Context) error {
		var callErr error
		attrs, callErr = adapter.Create(ctx, req)
		return callErr
	})
	return attrs, err
}

// keepPartial records the object a failed Create left behind as tainted, so
// state knows about it and the next plan replaces it. err is returned as is.
func (e *Engine) keepPartial(ctx context.Context, store Store, change *ir.ResourceChange, inputs map[string]any, err error) error {
	pe, ok := provider.AsPartial(err)
	if !ok || pe.Attrs.ID() == "" {
		return err
	}
	if perr := e.persist(ctx, store, change, inputs, pe.Attrs, true); perr != nil {
		return errors.Join(err, perr)
	}
	logging.Warn("recorded unfinished object as tainted", "node", change.Address, "id", pe.Attrs.ID())
	return err
}

// discardPartial deletes the object a failed Create left behind when state
// still has to describe the previous object.
func (e *Engine) discardPartial(ctx context.Context, adapter provider.Adapter, res *ir.Resource, inputs map[string]any, err error) error {
	pe, ok := provider.AsPartial(err)
	if !ok || pe.Attrs.ID() == "" {
		return err
	}
	leftover := &ir.ResourceState{Name: res.Name, Kind: res.Kind, Inputs: inputs, Outputs: pe.Attrs}
	if derr := e.destroy(ctx, adapter, leftover); derr != nil {
		logging.Error("unfinished replacement left behind", "node", res.Name, "id", pe.Attrs.ID(), "error", derr)
		return errors.Join(err, fmt.Errorf("failed to remove unfinished object %s: %w", pe.Attrs.ID(), derr))
	}
	return err
}

func (e *Engine) destroy(ctx context.Context, adapter provider.Adapter, prior *ir.ResourceState) error {
	if prior == nil {
		return nil
	}
	return e.call(ctx, prior.Kind, "delete", func(ctx context.Context) error {
		return adapter.Delete(ctx, &provider.Request{
			Kind:        prior.Kind,
			Name:        prior.Name,
			Inputs:      prior.Inputs,
			Prior:       prior.Outputs,
			PriorInputs: prior.Inputs,
		})
	})
}

func (e *Engine) persist(ctx context.Context, store Store, change *ir.ResourceChange, inputs map[string]any, attrs provider.Attributes, tainted bool) error {
	err := store.Put(ctx, &ir.ResourceState{
		Name:         change.Address,
		Kind:         change.Desired.Kind,
		Inputs:       inputs,
		Outputs:      attrs,
		Dependencies: change.Dependencies,
		UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
		Tainted:      tainted,
	})
	if err != nil {
		return fmt.Errorf("failed to persist state: %w", err)
	}
	return nil
}

// transitiveDependents returns, for an address, every change that depends on
// it directly or through other changes.
func transitiveDependents(changes []*ir.ResourceChange) func(string) []string {
	direct := make(map[string][]string)
	for _, c := range changes {
		for _, dep := range c.Dependencies {
			direct[dep] = append(direct[dep], c.Address)
		}
	}
	return func(addr string) []string {
		seen := make(map[string]bool)
		queue := append([]string(nil), direct[addr]...)
		var out []string
		for len(queue) > 0 {
			a := queue[0]
			queue = queue[1:]
			if seen[a] {
				continue
			}
			seen[a] = true
			out = append(out, a)
			queue = append(queue, direct[a]...)
		}
		return out
	}
}

// call runs one provider operation with retries for transient errors.
func (e *Engine) call(ctx context.Context, kind, op string, fn func(context.Context) error) error {
	return RetryWithBackoff(ctx, e.Retry, func() error {
		err := fn(ctx)
		metrics.RecordCall(kind, op, err)
		return err
	}, func(err error) bool {
		if !ShouldRetry(err) {
			return false
		}
		metrics.RecordRetry(kind)
		logging.Warn("retrying provider call", "kind", kind, "op", op, "error", err)
		return true
	})
}

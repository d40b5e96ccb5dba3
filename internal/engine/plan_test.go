package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/eksstack/internal/ir"
)

func TestEngine_CreatePlan(t *testing.T) {
	eng, _ := newTestEngine(t)
	ctx := context.Background()

	vpc := node("vpc", map[string]any{"cidr": "10.0.0.0/16"})
	subnet := node("subnet", map[string]any{"vpc_id": ir.RefTo(vpc, "id"), "zone": "a"})
	cfg := &ir.Config{Resources: []*ir.Resource{subnet, vpc}}

	plan, err := eng.CreatePlan(ctx, cfg, &ir.State{})
	require.NoError(t, err)
	require.Len(t, plan.Changes, 2)
	assert.Equal(t, "vpc", plan.Changes[0].Address)
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)
	assert.Equal(t, 2, plan.Summary.Create)
	assert.True(t, plan.HasChanges())

	// A ref to a node being created is not known yet.
	require.Contains(t, plan.Changes[1].Diff, "vpc_id")
	assert.True(t, ir.IsUnknown(plan.Changes[1].Diff["vpc_id"].After))
	assert.Equal(t, []string{"vpc"}, plan.Changes[1].Dependencies)
}

func TestEngine_PlanActions(t *testing.T) {
	eng, _ := newTestEngine(t)
	store := newMemStore()

	a := node("a", map[string]any{"zone": "z1", "size": 1})
	b := node("b", map[string]any{"parent": ir.RefTo(a, "id"), "size": 1})
	cfg := &ir.Config{Resources: []*ir.Resource{a, b}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func()
		want   map[string]ir.Action
	}{
		{"noop", func() {}, map[string]ir.Action{"a": ir.ActionNoop, "b": ir.ActionNoop}},
		{"update in place", func() { a.Properties["size"] = 2 }, map[string]ir.Action{"a": ir.ActionUpdate, "b": ir.ActionNoop}},
		{"force new replaces and dependents see unknown", func() { a.Properties["zone"] = "z2" }, map[string]ir.Action{"a": ir.ActionReplace, "b": ir.ActionUpdate}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.Properties = map[string]any{"zone": "z1", "size": 1}
			tt.mutate()
			plan, err := eng.CreatePlan(context.Background(), cfg, store.snapshot())
			require.NoError(t, err)
			assert.Equal(t, tt.want, actions(plan))
		})
	}
}

func TestEngine_PlanNestedForceNew(t *testing.T) {
	eng, _ := newTestEngine(t)
	store := newMemStore()

	a := node("a", map[string]any{"spec": map[string]any{"selector": "x", "replicas": 1}})
	cfg := &ir.Config{Resources: []*ir.Resource{a}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)

	a.Properties["spec"] = map[string]any{"selector": "x", "replicas": 3}
	plan, err := eng.CreatePlan(context.Background(), cfg, store.snapshot())
	require.NoError(t, err)
	assert.Equal(t, ir.ActionUpdate, plan.Changes[0].Action)
	assert.False(t, plan.Changes[0].Diff["spec"].ForcesReplacement)

	a.Properties["spec"] = map[string]any{"selector": "y", "replicas": 1}
	plan, err = eng.CreatePlan(context.Background(), cfg, store.snapshot())
	require.NoError(t, err)
	assert.Equal(t, ir.ActionReplace, plan.Changes[0].Action)
	assert.True(t, plan.Changes[0].Diff["spec"].ForcesReplacement)
	assert.Equal(t, 1, plan.Summary.Replace)
}

func TestEngine_PlanIgnoreChanges(t *testing.T) {
	eng, _ := newTestEngine(t)
	store := newMemStore()

	a := node("a", map[string]any{"tags": map[string]any{"x": "1"}, "size": 1})
	a.Lifecycle = &ir.Lifecycle{IgnoreChanges: []string{"tags"}}
	cfg := &ir.Config{Resources: []*ir.Resource{a}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)

	a.Properties["tags"] = map[string]any{"x": "2"}
	plan, err := eng.CreatePlan(context.Background(), cfg, store.snapshot())
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNoop, plan.Changes[0].Action)
	assert.False(t, plan.HasChanges())
}

func TestEngine_PlanPreventDestroy(t *testing.T) {
	eng, _ := newTestEngine(t)
	store := newMemStore()

	a := node("a", map[string]any{"zone": "z1"})
	a.Lifecycle = &ir.Lifecycle{PreventDestroy: true}
	cfg := &ir.Config{Resources: []*ir.Resource{a}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)

	a.Properties["zone"] = "z2"
	_, err = eng.CreatePlan(context.Background(), cfg, store.snapshot())
	var pd *PreventDestroyError
	require.True(t, errors.As(err, &pd))
	assert.Equal(t, "a", pd.Address)

	_, err = eng.CreateDestroyPlan(context.Background(), cfg, store.snapshot())
	require.True(t, errors.As(err, &pd))
}

func TestEngine_PlanDeletesOrphans(t *testing.T) {
	eng, _ := newTestEngine(t)
	state := &ir.State{Resources: []*ir.ResourceState{
		{Name: "a", Kind: "null:Resource", Outputs: map[string]any{"id": "1"}},
		{Name: "b", Kind: "null:Resource", Outputs: map[string]any{"id": "2"}, Dependencies: []string{"a"}},
		{Name: "keep", Kind: "null:Resource", Inputs: map[string]any{}, Outputs: map[string]any{"id": "3"}},
	}}
	cfg := &ir.Config{Resources: []*ir.Resource{node("keep", nil)}}
	eng.Refresh = false

	plan, err := eng.CreatePlan(context.Background(), cfg, state)
	require.NoError(t, err)

	require.Len(t, plan.Changes, 3)
	assert.Equal(t, ir.ActionNoop, plan.Changes[0].Action)
	assert.Equal(t, "b", plan.Changes[1].Address)
	assert.Equal(t, ir.ActionDelete, plan.Changes[1].Action)
	assert.Equal(t, "a", plan.Changes[2].Address)
	assert.Equal(t, 2, plan.Summary.Delete)
}

func TestEngine_PlanRefreshDetectsDrift(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()
	cfg := &ir.Config{Resources: []*ir.Resource{node("a", map[string]any{"size": 1})}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)

	p.Remove("a")
	plan, err := eng.CreatePlan(context.Background(), cfg, store.snapshot())
	require.NoError(t, err)
	assert.Equal(t, ir.ActionCreate, plan.Changes[0].Action)

	eng.Refresh = false
	plan, err = eng.CreatePlan(context.Background(), cfg, store.snapshot())
	require.NoError(t, err)
	assert.Equal(t, ir.ActionNoop, plan.Changes[0].Action)
}

func TestEngine_PlanTargets(t *testing.T) {
	eng, _ := newTestEngine(t)
	a := node("a", nil)
	b := node("b", map[string]any{"a": ir.RefTo(a, "id")})
	c := node("c", nil)
	cfg := &ir.Config{Resources: []*ir.Resource{a, b, c}}

	plan, err := eng.CreatePlanWithTargets(context.Background(), cfg, &ir.State{}, []string{"b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.Action{"a": ir.ActionCreate, "b": ir.ActionCreate}, actions(plan))

	_, err = eng.CreatePlanWithTargets(context.Background(), cfg, &ir.State{}, []string{"nope"})
	assert.Error(t, err)
}

func TestEngine_PlanGraphErrorsAbort(t *testing.T) {
	eng, p := newTestEngine(t)
	ghost := node("ghost", nil)
	cfg := &ir.Config{Resources: []*ir.Resource{node("a", map[string]any{"x": ir.RefTo(ghost, "id")})}}

	_, err := eng.CreatePlan(context.Background(), cfg, &ir.State{})
	var dangling *DanglingReferenceError
	require.True(t, errors.As(err, &dangling))
	assert.Empty(t, p.Log(), "no provider call before the graph is valid")

	cfg = &ir.Config{Resources: []*ir.Resource{node("a", nil, "b"), node("b", nil, "a")}}
	_, err = eng.CreatePlan(context.Background(), cfg, &ir.State{})
	var cycle *CyclicDependencyError
	require.True(t, errors.As(err, &cycle))
	assert.Empty(t, p.Log())
}

func TestEngine_PlanUnknownKind(t *testing.T) {
	eng, _ := newTestEngine(t)
	cfg := &ir.Config{Resources: []*ir.Resource{{Name: "x", Kind: "aws:EC2.Vpc"}}}
	_, err := eng.CreatePlan(context.Background(), cfg, &ir.State{})
	assert.Error(t, err)
}

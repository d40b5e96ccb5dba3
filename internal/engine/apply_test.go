package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/provider"
)

func TestApplyPlan_CreateThenIdempotent(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()

	vpc := node("vpc", map[string]any{"cidr": "10.0.0.0/16"})
	subnet := node("subnet", map[string]any{"vpc_id": ir.RefTo(vpc, "id"), "zone": "a"})
	cfg := &ir.Config{Resources: []*ir.Resource{vpc, subnet}}

	_, report, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(ir.StatusCreated))

	vpcState, ok := store.Get("vpc")
	require.True(t, ok)
	subnetState, ok := store.Get("subnet")
	require.True(t, ok)
	assert.Equal(t, vpcState.Outputs["id"], subnetState.Inputs["vpc_id"])
	assert.Equal(t, []string{"vpc"}, subnetState.Dependencies)

	// A second run against unchanged declarations only reads.
	before := len(p.Log())
	plan, report, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	assert.False(t, plan.HasChanges())
	assert.Equal(t, 2, report.Count(ir.StatusUnchanged))
	for _, entry := range p.Log()[before:] {
		assert.Regexp(t, "^read:", entry)
	}
	assert.Equal(t, 0, p.Calls("update"))
	assert.Equal(t, 2, p.Calls("create"))
}

func TestApplyPlan_PartialFailureIsolation(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()

	a := node("a", nil)
	b := node("b", map[string]any{"a": ir.RefTo(a, "id")})
	d := node("d", map[string]any{"b": ir.RefTo(b, "id")})
	e := node("e", nil, "d")
	c := node("c", nil)
	cfg := &ir.Config{Resources: []*ir.Resource{a, b, c, d, e}}

	p.FailOn("b", "create", provider.Permanent(errors.New("InvalidParameterValue")))

	_, report, err := planAndApply(t, eng, cfg, store)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 resource(s) failed")

	assert.Equal(t, ir.StatusCreated, report.Result("a").Status)
	assert.Equal(t, ir.StatusCreated, report.Result("c").Status)
	assert.Equal(t, ir.StatusFailed, report.Result("b").Status)
	assert.Contains(t, report.Result("b").Reason, "InvalidParameterValue")
	assert.Equal(t, ir.StatusSkipped, report.Result("d").Status)
	assert.Equal(t, "b", report.Result("d").Blocker)
	assert.Equal(t, "b", report.Result("e").Blocker)
	assert.Equal(t, "d: skipped: b", report.Result("d").String())

	assert.Equal(t, 1, p.CallsFor("b", "create"), "permanent errors are not retried")
	assert.Zero(t, p.CallsFor("d", "create"))

	// Nothing already applied is rolled back.
	_, ok := store.Get("a")
	assert.True(t, ok)
	_, ok = store.Get("b")
	assert.False(t, ok)
	assert.Len(t, report.Failed(), 1)
}

func TestApplyPlan_TransientRetried(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()
	cfg := &ir.Config{Resources: []*ir.Resource{node("a", nil)}}

	p.FailTimes("a", "create", 2, provider.Transient(errors.New("Throttling")))

	_, report, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusCreated, report.Result("a").Status)
	assert.Equal(t, 3, p.CallsFor("a", "create"))

	tokens := p.Tokens("a")
	require.Len(t, tokens, 3)
	assert.NotEmpty(t, tokens[0])
	assert.Equal(t, tokens[0], tokens[1], "retries reuse the create token")
	assert.Equal(t, tokens[0], tokens[2])
}

func TestApplyPlan_TransientExhausted(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()
	cfg := &ir.Config{Resources: []*ir.Resource{node("a", nil)}}

	p.FailOn("a", "create", provider.Transient(errors.New("ServiceUnavailable")))

	_, report, err := planAndApply(t, eng, cfg, store)
	require.Error(t, err)
	assert.Equal(t, ir.StatusFailed, report.Result("a").Status)
	assert.Contains(t, report.Result("a").Reason, "max retries")
	assert.Equal(t, 4, p.CallsFor("a", "create"))
}

func TestApplyPlan_Update(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()
	a := node("a", map[string]any{"size": 1})
	cfg := &ir.Config{Resources: []*ir.Resource{a}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	first, _ := store.Get("a")

	a.Properties["size"] = 2
	_, report, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusUpdated, report.Result("a").Status)

	after, _ := store.Get("a")
	assert.Equal(t, first.Outputs["id"], after.Outputs["id"])
	assert.EqualValues(t, 2, after.Inputs["size"])
	assert.Equal(t, 1, p.Calls("update"))
}

func TestApplyPlan_ReplaceDeleteBeforeCreate(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()
	a := node("a", map[string]any{"zone": "z1"})
	b := node("b", map[string]any{"parent": ir.RefTo(a, "id")})
	cfg := &ir.Config{Resources: []*ir.Resource{a, b}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	oldID := mustGet(t, store, "a").Outputs["id"]

	a.Properties["zone"] = "z2"
	before := len(p.Log())
	_, report, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)

	res := report.Result("a")
	assert.Equal(t, ir.ActionReplace, res.Action)
	assert.Equal(t, ir.StatusCreated, res.Status)
	assert.Equal(t, ir.StatusUpdated, report.Result("b").Status)

	log := p.Log()[before:]
	assert.Less(t, indexOf(log, "delete:a"), indexOf(log, "create:a"))
	assert.Less(t, indexOf(log, "create:a"), indexOf(log, "update:b"))

	newID := mustGet(t, store, "a").Outputs["id"]
	assert.NotEqual(t, oldID, newID)
	assert.Equal(t, newID, mustGet(t, store, "b").Inputs["parent"])
}

func TestApplyPlan_ReplaceCreateBeforeDestroy(t *testing.T) {
	eng, p := newTestEngine(t)
	eng.Policies["null:Resource"] = Policy{ForceNew: []string{"zone"}, CreateBeforeDestroy: true}
	store := newMemStore()
	a := node("a", map[string]any{"zone": "z1"})
	cfg := &ir.Config{Resources: []*ir.Resource{a}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)

	a.Properties["zone"] = "z2"
	before := len(p.Log())
	_, report, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	assert.Equal(t, ir.StatusCreated, report.Result("a").Status)

	log := p.Log()[before:]
	assert.Less(t, indexOf(log, "create:a"), indexOf(log, "delete:a"))

	obj, ok := p.Object("a")
	require.True(t, ok, "the replacement survives deletion of its predecessor")
	assert.Equal(t, mustGet(t, store, "a").Outputs["id"], obj.ID())
}

func TestApplyPlan_DeletesInReverseOrder(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()

	a := node("a", nil)
	b := node("b", map[string]any{"a": ir.RefTo(a, "id")})
	c := node("c", map[string]any{"b": ir.RefTo(b, "id")})
	cfg := &ir.Config{Resources: []*ir.Resource{a, b, c}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)

	plan, err := eng.CreateDestroyPlan(context.Background(), nil, store.snapshot())
	require.NoError(t, err)
	before := len(p.Log())
	report, err := eng.ApplyPlan(context.Background(), plan, store)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Count(ir.StatusDeleted))
	assert.Equal(t, []string{"delete:c", "delete:b", "delete:a"}, p.Log()[before:])
	assert.Empty(t, store.snapshot().Resources)
}

func TestApplyPlan_FailedDeleteKeepsDependencies(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()

	a := node("a", nil)
	b := node("b", map[string]any{"a": ir.RefTo(a, "id")})
	cfg := &ir.Config{Resources: []*ir.Resource{a, b}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)

	p.FailOn("b", "delete", provider.Permanent(errors.New("AccessDenied")))
	plan, err := eng.CreateDestroyPlan(context.Background(), nil, store.snapshot())
	require.NoError(t, err)
	report, err := eng.ApplyPlan(context.Background(), plan, store)
	require.Error(t, err)

	assert.Equal(t, ir.StatusFailed, report.Result("b").Status)
	assert.Equal(t, ir.StatusSkipped, report.Result("a").Status)
	assert.Equal(t, "b", report.Result("a").Blocker)
	assert.Zero(t, p.CallsFor("a", "delete"))
}

func TestApplyPlan_CancellationStopsDispatch(t *testing.T) {
	eng, p := newTestEngine(t)
	eng.Parallelism = 1
	store := newMemStore()
	cfg := &ir.Config{Resources: []*ir.Resource{node("a", nil), node("b", nil), node("c", nil)}}

	plan, err := eng.CreatePlan(context.Background(), cfg, store.snapshot())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var inflightCtxErr error
	p.SetHook(func(callCtx context.Context, op, name string) error {
		if name == "a" {
			cancel()
			inflightCtxErr = callCtx.Err()
		}
		return nil
	})

	report, err := eng.ApplyPlan(ctx, plan, store)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	assert.NoError(t, inflightCtxErr, "an in-flight call is not cancelled with the run")
	assert.Equal(t, ir.StatusCreated, report.Result("a").Status)
	for _, n := range []string{"b", "c"} {
		assert.Equal(t, ir.StatusSkipped, report.Result(n).Status)
		assert.Equal(t, "cancelled", report.Result(n).Blocker)
	}
	assert.Equal(t, 1, p.Calls("create"))
}

func TestApplyPlan_BoundedParallelism(t *testing.T) {
	eng, p := newTestEngine(t)
	eng.Parallelism = 3
	store := newMemStore()

	var resources []*ir.Resource
	for i := 0; i < 12; i++ {
		resources = append(resources, node(fmt.Sprintf("n%d", i), nil))
	}
	cfg := &ir.Config{Resources: resources}

	var current, peak int32
	p.SetHook(func(ctx context.Context, op, name string) error {
		if op != "create" {
			return nil
		}
		n := atomic.AddInt32(&current, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&current, -1)
		return nil
	})

	_, report, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	assert.Equal(t, 12, report.Count(ir.StatusCreated))
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestApplyPlan_DependencyOrderUnderConcurrency(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()

	root := node("root", nil)
	var resources = []*ir.Resource{root}
	for i := 0; i < 8; i++ {
		resources = append(resources, node(fmt.Sprintf("leaf%d", i), map[string]any{"root": ir.RefTo(root, "id")}))
	}
	cfg := &ir.Config{Resources: resources}

	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	assert.Equal(t, "create:root", p.Log()[0])
}

func TestApplyPlan_Events(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()
	a := node("a", nil)
	b := node("b", map[string]any{"a": ir.RefTo(a, "id")})
	cfg := &ir.Config{Resources: []*ir.Resource{a, b}}
	p.FailOn("a", "create", provider.Permanent(errors.New("bad")))

	plan, err := eng.CreatePlan(context.Background(), cfg, store.snapshot())
	require.NoError(t, err)

	var mu sync.Mutex
	statuses := map[string][]string{}
	_, err = eng.ApplyPlanWithCallback(context.Background(), plan, store, func(ev ApplyEvent) {
		mu.Lock()
		defer mu.Unlock()
		statuses[ev.Address] = append(statuses[ev.Address], ev.Status)
	})
	require.Error(t, err)
	assert.Equal(t, []string{"started", "failed"}, statuses["a"])
	assert.Equal(t, []string{"skipped"}, statuses["b"])
}

func TestApplyPlan_ReplaceCascadeTearsDownDependentsFirst(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()
	subnet := node("subnet", map[string]any{"zone": "a"})
	nat := node("nat", map[string]any{"zone": ir.RefTo(subnet, "id")})
	cfg := &ir.Config{Resources: []*ir.Resource{subnet, nat}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	oldSubnet := mustGet(t, store, "subnet").Outputs["id"]

	subnet.Properties["zone"] = "b"
	before := len(p.Log())
	plan, report, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.Action{"subnet": ir.ActionReplace, "nat": ir.ActionReplace}, actions(plan))
	assert.Equal(t, ir.StatusCreated, report.Result("subnet").Status)
	assert.Equal(t, ir.StatusCreated, report.Result("nat").Status)

	log := p.Log()[before:]
	assert.Less(t, indexOf(log, "delete:nat"), indexOf(log, "delete:subnet"), "dependent goes first")
	assert.Less(t, indexOf(log, "delete:subnet"), indexOf(log, "create:subnet"))
	assert.Less(t, indexOf(log, "create:subnet"), indexOf(log, "create:nat"))

	newSubnet := mustGet(t, store, "subnet").Outputs["id"]
	assert.NotEqual(t, oldSubnet, newSubnet)
	assert.Equal(t, newSubnet, mustGet(t, store, "nat").Inputs["zone"])
}

func TestApplyPlan_FailedTeardownKeepsOldObjects(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()
	subnet := node("subnet", map[string]any{"zone": "a"})
	nat := node("nat", map[string]any{"zone": ir.RefTo(subnet, "id")})
	other := node("other", map[string]any{"size": 1})
	cfg := &ir.Config{Resources: []*ir.Resource{subnet, nat, other}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	oldSubnet := mustGet(t, store, "subnet").Outputs["id"]
	oldNat := mustGet(t, store, "nat").Outputs["id"]

	subnet.Properties["zone"] = "b"
	other.Properties["size"] = 2
	p.FailOn("nat", "delete", provider.Permanent(errors.New("DependencyViolation")))
	before := len(p.Log())
	_, report, err := planAndApply(t, eng, cfg, store)
	require.Error(t, err)

	natResult := report.Result("nat")
	assert.Equal(t, ir.ActionReplace, natResult.Action)
	assert.Equal(t, ir.StatusFailed, natResult.Status)

	subnetResult := report.Result("subnet")
	assert.Equal(t, ir.ActionReplace, subnetResult.Action)
	assert.Equal(t, ir.StatusSkipped, subnetResult.Status)
	assert.Equal(t, "nat", subnetResult.Blocker)

	assert.Equal(t, ir.StatusUpdated, report.Result("other").Status, "independent work still runs")

	log := p.Log()[before:]
	assert.NotContains(t, log, "delete:subnet")
	assert.NotContains(t, log, "create:subnet")
	assert.NotContains(t, log, "create:nat")
	assert.Equal(t, oldSubnet, mustGet(t, store, "subnet").Outputs["id"])
	assert.Equal(t, oldNat, mustGet(t, store, "nat").Outputs["id"])
}

func TestApplyPlan_UnfinishedCreateIsTaintedNotRetried(t *testing.T) {
	eng, p := newTestEngine(t)
	store := newMemStore()
	a := node("a", map[string]any{"size": 1})
	b := node("b", map[string]any{"parent": ir.RefTo(a, "id")})
	cfg := &ir.Config{Resources: []*ir.Resource{a, b}}

	p.FailAfterCreate("a", provider.Transient(errors.New("InvalidNatGatewayID.NotFound")))
	_, report, err := planAndApply(t, eng, cfg, store)
	require.Error(t, err)
	assert.Equal(t, ir.StatusFailed, report.Result("a").Status)
	assert.Equal(t, ir.StatusSkipped, report.Result("b").Status)
	assert.Equal(t, 1, p.CallsFor("a", "create"), "the object exists, so create is not repeated")

	first := mustGet(t, store, "a")
	assert.True(t, first.Tainted)
	obj, ok := p.Object("a")
	require.True(t, ok)
	assert.Equal(t, obj.ID(), first.Outputs["id"], "state records the object that was made")

	plan, report, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	assert.Equal(t, map[string]ir.Action{"a": ir.ActionReplace, "b": ir.ActionCreate}, actions(plan))
	assert.Equal(t, ir.StatusCreated, report.Result("a").Status)

	second := mustGet(t, store, "a")
	assert.False(t, second.Tainted)
	assert.NotEqual(t, first.Outputs["id"], second.Outputs["id"])
	assert.Equal(t, second.Outputs["id"], mustGet(t, store, "b").Inputs["parent"])
}

func TestApplyPlan_UnfinishedReplacementIsRemoved(t *testing.T) {
	eng, p := newTestEngine(t)
	eng.Policies["null:Resource"] = Policy{ForceNew: []string{"zone"}, CreateBeforeDestroy: true}
	store := newMemStore()
	a := node("a", map[string]any{"zone": "z1"})
	cfg := &ir.Config{Resources: []*ir.Resource{a}}
	_, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	oldID := mustGet(t, store, "a").Outputs["id"]

	a.Properties["zone"] = "z2"
	p.FailAfterCreate("a", provider.Transient(errors.New("not ready")))
	before := len(p.Log())
	_, report, err := planAndApply(t, eng, cfg, store)
	require.Error(t, err)
	assert.Equal(t, ir.StatusFailed, report.Result("a").Status)
	assert.Equal(t, []string{"read:a", "create:a", "delete:a"}, p.Log()[before:])

	kept := mustGet(t, store, "a")
	assert.Equal(t, oldID, kept.Outputs["id"], "state still describes the previous object")
	assert.False(t, kept.Tainted)
}

func TestApplyPlan_ResolvesRefLists(t *testing.T) {
	eng, _ := newTestEngine(t)
	store := newMemStore()
	a := node("a", nil)
	b := node("b", nil)
	group := node("group", map[string]any{"members": []ir.Ref{ir.RefTo(a, "id"), ir.RefTo(b, "id")}})
	cfg := &ir.Config{Resources: []*ir.Resource{group, a, b}}

	plan, _, err := planAndApply(t, eng, cfg, store)
	require.NoError(t, err)
	var change *ir.ResourceChange
	for _, c := range plan.Changes {
		if c.Address == "group" {
			change = c
		}
	}
	require.NotNil(t, change)
	assert.ElementsMatch(t, []string{"a", "b"}, change.Dependencies)
	assert.True(t, containsUnknown(change.Diff["members"].After))

	want := []any{mustGet(t, store, "a").Outputs["id"], mustGet(t, store, "b").Outputs["id"]}
	assert.Equal(t, want, mustGet(t, store, "group").Inputs["members"])
}

func mustGet(t *testing.T, store *memStore, name string) *ir.ResourceState {
	t.Helper()
	r, ok := store.Get(name)
	require.True(t, ok, "no state for %s", name)
	return r
}

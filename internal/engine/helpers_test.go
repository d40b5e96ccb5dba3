package engine

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/provider"
	"github.com/picklr-io/eksstack/providers/null"
)

// memStore is an in-memory Store that keeps insertion order.
type memStore struct {
	mu    sync.Mutex
	res   map[string]*ir.ResourceState
	order []string
}

func newMemStore() *memStore {
	return &memStore{res: make(map[string]*ir.ResourceState)}
}

func (m *memStore) Get(name string) (*ir.ResourceState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.res[name]
	return r, ok
}

func (m *memStore) Put(_ context.Context, r *ir.ResourceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.res[r.Name]; !ok {
		m.order = append(m.order, r.Name)
	}
	m.res[r.Name] = r
	return nil
}

func (m *memStore) Delete(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.res, name)
	m.order = slices.DeleteFunc(m.order, func(n string) bool { return n == name })
	return nil
}

func (m *memStore) snapshot() *ir.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &ir.State{Version: 1}
	for _, n := range m.order {
		st.Resources = append(st.Resources, m.res[n])
	}
	return st
}

func newTestEngine(t *testing.T) (*Engine, *null.Provider) {
	t.Helper()
	p := null.New()
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider(p))

	eng := NewEngine(reg)
	eng.Retry = &RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
	eng.Policies = map[string]Policy{
		null.Kind: {ForceNew: []string{"zone", "spec.selector"}, Timeout: time.Minute},
	}
	return eng, p
}

func node(name string, props map[string]any, dependsOn ...string) *ir.Resource {
	if props == nil {
		props = map[string]any{}
	}
	return &ir.Resource{Name: name, Kind: null.Kind, Properties: props, DependsOn: dependsOn}
}

func planAndApply(t *testing.T, eng *Engine, cfg *ir.Config, store *memStore) (*ir.Plan, *ir.Report, error) {
	t.Helper()
	plan, err := eng.CreatePlan(context.Background(), cfg, store.snapshot())
	require.NoError(t, err)
	report, err := eng.ApplyPlan(context.Background(), plan, store)
	return plan, report, err
}

func actions(plan *ir.Plan) map[string]ir.Action {
	out := make(map[string]ir.Action)
	for _, c := range plan.Changes {
		out[c.Address] = c.Action
	}
	return out
}

package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackend keeps every written document in memory.
type recordingBackend struct {
	mu      sync.Mutex
	initial *ir.State
	writes  []*ir.State
	failOn  int
}

func (b *recordingBackend) Read(context.Context) (*ir.State, error) {
	if b.initial != nil {
		return b.initial, nil
	}
	return NewState(), nil
}

func (b *recordingBackend) Write(_ context.Context, st *ir.State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failOn > 0 && len(b.writes)+1 == b.failOn {
		b.failOn = 0
		return errors.New("disk full")
	}
	b.writes = append(b.writes, st)
	return nil
}

func (b *recordingBackend) Lock(context.Context) error   { return nil }
func (b *recordingBackend) Unlock(context.Context) error { return nil }

func TestStore_PutGetDelete(t *testing.T) {
	ctx := context.Background()
	backend := &recordingBackend{}
	store, err := Open(ctx, backend)
	require.NoError(t, err)

	_, ok := store.Get("eks-vpc")
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, &ir.ResourceState{Name: "eks-vpc", Kind: ir.KindVpc, Outputs: map[string]any{"id": "vpc-1"}}))
	require.NoError(t, store.Put(ctx, &ir.ResourceState{Name: "eks-igw", Kind: ir.KindInternetGateway}))
	require.NoError(t, store.Put(ctx, &ir.ResourceState{Name: "eks-vpc", Kind: ir.KindVpc, Outputs: map[string]any{"id": "vpc-2"}}))

	got, ok := store.Get("eks-vpc")
	require.True(t, ok)
	assert.Equal(t, "vpc-2", got.Outputs["id"])

	snap := store.Snapshot()
	require.Len(t, snap.Resources, 2)
	assert.Equal(t, "eks-vpc", snap.Resources[0].Name, "replacing keeps position")
	assert.Equal(t, 3, snap.Serial)

	require.NoError(t, store.Delete(ctx, "eks-vpc"))
	require.NoError(t, store.Delete(ctx, "missing"))
	_, ok = store.Get("eks-vpc")
	assert.False(t, ok)

	assert.Len(t, backend.writes, 4, "one write per transition")
	assert.Equal(t, 4, backend.writes[3].Serial)
}

func TestStore_FailedWriteKeepsMemoryState(t *testing.T) {
	ctx := context.Background()
	store, err := Open(ctx, &recordingBackend{failOn: 2})
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, &ir.ResourceState{Name: "a"}))
	err = store.Put(ctx, &ir.ResourceState{Name: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	_, ok := store.Get("b")
	assert.False(t, ok)
	assert.Equal(t, 1, store.Snapshot().Serial)
}

func TestStore_SetOutputs(t *testing.T) {
	ctx := context.Background()
	backend := &recordingBackend{}
	store, err := Open(ctx, backend)
	require.NoError(t, err)

	outputs := map[string]any{"cluster_name": "eks-cluster"}
	require.NoError(t, store.SetOutputs(ctx, outputs))
	outputs["cluster_name"] = "mutated"

	assert.Equal(t, "eks-cluster", store.Snapshot().Outputs["cluster_name"])

	require.NoError(t, store.SetOutputs(ctx, nil))
	assert.NotNil(t, store.Snapshot().Outputs)
}

func TestStore_RejectsUnnamed(t *testing.T) {
	store, err := Open(context.Background(), &recordingBackend{})
	require.NoError(t, err)
	require.Error(t, store.Put(context.Background(), &ir.ResourceState{}))
	require.Error(t, store.Put(context.Background(), nil))
}

func TestStore_ConcurrentPuts(t *testing.T) {
	ctx := context.Background()
	backend := &recordingBackend{}
	store, err := Open(ctx, backend)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, store.Put(ctx, &ir.ResourceState{Name: fmt.Sprintf("node-%d", i)}))
		}(i)
	}
	wg.Wait()

	snap := store.Snapshot()
	assert.Len(t, snap.Resources, 20)
	assert.Equal(t, 20, snap.Serial)
}

func TestStore_PreservesLineage(t *testing.T) {
	ctx := context.Background()
	backend := &recordingBackend{initial: &ir.State{Version: 1, Serial: 7, Lineage: "lineage-1"}}
	store, err := Open(ctx, backend)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, &ir.ResourceState{Name: "a"}))
	assert.Equal(t, "lineage-1", backend.writes[0].Lineage)
	assert.Equal(t, 8, backend.writes[0].Serial)
}

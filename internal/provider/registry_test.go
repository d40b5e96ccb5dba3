package provider

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct{}

func (stubAdapter) Create(context.Context, *Request) (Attributes, error) { return Attributes{"id": "x"}, nil }
func (stubAdapter) Read(context.Context, *Request) (Attributes, bool, error) {
	return nil, false, nil
}
func (stubAdapter) Update(context.Context, *Request) (Attributes, error) { return nil, nil }
func (stubAdapter) Delete(context.Context, *Request) error              { return nil }

type stubProvider struct {
	name  string
	kinds []string
}

func (p stubProvider) Name() string { return p.name }
func (p stubProvider) Adapters() map[string]Adapter {
	out := make(map[string]Adapter)
	for _, k := range p.kinds {
		out[k] = stubAdapter{}
	}
	return out
}

func TestRegistry_LoadProvider(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.LoadProvider(stubProvider{name: "stub", kinds: []string{"stub:B", "stub:A"}}))
	// Idempotent
	require.NoError(t, reg.LoadProvider(stubProvider{name: "stub", kinds: []string{"stub:B", "stub:A"}}))

	assert.Equal(t, []string{"stub:A", "stub:B"}, reg.Kinds())

	_, err := reg.Get("stub:A")
	require.NoError(t, err)
}

func TestRegistry_DuplicateKind(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.LoadProvider(stubProvider{name: "one", kinds: []string{"x:Kind"}}))
	err := reg.LoadProvider(stubProvider{name: "two", kinds: []string{"x:Kind"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}

func TestRegistry_UnknownKindIsPermanent(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("nope:Kind")
	require.Error(t, err)
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
}

func TestErrorClassification(t *testing.T) {
	base := errors.New("boom")

	assert.Nil(t, Transient(nil))
	assert.Nil(t, Permanent(nil))

	te := Transient(base)
	assert.True(t, IsTransient(te))
	assert.ErrorIs(t, te, base)

	pe := Permanent(base)
	assert.True(t, IsPermanent(pe))
	assert.ErrorIs(t, pe, base)

	// Double wrapping keeps a single layer
	var p *PermanentError
	require.True(t, errors.As(Permanent(pe), &p))
	assert.Equal(t, base, p.Err)
}

func TestDecodeEncode(t *testing.T) {
	type cfg struct {
		CidrBlock string            `json:"cidr_block"`
		Tags      map[string]string `json:"tags"`
	}
	var c cfg
	require.NoError(t, Decode(map[string]any{"cidr_block": "10.0.0.0/16", "tags": map[string]any{"a": "b"}}, &c))
	assert.Equal(t, "10.0.0.0/16", c.CidrBlock)
	assert.Equal(t, "b", c.Tags["a"])

	err := Decode(map[string]any{"cidr_block": 12}, &c)
	require.Error(t, err)
	assert.True(t, IsPermanent(err))

	attrs, err := Encode(struct {
		ID string `json:"id"`
	}{ID: "vpc-1"})
	require.NoError(t, err)
	assert.Equal(t, "vpc-1", attrs.ID())
	assert.Equal(t, "", Attributes(nil).ID())
}

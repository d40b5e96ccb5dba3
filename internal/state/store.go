package state

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/picklr-io/eksstack/internal/ir"
	"github.com/picklr-io/eksstack/internal/logging"
)

// Store is the observed state of one stack held in memory and written through
// to a Backend on every change. It is safe for concurrent use by apply workers.
type Store struct {
	mu      sync.Mutex
	backend Backend
	state   *ir.State
}

// Open reads the current state from backend.
func Open(ctx context.Context, backend Backend) (*Store, error) {
	st, err := backend.Read(ctx)
	if err != nil {
		return nil, err
	}
	return &Store{backend: backend, state: st}, nil
}

// Get returns the observed state of the named node.
func (s *Store) Get(name string) (*ir.ResourceState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := s.state.Find(name)
	return res, res != nil
}

// Put records res, replacing any previous entry with the same name, and
// persists the whole document.
func (s *Store) Put(ctx context.Context, res *ir.ResourceState) error {
	if res == nil || res.Name == "" {
		return fmt.Errorf("cannot store unnamed resource state")
	}
	entry := *res

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.next()
	if i := slices.IndexFunc(next.Resources, func(r *ir.ResourceState) bool { return r.Name == entry.Name }); i >= 0 {
		next.Resources[i] = &entry
	} else {
		next.Resources = append(next.Resources, &entry)
	}
	return s.commit(ctx, next, "put", entry.Name)
}

// Delete forgets the named node. Deleting an unknown node is a no-op.
func (s *Store) Delete(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Find(name) == nil {
		return nil
	}
	next := s.next()
	next.Resources = slices.DeleteFunc(next.Resources, func(r *ir.ResourceState) bool { return r.Name == name })
	return s.commit(ctx, next, "delete", name)
}

// SetOutputs replaces the persisted stack outputs.
func (s *Store) SetOutputs(ctx context.Context, outputs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.next()
	next.Outputs = maps.Clone(outputs)
	if next.Outputs == nil {
		next.Outputs = map[string]any{}
	}
	return s.commit(ctx, next, "outputs", "")
}

// Snapshot returns a copy of the current state document.
func (s *Store) Snapshot() *ir.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *s.state
	cp.Resources = slices.Clone(s.state.Resources)
	cp.Outputs = maps.Clone(s.state.Outputs)
	return &cp
}

// next copies the document so a failed write leaves the in-memory state untouched.
func (s *Store) next() *ir.State {
	cp := *s.state
	cp.Resources = slices.Clone(s.state.Resources)
	cp.Serial++
	return &cp
}

func (s *Store) commit(ctx context.Context, next *ir.State, op, name string) error {
	if err := s.backend.Write(ctx, next); err != nil {
		return fmt.Errorf("failed to persist state (%s %s): %w", op, name, err)
	}
	s.state = next
	logging.Debug("state persisted", "op", op, "node", name, "serial", next.Serial)
	return nil
}

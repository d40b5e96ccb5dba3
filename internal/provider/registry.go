package provider

import (
	"fmt"
	"sort"
	"sync"
)

// Provider groups the adapters of one provider ("aws", "kubernetes", ...).
type Provider interface {
	Name() string
	Adapters() map[string]Adapter
}

// Registry maps resource kinds to their adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
	loaded   map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
		loaded:   make(map[string]bool),
	}
}

// LoadProvider registers every adapter of p. Loading the same provider twice is a no-op.
func (r *Registry) LoadProvider(p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.loaded[p.Name()] {
		return nil
	}
	for kind, a := range p.Adapters() {
		if _, exists := r.adapters[kind]; exists {
			return fmt.Errorf("kind %s already registered", kind)
		}
		r.adapters[kind] = a
	}
	r.loaded[p.Name()] = true
	return nil
}

// Register binds a single adapter to kind, replacing any previous binding.
func (r *Registry) Register(kind string, a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[kind] = a
}

// Get returns the adapter for kind.
func (r *Registry) Get(kind string) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[kind]
	if !ok {
		return nil, Permanent(fmt.Errorf("no adapter registered for kind: %s", kind))
	}
	return a, nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	kinds := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

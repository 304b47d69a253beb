// Package adapter contains the per-site source adapters. Each adapter
// fetches its site's raw listing candidates; normalization and merging
// happen downstream.
package adapter

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/saline-motors/truckwatch/internal/model"
)

// Adapter is implemented by each listing source. Fetch returns every raw
// candidate the source currently exposes; the adapter owns its transport,
// pagination, and within-source dedup by source id.
type Adapter interface {
	// Name returns the unique source identifier (e.g., "craigslist").
	Name() string

	// Fetch retrieves all current raw listings from the source.
	Fetch(ctx context.Context) ([]model.RawListing, error)
}

// Registry maps adapter names to their implementations.
type Registry struct {
	adapters map[string]Adapter
	order    []string // insertion order for deterministic iteration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter to the registry.
func (r *Registry) Register(a Adapter) {
	name := a.Name()
	r.adapters[name] = a
	r.order = append(r.order, name)
}

// Get returns an adapter by name.
func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, eris.Errorf("adapter: unknown source %q", name)
	}
	return a, nil
}

// Select returns the named adapters, or all of them when names is empty.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		return r.All(), nil
	}
	result := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, err := r.Get(name)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

// All returns all adapters in registration order.
func (r *Registry) All() []Adapter {
	result := make([]Adapter, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.adapters[name])
	}
	return result
}

// AllNames returns all registered adapter names in registration order.
func (r *Registry) AllNames() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

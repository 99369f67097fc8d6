// Package filters holds the named filter functions "filter name(...)"
// expressions call: built-ins and Lua scripts.
package filters

import (
	"context"
	"slices"
	"sync"

	"github.com/ivmfnal/metacat-sub001/internal/engine"
	"github.com/ivmfnal/metacat-sub001/internal/ir"
)

// Registry maps filter names to functions. It satisfies both
// engine.Filters and compiler.FilterResolver, and is safe for concurrent
// use.
type Registry struct {
	mu      sync.RWMutex
	filters map[string]engine.FilterFunc
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{filters: make(map[string]engine.FilterFunc)}
}

// Builtins returns a registry holding the built-in filters.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register("sample", Sample)
	r.Register("every_nth", EveryNth)
	return r
}

// Register adds or replaces a filter.
func (r *Registry) Register(name string, fn engine.FilterFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters[name] = fn
}

// Lookup implements engine.Filters.
func (r *Registry) Lookup(name string) (engine.FilterFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.filters[name]
	return fn, ok
}

// HasFilter implements compiler.FilterResolver.
func (r *Registry) HasFilter(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Names returns the registered names in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.filters))
	for name := range r.filters {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// gather drains the inputs in order, dropping repeated FIDs.
func gather(ctx context.Context, inputs []engine.Stream) ([]ir.File, error) {
	seen := make(map[string]bool)
	var out []ir.File
	for i, in := range inputs {
		files, err := engine.Collect(ctx, in)
		if err != nil {
			closeAll(inputs[i+1:])
			return nil, err
		}
		for _, f := range files {
			if !seen[f.FID] {
				seen[f.FID] = true
				out = append(out, f)
			}
		}
	}
	return out, nil
}

func closeAll(streams []engine.Stream) {
	for _, s := range streams {
		_ = s.Close()
	}
}

package provider

import (
	"fmt"
	"sort"
	"strings"
)

// Registry holds compiled-in adapters keyed by their upper-cased name.
// Registration is explicit: nothing is discovered by scanning a directory
// or by reflection, so the set of wired providers is always visible at the
// call site that builds the registry.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]Adapter{}}
}

// Register adds adapter under its upper-cased Name(), overwriting any
// previous registration under the same name.
func (r *Registry) Register(a Adapter) {
	r.adapters[strings.ToUpper(a.Name())] = a
}

// Get returns the adapter registered under name (case-insensitive).
func (r *Registry) Get(name string) (Adapter, bool) {
	a, ok := r.adapters[strings.ToUpper(name)]
	return a, ok
}

// MustGet returns the adapter registered under name or panics. Intended for
// wiring code where a missing provider is a startup configuration error.
func (r *Registry) MustGet(name string) Adapter {
	a, ok := r.Get(name)
	if !ok {
		panic(fmt.Sprintf("provider: no adapter registered for %q", name))
	}
	return a
}

// Names returns every registered adapter name, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// SupportsFeature reports whether the adapter registered under name declares
// support for feature.
func (r *Registry) SupportsFeature(name, feature string) bool {
	a, ok := r.Get(name)
	if !ok {
		return false
	}
	return a.Features()[feature]
}

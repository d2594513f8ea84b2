// Package filters provides the built-in derived node kinds and the registry
// the app uses to instantiate them by type name.
package filters

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/vk/scopegrid/internal/graph"
	"github.com/zclconf/go-cty/cty"
)

// ErrUnknownType is returned by Build for a type nobody registered.
var ErrUnknownType = errors.New("unknown filter type")

// Factory builds a filter from its params object.
type Factory func(params cty.Value) (graph.Computer, error)

// Registry maps filter type names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Builtins returns a registry holding every built-in filter.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register("scale", newScale)
	r.Register("offset", newOffset)
	r.Register("subtract", newSubtract)
	r.Register("average", newAverage)
	r.Register("threshold", newThreshold)
	r.Register("rms", newRMS)
	return r
}

// Register adds a factory. Registering a name twice is a programming error.
func (r *Registry) Register(typ string, f Factory) {
	if _, exists := r.factories[typ]; exists {
		panic(fmt.Sprintf("filter type '%s' already registered", typ))
	}
	slog.Debug("Registering filter type.", "type", typ)
	r.factories[typ] = f
}

// Build instantiates a filter of type typ.
func (r *Registry) Build(typ string, params cty.Value) (graph.Computer, error) {
	f, ok := r.factories[typ]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}
	c, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("filter type %q: %w", typ, err)
	}
	return c, nil
}

// Types returns the registered type names, sorted.
func (r *Registry) Types() []string {
	out := make([]string, 0, len(r.factories))
	for typ := range r.factories {
		out = append(out, typ)
	}
	slices.Sort(out)
	return out
}

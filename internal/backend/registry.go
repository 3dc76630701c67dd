package backend

import (
	"fmt"
	"sync"
)

// Factory constructs an adapter instance.
type Factory func() (Adapter, error)

// Registry manages the available backend adapters, keyed by backend
// type tag. Adapters are constructed lazily on first use and shared
// across sessions of the same type.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	adapters  map[string]Adapter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		adapters:  make(map[string]Adapter),
	}
}

// Register adds a factory for a backend type tag.
func (r *Registry) Register(tag string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[tag] = factory
}

// Get returns the shared adapter for a backend type, constructing it on
// first use.
func (r *Registry) Get(tag string) (Adapter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if adapter, ok := r.adapters[tag]; ok {
		return adapter, nil
	}

	factory, ok := r.factories[tag]
	if !ok {
		return nil, fmt.Errorf("unknown backend type: %s", tag)
	}

	adapter, err := factory()
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s backend: %w", tag, err)
	}
	r.adapters[tag] = adapter
	return adapter, nil
}

// Tags returns the registered backend type tags.
func (r *Registry) Tags() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	tags := make([]string, 0, len(r.factories))
	for tag := range r.factories {
		tags = append(tags, tag)
	}
	return tags
}

// Dispose releases every constructed adapter. The first error is
// returned; disposal continues regardless.
func (r *Registry) Dispose() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first error
	for tag, adapter := range r.adapters {
		if err := adapter.Dispose(); err != nil && first == nil {
			first = fmt.Errorf("dispose %s backend: %w", tag, err)
		}
		delete(r.adapters, tag)
	}
	return first
}

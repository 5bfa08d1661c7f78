package page

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"sync"

	"github.com/vango-dev/pagecycle/pkg/tree"
)

// ErrUnknownType is returned when no factory is registered for a page type.
var ErrUnknownType = errors.New("page: unknown page type")

// Factory builds the component tree of a new page from request parameters.
type Factory func(ctx context.Context, params url.Values) (*tree.Tree, error)

// Registry maps page type ids to factories. It is filled at configuration
// time and read concurrently afterwards.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	opts      []Option
}

// NewRegistry creates a registry. opts are applied to every page it
// creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		opts:      opts,
	}
}

// Register adds a factory. Registering a type twice is an error.
func (r *Registry) Register(typeID string, f Factory) error {
	if typeID == "" || f == nil {
		return fmt.Errorf("page: invalid registration for %q", typeID)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typeID]; exists {
		return fmt.Errorf("page: type %q already registered", typeID)
	}
	r.factories[typeID] = f
	return nil
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(typeID string, f Factory) {
	if err := r.Register(typeID, f); err != nil {
		panic(err)
	}
}

// Has reports whether a type is registered.
func (r *Registry) Has(typeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[typeID]
	return ok
}

// Types returns the registered type ids in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// New builds a page of the given type.
func (r *Registry) New(ctx context.Context, typeID string, params url.Values) (*Page, error) {
	r.mu.RLock()
	f, ok := r.factories[typeID]
	opts := r.opts
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeID)
	}
	t, err := f(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("page: build %q: %w", typeID, err)
	}
	return New(typeID, t, opts...), nil
}

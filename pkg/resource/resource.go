// Package resource serves shared resources: session-independent content
// such as stylesheets, images or generated documents, produced by named
// generators and cached by size.
package resource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

const (
	defaultNumCounters = 1e5
	defaultMaxCost     = 64 << 20
	defaultBufferItems = 64
)

// ErrNotFound is returned for unregistered resource names.
var ErrNotFound = errors.New("resource: not found")

// Generator produces the content of a resource.
type Generator func(ctx context.Context) ([]byte, error)

// Resource describes one shared resource.
type Resource struct {
	Name        string
	ContentType string
	Generate    Generator

	// TTL bounds how long generated content is cached. Zero caches until
	// evicted or invalidated; negative disables caching.
	TTL time.Duration
}

// Config configures a Registry.
type Config struct {
	// MaxBytes is the total size of cached content. Default: 64 MiB.
	MaxBytes int64

	// Logger for generation failures. Defaults to slog.Default().
	Logger *slog.Logger
}

// Registry holds resources by name. Generated content is kept in a
// cost-bounded cache with cost equal to its size.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]Resource
	cache     *ristretto.Cache
	logger    *slog.Logger
}

// NewRegistry creates a registry.
func NewRegistry(cfg Config) (*Registry, error) {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = defaultMaxCost
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: defaultNumCounters,
		MaxCost:     cfg.MaxBytes,
		BufferItems: defaultBufferItems,
	})
	if err != nil {
		return nil, fmt.Errorf("resource: create cache: %w", err)
	}
	return &Registry{
		resources: make(map[string]Resource),
		cache:     cache,
		logger:    cfg.Logger.With("component", "resources"),
	}, nil
}

// Register adds a resource. Registering a name twice is an error.
func (r *Registry) Register(res Resource) error {
	if res.Name == "" || res.Generate == nil {
		return fmt.Errorf("resource: invalid registration for %q", res.Name)
	}
	if res.ContentType == "" {
		res.ContentType = "application/octet-stream"
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.resources[res.Name]; exists {
		return fmt.Errorf("resource: %q already registered", res.Name)
	}
	r.resources[res.Name] = res
	return nil
}

// Static registers a resource with fixed content.
func (r *Registry) Static(name, contentType string, data []byte) error {
	return r.Register(Resource{
		Name:        name,
		ContentType: contentType,
		Generate:    func(context.Context) ([]byte, error) { return data, nil },
	})
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.resources))
	for name := range r.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the content and content type of a resource, generating it
// on a cache miss.
func (r *Registry) Get(ctx context.Context, name string) ([]byte, string, error) {
	r.mu.RLock()
	res, ok := r.resources[name]
	r.mu.RUnlock()
	if !ok {
		return nil, "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}

	if v, hit := r.cache.Get(name); hit {
		if data, ok := v.([]byte); ok {
			return data, res.ContentType, nil
		}
	}

	data, err := res.Generate(ctx)
	if err != nil {
		r.logger.Warn("resource generation failed", "resource", name, "error", err)
		return nil, "", fmt.Errorf("resource: generate %q: %w", name, err)
	}
	if res.TTL >= 0 {
		r.cache.SetWithTTL(name, data, int64(len(data))+1, res.TTL)
	}
	return data, res.ContentType, nil
}

// Invalidate drops the cached content of a resource.
func (r *Registry) Invalidate(name string) {
	r.cache.Del(name)
}

// Wait blocks until pending cache writes are applied.
func (r *Registry) Wait() {
	r.cache.Wait()
}

// Close releases the cache.
func (r *Registry) Close() {
	r.cache.Close()
}

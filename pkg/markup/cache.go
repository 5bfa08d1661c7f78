package markup

import (
	"context"
	"log/slog"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the number of templates a Cache keeps.
const DefaultCacheSize = 256

// Cache is a Source that keeps recently used markup in an LRU.
// Markup is immutable, so cached values are shared between requests.
type Cache struct {
	src    Source
	lru    *lru.Cache[string, *Markup]
	logger *slog.Logger
}

// NewCache wraps src. A non-positive size uses DefaultCacheSize.
func NewCache(src Source, size int, logger *slog.Logger) (*Cache, error) {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "markup_cache")
	c := &Cache{src: src, logger: logger}
	l, err := lru.NewWithEvict[string, *Markup](size, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

func (c *Cache) onEvict(key string, _ *Markup) {
	c.logger.Debug("markup evicted", "key", key)
}

// Markup implements Source.
func (c *Cache) Markup(ctx context.Context, key string) (*Markup, error) {
	if m, ok := c.lru.Get(key); ok {
		return m, nil
	}
	m, err := c.src.Markup(ctx, key)
	if err != nil {
		return nil, err
	}
	c.lru.Add(key, m)
	return m, nil
}

// Invalidate drops one template.
func (c *Cache) Invalidate(key string) {
	if c.lru.Remove(key) {
		c.logger.Debug("markup invalidated", "key", key)
	}
}

// Purge drops every template.
func (c *Cache) Purge() {
	c.lru.Purge()
}

// Len returns the number of cached templates.
func (c *Cache) Len() int {
	return c.lru.Len()
}

package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vango-dev/pagecycle/pkg/markup"
	"github.com/vango-dev/pagecycle/pkg/tree"
)

// Tracker records which components rendered during one pass.
type Tracker interface {
	// MarkRendered records i and returns false if it was already recorded.
	MarkRendered(i tree.Index) bool
	Rendered(i tree.Index) bool
	ResetRendered()
}

// Resolver is an application-wide resolver, consulted when a tag id is not
// a direct child of the container being rendered. A resolver that claims
// the tag must render it, consuming its markup.
type Resolver interface {
	Resolve(rc *Context, container tree.Index, tag *markup.Tag) (bool, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(rc *Context, container tree.Index, tag *markup.Tag) (bool, error)

// Resolve implements Resolver.
func (f ResolverFunc) Resolve(rc *Context, container tree.Index, tag *markup.Tag) (bool, error) {
	return f(rc, container, tag)
}

// ComponentResolver is implemented by behaviors of containers that can
// resolve tags for themselves or their descendants. self is the component
// holding the behavior; container is where the direct lookup failed.
type ComponentResolver interface {
	ResolveTag(rc *Context, self, container tree.Index, tag *markup.Tag) (bool, error)
}

// BodyRenderer is implemented by behaviors that produce their component's
// tag body. For open tags it must leave the stream on the close tag.
type BodyRenderer interface {
	RenderBody(rc *Context, self tree.Index, open *markup.Tag) error
}

// TagModifier is implemented by behaviors that change their component's
// open tag. tag is a private copy that may be modified and returned.
type TagModifier interface {
	ModifyTag(rc *Context, self tree.Index, tag *markup.Tag) *markup.Tag
}

// Config holds render settings.
type Config struct {
	// CheckRendering enables the consistency check after full page renders.
	CheckRendering bool

	// StripTags removes pc:* attributes from rendered tags and omits the
	// open and close tags of pc:* elements while keeping their body.
	StripTags bool

	// Resolvers are consulted in order after the direct child lookup.
	Resolvers []Resolver

	// Logger for render events. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns a configuration with the consistency check enabled.
func DefaultConfig() Config {
	return Config{CheckRendering: true}
}

// Engine renders component trees against markup.
type Engine struct {
	mu        sync.RWMutex
	cfg       Config
	resolvers []Resolver
	logger    *slog.Logger
}

// New creates an engine.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		resolvers: append([]Resolver(nil), cfg.Resolvers...),
		logger:    logger.With("component", "render"),
	}
}

// AddResolver appends an application resolver.
func (e *Engine) AddResolver(r Resolver) {
	e.mu.Lock()
	e.resolvers = append(e.resolvers, r)
	e.mu.Unlock()
}

// Resolvers returns a copy of the application resolvers in consultation
// order.
func (e *Engine) Resolvers() []Resolver {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]Resolver(nil), e.resolvers...)
}

// SetCheckRendering toggles the consistency check.
func (e *Engine) SetCheckRendering(on bool) {
	e.mu.Lock()
	e.cfg.CheckRendering = on
	e.mu.Unlock()
}

// CheckRendering reports whether the consistency check is enabled.
func (e *Engine) CheckRendering() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.cfg.CheckRendering
}

func (e *Engine) snapshot() ([]Resolver, bool, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.resolvers, e.cfg.CheckRendering, e.cfg.StripTags
}

// Pass is the input of one render.
type Pass struct {
	// Name identifies the page in errors and logs.
	Name    string
	Tree    *tree.Tree
	Markup  *markup.Markup
	Tracker Tracker

	// Stamp identifies the request. Markup offsets cached under the same
	// stamp are reused by RenderComponent. Zero disables caching.
	Stamp uint64
}

// RenderPage renders the whole tree. The markup is the body of the root
// container. Output is written to w only when rendering succeeds.
func (e *Engine) RenderPage(ctx context.Context, p Pass, w io.Writer) error {
	start := time.Now()
	rc := e.newContext(ctx, p)

	p.Tracker.ResetRendered()
	defer p.Tracker.ResetRendered()

	root := p.Tree.Root()
	err := withLocked(p.Tree, func() error {
		p.Tracker.MarkRendered(root)
		return rc.renderContainerBody(root, nil)
	})
	if err != nil {
		return err
	}
	if err := e.check(p, rc.checkRendering); err != nil {
		return err
	}

	if _, err := io.WriteString(w, rc.buf.String()); err != nil {
		return fmt.Errorf("render: write: %w", err)
	}
	e.logger.Debug("page rendered",
		"page", p.Name,
		"bytes", rc.buf.Len(),
		"duration", time.Since(start))
	return nil
}

// RenderComponent re-renders one component. Its markup position comes from
// the offset cached under p.Stamp; framework-inserted components and
// components without a cached offset are located by scanning.
func (e *Engine) RenderComponent(ctx context.Context, p Pass, i tree.Index, w io.Writer) error {
	n, ok := p.Tree.Get(i)
	if !ok {
		return fmt.Errorf("render: component %d not attached", i)
	}

	pos, cached := -1, false
	if !n.Auto() {
		pos, cached = p.Tree.MarkupOffset(i, p.Stamp)
	}
	if !cached {
		var err error
		pos, err = locate(p, i)
		if err != nil {
			return err
		}
	}

	rc := e.newContext(ctx, p)
	rc.stream.Seek(pos)

	p.Tracker.ResetRendered()
	defer p.Tracker.ResetRendered()

	if err := withLocked(p.Tree, func() error { return rc.RenderComponent(i) }); err != nil {
		return err
	}
	if _, err := io.WriteString(w, rc.buf.String()); err != nil {
		return fmt.Errorf("render: write: %w", err)
	}
	e.logger.Debug("component rendered",
		"page", p.Name,
		"path", p.Tree.Path(i),
		"cached_offset", cached)
	return nil
}

// withLocked runs fn with the hierarchy locked against application changes.
func withLocked(t *tree.Tree, fn func() error) error {
	t.SetLocked(true)
	defer t.SetLocked(false)
	return fn()
}

// check prunes framework-inserted components that did not render and, when
// enabled, fails on visible components that did not render.
func (e *Engine) check(p Pass, enabled bool) error {
	t := p.Tree
	root := t.Root()
	var missing, prune []tree.Index
	t.Walk(root, func(i tree.Index, n tree.Node) bool {
		if i == root {
			return true
		}
		if !n.Visible() {
			return false
		}
		if p.Tracker.Rendered(i) {
			return true
		}
		if n.Auto() {
			prune = append(prune, i)
			return false
		}
		missing = append(missing, i)
		return true
	})

	for _, i := range prune {
		path := t.Path(i)
		if err := t.Remove(i); err != nil {
			e.logger.Warn("prune failed", "page", p.Name, "path", path, "error", err)
			continue
		}
		e.logger.Debug("pruned unrendered auto component", "page", p.Name, "path", path)
	}

	if !enabled || len(missing) == 0 {
		return nil
	}
	paths := make([]string, len(missing))
	for k, i := range missing {
		paths[k] = t.Path(i)
	}
	return &ConsistencyError{Page: p.Name, Paths: paths}
}

// locate finds the open tag of component i by scanning the markup for its
// id below tags carrying its ancestors' ids, in order.
func locate(p Pass, i tree.Index) (int, error) {
	path := p.Tree.Path(i)
	ids := strings.Split(path, tree.PathSeparator)
	target, ancestors := ids[len(ids)-1], ids[:len(ids)-1]

	var stack []string
	for pos := 0; pos < p.Markup.Len(); pos++ {
		el := p.Markup.At(pos)
		if !el.IsTag() {
			continue
		}
		switch el.Tag.Kind {
		case markup.KindOpen, markup.KindOpenClose:
			if el.Tag.ID == target && subsequence(ancestors, stack) {
				return pos, nil
			}
			if el.Tag.Kind == markup.KindOpen {
				stack = append(stack, el.Tag.ID)
			}
		case markup.KindClose:
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	return -1, &MarkupError{
		Err:    ErrUnresolvedComponent,
		Markup: p.Markup.Key(),
		TagID:  target,
		Path:   path,
		Detail: "no markup for component",
	}
}

func subsequence(want, have []string) bool {
	j := 0
	for _, h := range have {
		if j < len(want) && h == want[j] {
			j++
		}
	}
	return j == len(want)
}

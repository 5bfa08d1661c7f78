package target

import (
	"context"
	"errors"
	"fmt"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/markup"
	"github.com/vango-dev/pagecycle/pkg/page"
	"github.com/vango-dev/pagecycle/pkg/render"
	"github.com/vango-dev/pagecycle/pkg/resource"
)

// ContentTypeHTML is the content type of rendered pages.
const ContentTypeHTML = "text/html; charset=utf-8"

var (
	// ErrComponentNotFound is returned when a request names a component
	// path the page does not have.
	ErrComponentNotFound = errors.New("target: component not found")

	// ErrComponentDisabled is returned when a listener is invoked on a
	// component that is invisible or disabled.
	ErrComponentDisabled = errors.New("target: component not enabled")

	// ErrListenerNotFound is returned when a component has no listener of
	// the requested name.
	ErrListenerNotFound = errors.New("target: listener not found")
)

// Env holds what targets need to respond.
type Env struct {
	Engine    *render.Engine
	Markup    markup.Source
	Pages     *page.Registry
	Resources *resource.Registry

	// Allow decides whether a bookmarkable page type may be created.
	// Nil allows everything.
	Allow func(ctx context.Context, pageType string) bool

	// LoginType is the page type shown instead of a denied page. The
	// denied URL is kept as the page map's intercept destination. Empty
	// turns a denial into cycle.ErrAccessDenied.
	LoginType string
}

// PageRef identifies the page being rendered.
type PageRef struct {
	Map     string
	ID      int
	Version int
}

type pageRefKey struct{}

// PageRefFrom returns the page being rendered by the current request.
func PageRefFrom(ctx context.Context) (PageRef, bool) {
	ref, ok := ctx.Value(pageRefKey{}).(PageRef)
	return ref, ok
}

func (e *Env) pass(c *cycle.Cycle, m *page.Map, p *page.Page) (context.Context, render.Pass, error) {
	mk, err := e.Markup.Markup(c.Context(), p.Type())
	if err != nil {
		return nil, render.Pass{}, fmt.Errorf("target: markup for %s: %w", p, err)
	}
	ref := PageRef{ID: p.ID(), Version: p.PendingVersion()}
	if m != nil {
		ref.Map = m.Name()
	}
	ctx := context.WithValue(c.Context(), pageRefKey{}, ref)
	return ctx, render.Pass{
		Name:    p.String(),
		Tree:    p.Tree(),
		Markup:  mk,
		Tracker: p,
		Stamp:   c.Seq(),
	}, nil
}

func (e *Env) renderPage(c *cycle.Cycle, m *page.Map, p *page.Page) error {
	ctx, pass, err := e.pass(c, m, p)
	if err != nil {
		return err
	}
	out := c.Response()
	out.SetContentType(ContentTypeHTML)
	return e.Engine.RenderPage(ctx, pass, out)
}

type dirtyMarker interface {
	MarkDirty()
}

// endRequest closes the page's change-set and moves its dirty flag to the
// session so the page map is persisted.
func endRequest(c *cycle.Cycle, m *page.Map, p *page.Page) {
	p.EndRequest()
	if !p.IsDirty() {
		return
	}
	markSessionDirty(c)
	p.ClearDirty()
	if m != nil {
		m.Touch(p)
	}
}

func markSessionDirty(c *cycle.Cycle) {
	if s, ok := c.Session().(dirtyMarker); ok {
		s.MarkDirty()
	}
}

package target

import (
	"fmt"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/page"
)

// Page renders a stored page.
type Page struct {
	Env  *Env
	Map  *page.Map
	Page *page.Page
}

// Respond renders the whole page.
func (t *Page) Respond(c *cycle.Cycle) error {
	return t.Env.renderPage(c, t.Map, t.Page)
}

// CleanUp closes the page's change-set.
func (t *Page) CleanUp(c *cycle.Cycle) error {
	endRequest(c, t.Map, t.Page)
	return nil
}

// SynchronizeOnSession returns true: pages are session state.
func (t *Page) SynchronizeOnSession(*cycle.Cycle) bool { return true }

func (t *Page) String() string { return "page " + t.Page.String() }

// Component re-renders a single component of a stored page.
type Component struct {
	Env  *Env
	Map  *page.Map
	Page *page.Page
	Path string
}

// Respond renders the component, reusing the markup offset cached by an
// earlier render in the same request.
func (t *Component) Respond(c *cycle.Cycle) error {
	tr := t.Page.Tree()
	i, ok := tr.Lookup(t.Path)
	if !ok {
		return fmt.Errorf("%w: %q on %s", ErrComponentNotFound, t.Path, t.Page)
	}
	ctx, pass, err := t.Env.pass(c, t.Map, t.Page)
	if err != nil {
		return err
	}
	out := c.Response()
	out.SetContentType(ContentTypeHTML)
	return t.Env.Engine.RenderComponent(ctx, pass, i, out)
}

// CleanUp closes the page's change-set.
func (t *Component) CleanUp(c *cycle.Cycle) error {
	endRequest(c, t.Map, t.Page)
	return nil
}

// SynchronizeOnSession returns true.
func (t *Component) SynchronizeOnSession(*cycle.Cycle) bool { return true }

func (t *Component) String() string {
	return fmt.Sprintf("component %s on %s", t.Path, t.Page)
}

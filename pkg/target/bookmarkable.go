package target

import (
	"fmt"
	"net/url"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/page"
)

// Bookmarkable creates a new page of a registered type, stores it in the
// page map and renders it.
type Bookmarkable struct {
	Env    *Env
	Map    *page.Map
	Type   string
	Params url.Values

	page *page.Page
}

// CheckAccess consults Env.Allow. A denied request is sent to the login
// page when one is configured, remembering the requested URL.
func (t *Bookmarkable) CheckAccess(c *cycle.Cycle) error {
	if t.Env.Allow == nil || t.Env.Allow(c.Context(), t.Type) {
		return nil
	}
	if t.Env.LoginType == "" || t.Env.LoginType == t.Type {
		return fmt.Errorf("%w: %s", cycle.ErrAccessDenied, t.Type)
	}
	if req := c.Request(); req != nil && req.URL() != nil {
		t.Map.SetIntercept(req.URL().RequestURI())
	}
	c.Logger().Info("access denied, redirecting to login", "page_type", t.Type, "login", t.Env.LoginType)
	c.SetTarget(&Redirect{URL: BookmarkableURL(t.Env.LoginType, nil)})
	return nil
}

// ProcessEvents builds the page.
func (t *Bookmarkable) ProcessEvents(c *cycle.Cycle) error {
	return t.create(c)
}

func (t *Bookmarkable) create(c *cycle.Cycle) error {
	if t.page != nil {
		return nil
	}
	p, err := t.Env.Pages.New(c.Context(), t.Type, t.Params)
	if err != nil {
		return err
	}
	id := t.Map.Put(p)
	t.page = p
	markSessionDirty(c)
	c.Logger().Debug("page created", "page_type", t.Type, "page", id)
	return nil
}

// Respond renders the new page.
func (t *Bookmarkable) Respond(c *cycle.Cycle) error {
	if err := t.create(c); err != nil {
		return err
	}
	return t.Env.renderPage(c, t.Map, t.page)
}

// CleanUp activates change tracking on the new page.
func (t *Bookmarkable) CleanUp(c *cycle.Cycle) error {
	if t.page != nil {
		endRequest(c, t.Map, t.page)
	}
	return nil
}

// SynchronizeOnSession returns true.
func (t *Bookmarkable) SynchronizeOnSession(*cycle.Cycle) bool { return true }

// Page returns the created page, nil before ProcessEvents.
func (t *Bookmarkable) Page() *page.Page { return t.page }

func (t *Bookmarkable) String() string { return "bookmarkable " + t.Type }

// ContinueToIntercept navigates to the destination remembered by an
// access denial, or to fallback when there is none.
func ContinueToIntercept(m *page.Map, fallback string) error {
	dest, ok := m.ContinueToOriginalDestination()
	if !ok {
		dest = fallback
	}
	return cycle.RestartWith(&Redirect{URL: dest})
}

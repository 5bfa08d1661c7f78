package target

import (
	"fmt"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/page"
)

// Listener invokes a component listener and then renders the page.
// A listener may navigate by returning cycle.RestartWith or replace the
// response with c.SetTarget.
type Listener struct {
	Env      *Env
	Map      *page.Map
	Page     *page.Page
	Path     string
	Listener string

	// Merge folds the listener's changes into the page's current version.
	Merge bool
}

// ProcessEvents calls the listener. The component and all its ancestors
// must be visible and enabled.
func (t *Listener) ProcessEvents(c *cycle.Cycle) error {
	tr := t.Page.Tree()
	i, ok := tr.Lookup(t.Path)
	if !ok {
		return fmt.Errorf("%w: %q on %s", ErrComponentNotFound, t.Path, t.Page)
	}
	if !tr.VisibleInHierarchy(i) || !tr.EnabledInHierarchy(i) {
		return fmt.Errorf("%w: %q on %s", ErrComponentDisabled, t.Path, t.Page)
	}
	n, _ := tr.Get(i)
	fn, ok := n.Listener(t.Listener)
	if !ok {
		return fmt.Errorf("%w: %q on %q", ErrListenerNotFound, t.Listener, t.Path)
	}
	if t.Merge {
		t.Page.MergeNextVersion()
	}
	c.Logger().Debug("invoking listener", "page", t.Page.String(), "path", t.Path, "listener", t.Listener)
	return fn(c.Context(), tr, i)
}

// Respond renders the page as changed by the listener.
func (t *Listener) Respond(c *cycle.Cycle) error {
	return t.Env.renderPage(c, t.Map, t.Page)
}

// CleanUp closes the change-set opened by the listener.
func (t *Listener) CleanUp(c *cycle.Cycle) error {
	endRequest(c, t.Map, t.Page)
	return nil
}

// SynchronizeOnSession returns true.
func (t *Listener) SynchronizeOnSession(*cycle.Cycle) bool { return true }

func (t *Listener) String() string {
	return fmt.Sprintf("listener %s.%s on %s", t.Path, t.Listener, t.Page)
}

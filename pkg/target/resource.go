package target

import (
	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/resource"
)

// Resource serves a shared resource. It does not touch session state.
type Resource struct {
	Registry *resource.Registry
	Name     string
}

// Respond writes the resource content.
func (t *Resource) Respond(c *cycle.Cycle) error {
	data, contentType, err := t.Registry.Get(c.Context(), t.Name)
	if err != nil {
		return err
	}
	out := c.Response()
	out.SetContentType(contentType)
	_, err = out.Write(data)
	return err
}

// CleanUp does nothing.
func (t *Resource) CleanUp(*cycle.Cycle) error { return nil }

// SynchronizeOnSession returns false.
func (t *Resource) SynchronizeOnSession(*cycle.Cycle) bool { return false }

func (t *Resource) String() string { return "resource " + t.Name }

// Redirect sends the client elsewhere.
type Redirect struct {
	URL string
}

// Respond sets the redirect location.
func (t *Redirect) Respond(c *cycle.Cycle) error {
	c.Response().Redirect(t.URL)
	return nil
}

// CleanUp does nothing.
func (t *Redirect) CleanUp(*cycle.Cycle) error { return nil }

// SynchronizeOnSession returns false.
func (t *Redirect) SynchronizeOnSession(*cycle.Cycle) bool { return false }

func (t *Redirect) String() string { return "redirect " + t.URL }

package pagecycle

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/vango-dev/pagecycle/pkg/cycle"
	"github.com/vango-dev/pagecycle/pkg/page"
	"github.com/vango-dev/pagecycle/pkg/render"
	"github.com/vango-dev/pagecycle/pkg/resource"
	"github.com/vango-dev/pagecycle/pkg/target"
	"github.com/vango-dev/pagecycle/pkg/version"
)

// Responder is the default exception responder. It answers every fault
// with an error page whose status reflects the fault.
type Responder struct {
	// Detailed includes the fault message in error pages.
	Detailed bool
}

// RespondTo implements cycle.ExceptionResponder.
func (r *Responder) RespondTo(_ *cycle.Cycle, fault error) (cycle.Target, error) {
	status := StatusOf(fault)
	ep := &ErrorPage{Status: status, Title: titleOf(fault, status)}
	if r.Detailed {
		ep.Message = fault.Error()
	}
	return ep, nil
}

// StatusOf maps a fault to an HTTP status code.
func StatusOf(err error) int {
	switch {
	case errors.Is(err, page.ErrPageExpired),
		errors.Is(err, version.ErrVersionUnavailable):
		return http.StatusGone
	case errors.Is(err, cycle.ErrAccessDenied),
		errors.Is(err, target.ErrComponentDisabled):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound),
		errors.Is(err, page.ErrUnknownType),
		errors.Is(err, version.ErrVersionNotFound),
		errors.Is(err, resource.ErrNotFound),
		errors.Is(err, target.ErrComponentNotFound),
		errors.Is(err, target.ErrListenerNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func titleOf(err error, status int) string {
	switch {
	case errors.Is(err, page.ErrPageExpired):
		return "Page expired"
	case errors.Is(err, version.ErrVersionUnavailable):
		return "Page version no longer available"
	case errors.Is(err, cycle.ErrAccessDenied):
		return "Access denied"
	}
	return http.StatusText(status)
}

// ErrorPage renders a minimal error document. It does not touch session
// state, so it runs without the session lock.
type ErrorPage struct {
	Status  int
	Title   string
	Message string
}

// Respond writes the error document.
func (t *ErrorPage) Respond(c *cycle.Cycle) error {
	out := c.Response()
	out.SetStatus(t.Status)
	out.SetContentType(target.ContentTypeHTML)
	title := render.EscapeHTML(t.Title)
	_, err := fmt.Fprintf(out, "<!DOCTYPE html>\n<html><head><title>%s</title></head><body><h1>%s</h1>", title, title)
	if err != nil {
		return err
	}
	if t.Message != "" {
		if _, err := fmt.Fprintf(out, "<p>%s</p>", render.EscapeHTML(t.Message)); err != nil {
			return err
		}
	}
	_, err = fmt.Fprint(out, "</body></html>\n")
	return err
}

// CleanUp does nothing.
func (t *ErrorPage) CleanUp(*cycle.Cycle) error { return nil }

// SynchronizeOnSession returns false.
func (t *ErrorPage) SynchronizeOnSession(*cycle.Cycle) bool { return false }

func (t *ErrorPage) String() string { return fmt.Sprintf("error page %d", t.Status) }

// pageResponder renders a registered error page type when one exists
// for a status, falling back to Responder.
type pageResponder struct {
	Responder
	env   *target.Env
	pages map[int]string
}

// RespondTo implements cycle.ExceptionResponder.
func (r *pageResponder) RespondTo(c *cycle.Cycle, fault error) (cycle.Target, error) {
	status := StatusOf(fault)
	typeID, ok := r.pages[status]
	if !ok {
		return r.Responder.RespondTo(c, fault)
	}
	maps, ok := c.Session().(pageMaps)
	if !ok {
		return r.Responder.RespondTo(c, fault)
	}
	return &statusPage{
		Bookmarkable: target.Bookmarkable{Env: r.env, Map: maps.PageMap(""), Type: typeID},
		status:       status,
	}, nil
}

// statusPage is a bookmarkable page answered with a status code.
type statusPage struct {
	target.Bookmarkable
	status int
}

// Respond renders the page with the status code.
func (t *statusPage) Respond(c *cycle.Cycle) error {
	if err := t.Bookmarkable.Respond(c); err != nil {
		return err
	}
	c.Response().SetStatus(t.status)
	return nil
}

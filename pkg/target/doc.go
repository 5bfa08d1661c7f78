// Package target provides the request targets of a page application:
// rendering a stored page, invoking a component listener, creating a
// bookmarkable page, re-rendering one component, serving a shared
// resource and redirecting.
//
// Targets share an Env holding the render engine, the markup source and
// the registries. Rendered links point back at the page through the
// helpers in urls.go:
//
//	tree.Spec{
//	    ID:        "next",
//	    Behavior:  target.Link{Listener: "click"},
//	    Listeners: map[string]tree.Listener{"click": onNext},
//	}
package target

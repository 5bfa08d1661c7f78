package render

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for structural render failures. They are wrapped by
// MarkupError.
var (
	// ErrUnresolvedComponent is returned when a component tag is neither a
	// child of its container nor claimed by any resolver.
	ErrUnresolvedComponent = errors.New("render: unable to find component")

	// ErrMarkupMismatch is returned when a required close tag is missing or
	// a tag does not belong to the component being rendered.
	ErrMarkupMismatch = errors.New("render: markup mismatch")

	// ErrStreamStalled is returned when a render step does not advance the
	// markup stream.
	ErrStreamStalled = errors.New("render: markup stream did not advance")

	// ErrRenderedTwice is returned when a component renders more than once
	// in one pass.
	ErrRenderedTwice = errors.New("render: component rendered twice")

	// ErrNotRendered is wrapped by ConsistencyError.
	ErrNotRendered = errors.New("render: components failed to render")
)

// MarkupError is a structural render error at a markup position.
type MarkupError struct {
	Err      error
	Markup   string
	Position int
	Line     int
	TagID    string
	Path     string
	Detail   string
}

// Error implements the error interface.
func (e *MarkupError) Error() string {
	var b strings.Builder
	b.WriteString(e.Err.Error())
	if e.TagID != "" {
		fmt.Fprintf(&b, ": tag %q", e.TagID)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " in %q", e.Path)
	}
	if e.Markup != "" {
		fmt.Fprintf(&b, " (%s", e.Markup)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d", e.Line)
		}
		fmt.Fprintf(&b, ", element %d)", e.Position)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

// Unwrap returns the sentinel error.
func (e *MarkupError) Unwrap() error {
	return e.Err
}

// ConsistencyError lists every visible component that did not render
// during a full page pass.
type ConsistencyError struct {
	Page  string
	Paths []string
}

// Error implements the error interface.
func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("render: %d component(s) of %s failed to render: %s",
		len(e.Paths), e.Page, strings.Join(e.Paths, ", "))
}

// Unwrap returns ErrNotRendered.
func (e *ConsistencyError) Unwrap() error {
	return ErrNotRendered
}

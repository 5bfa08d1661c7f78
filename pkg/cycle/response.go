package cycle

import (
	"bytes"
	"fmt"
	"io"
	"net/url"
)

// Request is the inbound side of a transport.
type Request interface {
	Method() string
	URL() *url.URL
	Params() url.Values
}

// Response is the outbound side of a transport.
type Response interface {
	io.Writer
	SetContentType(contentType string)
	SetStatus(code int)
	Redirect(location string)
}

// Filter transforms buffered output before it reaches the transport.
// Filters run in order at cleanup.
type Filter interface {
	Filter(c *Cycle, body []byte) ([]byte, error)
}

// FilterFunc adapts a function to Filter.
type FilterFunc func(c *Cycle, body []byte) ([]byte, error)

// Filter calls f.
func (f FilterFunc) Filter(c *Cycle, body []byte) ([]byte, error) {
	return f(c, body)
}

// Buffer is the Response targets write to. Nothing reaches the transport
// until the cycle flushes it at cleanup, so a failed render never leaves
// partial output behind.
type Buffer struct {
	body        bytes.Buffer
	contentType string
	status      int
	location    string
}

// Write appends to the body.
func (b *Buffer) Write(p []byte) (int, error) { return b.body.Write(p) }

// SetContentType sets the content type sent with the body.
func (b *Buffer) SetContentType(contentType string) { b.contentType = contentType }

// SetStatus sets the status code. Zero leaves the transport default.
func (b *Buffer) SetStatus(code int) { b.status = code }

// Redirect replaces the response with a redirect to location.
func (b *Buffer) Redirect(location string) { b.location = location }

// Bytes returns the buffered body.
func (b *Buffer) Bytes() []byte { return b.body.Bytes() }

// ContentType returns the buffered content type.
func (b *Buffer) ContentType() string { return b.contentType }

// Status returns the buffered status code.
func (b *Buffer) Status() int { return b.status }

// Location returns the pending redirect, if any.
func (b *Buffer) Location() string { return b.location }

// Reset discards everything buffered so far.
func (b *Buffer) Reset() {
	b.body.Reset()
	b.contentType = ""
	b.status = 0
	b.location = ""
}

// flush passes the body through filters and writes it to out.
func (b *Buffer) flush(c *Cycle, filters []Filter, out Response) error {
	if b.location != "" {
		out.Redirect(b.location)
		return nil
	}

	body := b.body.Bytes()
	for i, f := range filters {
		filtered, err := f.Filter(c, body)
		if err != nil {
			return fmt.Errorf("cycle: filter %d: %w", i, err)
		}
		body = filtered
	}

	if b.contentType != "" {
		out.SetContentType(b.contentType)
	}
	if b.status != 0 {
		out.SetStatus(b.status)
	}
	if len(body) == 0 {
		return nil
	}
	if _, err := out.Write(body); err != nil {
		return fmt.Errorf("cycle: write response: %w", err)
	}
	return nil
}

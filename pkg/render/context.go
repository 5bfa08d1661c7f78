package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/vango-dev/pagecycle/pkg/markup"
	"github.com/vango-dev/pagecycle/pkg/tree"
)

// namespace prefixes the framework's own attributes and element names.
const namespace = "pc:"

// Context is the state of one render, handed to behaviors and resolvers.
type Context struct {
	ctx            context.Context
	engine         *Engine
	pass           Pass
	stream         *markup.Stream
	buf            strings.Builder
	resolvers      []Resolver
	checkRendering bool
	stripTags      bool
}

func (e *Engine) newContext(ctx context.Context, p Pass) *Context {
	resolvers, check, strip := e.snapshot()
	return &Context{
		ctx:            ctx,
		engine:         e,
		pass:           p,
		stream:         markup.NewStream(p.Markup),
		resolvers:      resolvers,
		checkRendering: check,
		stripTags:      strip,
	}
}

// Context returns the request context.
func (rc *Context) Context() context.Context { return rc.ctx }

// Tree returns the tree being rendered.
func (rc *Context) Tree() *tree.Tree { return rc.pass.Tree }

// Stream returns the markup cursor.
func (rc *Context) Stream() *markup.Stream { return rc.stream }

// Stamp returns the request stamp of the pass.
func (rc *Context) Stamp() uint64 { return rc.pass.Stamp }

// Write appends raw output.
func (rc *Context) Write(s string) { rc.buf.WriteString(s) }

// WriteEscaped appends s escaped for HTML content.
func (rc *Context) WriteEscaped(s string) { writeEscaped(&rc.buf, s, false) }

// MarkRendered records i as rendered without producing output. It is used
// by behaviors that suppress markup on purpose.
func (rc *Context) MarkRendered(i tree.Index) bool {
	return rc.pass.Tracker.MarkRendered(i)
}

// RenderComponent renders component i, which must be bound to the tag at
// the cursor. Invisible components consume their markup silently.
func (rc *Context) RenderComponent(i tree.Index) error {
	t := rc.pass.Tree
	n, ok := t.Get(i)
	if !ok {
		return fmt.Errorf("render: component %d not attached", i)
	}
	if !rc.stream.HasMore() {
		return rc.mismatch(nil, t.Path(i), "markup ended before component tag")
	}
	el := rc.stream.Get()
	if !el.IsTag() || el.Tag.Kind == markup.KindClose || el.Tag.ID != n.ID {
		return rc.mismatch(el.Tag, t.Path(i), fmt.Sprintf("expected open tag for %q", n.ID))
	}
	open := el.Tag

	if !n.Auto() {
		t.SetMarkupOffset(i, rc.pass.Stamp, rc.stream.Pos())
	}

	if !n.Visible() {
		if !rc.stream.SkipComponent() {
			return rc.mismatch(open, t.Path(i), "missing close tag")
		}
		return nil
	}

	if !rc.pass.Tracker.MarkRendered(i) {
		return rc.markupError(ErrRenderedTwice, open, t.Path(i), "")
	}

	out := open
	if m, ok := n.Behavior.(TagModifier); ok {
		out = m.ModifyTag(rc, i, cloneTag(open))
	}
	body := bodyRenderer(n)
	// namespace elements only exist for binding; stripping drops them
	// and keeps what they render
	omit := rc.stripTags && strings.HasPrefix(open.Name, namespace)

	rc.stream.Next()
	if open.RequiresClose() {
		if !omit {
			rc.writeOpen(el.Raw, open, out, false)
		}
		if err := body(rc, i, open); err != nil {
			return err
		}
		if !rc.stream.AtCloseOf(open) {
			return rc.mismatch(open, t.Path(i), "missing close tag")
		}
		if !omit {
			rc.Write(rc.stream.Get().Raw)
		}
		rc.stream.Next()
		return nil
	}

	if hasBody(n) && !markup.IsVoid(open.Name) {
		if omit {
			return body(rc, i, open)
		}
		rc.writeOpen(el.Raw, open, out, true)
		if err := body(rc, i, open); err != nil {
			return err
		}
		rc.Write("</" + open.Name + ">")
		return nil
	}
	if !omit {
		rc.writeOpen(el.Raw, open, out, false)
	}
	return nil
}

// RenderBody renders the markup between open and its close tag, binding
// tags to the children of container. The cursor ends on the close tag.
func (rc *Context) RenderBody(container tree.Index, open *markup.Tag) error {
	return rc.renderContainerBody(container, open)
}

// renderContainerBody renders until the close tag of open, or to the end of
// the markup when open is nil.
func (rc *Context) renderContainerBody(container tree.Index, open *markup.Tag) error {
	for {
		if !rc.stream.HasMore() {
			if open == nil {
				return nil
			}
			return rc.mismatch(open, rc.pass.Tree.Path(container), "missing close tag")
		}
		if open != nil && rc.stream.AtCloseOf(open) {
			return nil
		}
		pos := rc.stream.Pos()
		if err := rc.renderNext(container); err != nil {
			return err
		}
		if rc.stream.Pos() <= pos {
			var tag *markup.Tag
			if rc.stream.HasMore() {
				tag = rc.stream.Get().Tag
			}
			return rc.markupError(ErrStreamStalled, tag, rc.pass.Tree.Path(container), "")
		}
	}
}

// SkipBody consumes the body of open without output, leaving the cursor on
// the close tag.
func (rc *Context) SkipBody(open *markup.Tag) error {
	if !rc.stream.SkipToCloseOf(open) {
		return rc.mismatch(open, "", "missing close tag")
	}
	return nil
}

// renderNext renders the element at the cursor within container.
func (rc *Context) renderNext(container tree.Index) error {
	el := rc.stream.Get()
	if !el.IsTag() || el.Tag.Kind == markup.KindClose {
		rc.Write(el.Raw)
		rc.stream.Next()
		return nil
	}

	t := rc.pass.Tree
	tag := el.Tag
	if child, ok := t.Child(container, tag.ID); ok {
		return rc.RenderComponent(child)
	}

	for _, r := range rc.resolvers {
		claimed, err := r.Resolve(rc, container, tag)
		if err != nil {
			return err
		}
		if claimed {
			return nil
		}
	}

	for cur := container; cur != tree.NoIndex; cur = t.Parent(cur) {
		n, ok := t.Get(cur)
		if !ok {
			break
		}
		cr, ok := n.Behavior.(ComponentResolver)
		if !ok {
			continue
		}
		claimed, err := cr.ResolveTag(rc, cur, container, tag)
		if err != nil {
			return err
		}
		if claimed {
			return nil
		}
	}

	return rc.markupError(ErrUnresolvedComponent, tag, t.Path(container), "")
}

func (rc *Context) writeOpen(raw string, orig, out *markup.Tag, asOpen bool) {
	if out == orig && !rc.stripTags && !asOpen {
		rc.Write(raw)
		return
	}
	rc.buf.WriteByte('<')
	rc.buf.WriteString(out.Name)
	for _, a := range out.Attrs {
		if rc.stripTags && strings.HasPrefix(a.Key, namespace) {
			continue
		}
		rc.buf.WriteByte(' ')
		rc.buf.WriteString(a.Key)
		rc.buf.WriteString(`="`)
		writeEscaped(&rc.buf, a.Val, true)
		rc.buf.WriteByte('"')
	}
	if out.Kind == markup.KindOpenClose && !asOpen {
		rc.buf.WriteString("/>")
		return
	}
	rc.buf.WriteByte('>')
}

func (rc *Context) markupError(err error, tag *markup.Tag, path, detail string) *MarkupError {
	me := &MarkupError{
		Err:      err,
		Markup:   rc.pass.Markup.Key(),
		Position: rc.stream.Pos(),
		Path:     path,
		Detail:   detail,
	}
	if tag != nil {
		me.TagID = tag.ID
		me.Line = tag.Line
	}
	return me
}

func (rc *Context) mismatch(tag *markup.Tag, path, detail string) *MarkupError {
	return rc.markupError(ErrMarkupMismatch, tag, path, detail)
}

func cloneTag(t *markup.Tag) *markup.Tag {
	c := *t
	c.Attrs = append([]markup.Attr(nil), t.Attrs...)
	return &c
}

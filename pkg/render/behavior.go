package render

import (
	"fmt"

	"github.com/vango-dev/pagecycle/pkg/markup"
	"github.com/vango-dev/pagecycle/pkg/tree"
)

// EnclosureAttr marks a tag as an enclosure; its value is the id of the
// sibling component that decides whether the enclosure renders.
const EnclosureAttr = "pc:enclosure"

type bodyFunc func(rc *Context, self tree.Index, open *markup.Tag) error

// bodyRenderer picks the body producer of a component: its behavior if it
// has one, a label for leaves with a model, otherwise the markup body.
func bodyRenderer(n tree.Node) bodyFunc {
	if br, ok := n.Behavior.(BodyRenderer); ok {
		return br.RenderBody
	}
	if !n.IsContainer() && n.Model != nil {
		return Label{}.RenderBody
	}
	return func(rc *Context, self tree.Index, open *markup.Tag) error {
		if !open.RequiresClose() {
			return nil
		}
		return rc.RenderBody(self, open)
	}
}

func hasBody(n tree.Node) bool {
	if _, ok := n.Behavior.(BodyRenderer); ok {
		return true
	}
	return !n.IsContainer() && n.Model != nil
}

// Label replaces its tag body with the component's model as text.
type Label struct {
	// Unescaped writes the model without HTML escaping.
	Unescaped bool
}

// RenderBody implements BodyRenderer.
func (l Label) RenderBody(rc *Context, self tree.Index, open *markup.Tag) error {
	n, _ := rc.Tree().Get(self)
	if n.Model != nil {
		text := fmt.Sprint(n.Model)
		if l.Unescaped {
			rc.Write(text)
		} else {
			rc.WriteEscaped(text)
		}
	}
	if open.RequiresClose() {
		return rc.SkipBody(open)
	}
	return nil
}

// Transparent makes a container resolve tags it does not own against its
// parent's children, so markup can wrap siblings without a tree change.
type Transparent struct{}

// ResolveTag implements ComponentResolver.
func (Transparent) ResolveTag(rc *Context, self, container tree.Index, tag *markup.Tag) (bool, error) {
	if self != container {
		return false, nil
	}
	return resolveInParent(rc, self, tag)
}

func resolveInParent(rc *Context, self tree.Index, tag *markup.Tag) (bool, error) {
	t := rc.Tree()
	parent := t.Parent(self)
	if parent == tree.NoIndex {
		return false, nil
	}
	child, ok := t.Child(parent, tag.ID)
	if !ok {
		return false, nil
	}
	return true, rc.RenderComponent(child)
}

// Enclosure renders its body only while the sibling named by Child is
// visible. Components referenced inside a suppressed body count as
// rendered.
type Enclosure struct {
	Child string
}

// RenderBody implements BodyRenderer.
func (e Enclosure) RenderBody(rc *Context, self tree.Index, open *markup.Tag) error {
	if !open.RequiresClose() {
		return nil
	}
	t := rc.Tree()
	parent := t.Parent(self)
	ctrl, ok := t.Child(parent, e.Child)
	if !ok {
		return rc.markupError(ErrUnresolvedComponent, open, t.Path(self),
			fmt.Sprintf("enclosure child %q not found", e.Child))
	}
	if n, _ := t.Get(ctrl); n.Visible() {
		return rc.RenderBody(self, open)
	}

	s := rc.Stream()
	depth := 0
	for ; s.HasMore(); s.Next() {
		el := s.Get()
		if !el.IsTag() {
			continue
		}
		if el.Tag.Kind == markup.KindClose {
			if depth == 0 && el.Tag.Closes(open) {
				return nil
			}
			depth--
			continue
		}
		if depth == 0 {
			if c, ok := t.Child(parent, el.Tag.ID); ok {
				rc.MarkRendered(c)
			}
		}
		if el.Tag.Kind == markup.KindOpen {
			depth++
		}
	}
	return rc.mismatch(open, t.Path(self), "missing close tag")
}

// ResolveTag implements ComponentResolver.
func (e Enclosure) ResolveTag(rc *Context, self, container tree.Index, tag *markup.Tag) (bool, error) {
	if self != container {
		return false, nil
	}
	return resolveInParent(rc, self, tag)
}

// EnclosureResolver is an application resolver that inserts an Enclosure
// for tags carrying the pc:enclosure attribute.
type EnclosureResolver struct{}

// Resolve implements Resolver.
func (EnclosureResolver) Resolve(rc *Context, container tree.Index, tag *markup.Tag) (bool, error) {
	child, ok := tag.Attr(EnclosureAttr)
	if !ok {
		return false, nil
	}
	idx, err := rc.Tree().Add(container, tree.Spec{
		ID:        tag.ID,
		Container: true,
		Auto:      true,
		Behavior:  Enclosure{Child: child},
	})
	if err != nil {
		return false, err
	}
	return true, rc.RenderComponent(idx)
}

// Set is a Tracker backed by a map.
type Set struct {
	m map[tree.Index]struct{}
}

// NewSet returns a tracker sized for capacity components.
func NewSet(capacity int) *Set {
	return &Set{m: make(map[tree.Index]struct{}, capacity)}
}

// MarkRendered implements Tracker.
func (s *Set) MarkRendered(i tree.Index) bool {
	if _, ok := s.m[i]; ok {
		return false
	}
	s.m[i] = struct{}{}
	return true
}

// Rendered implements Tracker.
func (s *Set) Rendered(i tree.Index) bool {
	_, ok := s.m[i]
	return ok
}

// ResetRendered implements Tracker.
func (s *Set) ResetRendered() {
	clear(s.m)
}

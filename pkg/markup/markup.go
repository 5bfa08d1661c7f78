package markup

import "strings"

// TagKind is the open/close shape of a component tag.
type TagKind uint8

const (
	KindOpen      TagKind = iota // <div pc:id="x">
	KindClose                    // </div>
	KindOpenClose                // <input pc:id="x"/>
)

// String returns the string representation of the TagKind.
func (k TagKind) String() string {
	switch k {
	case KindOpen:
		return "open"
	case KindClose:
		return "close"
	case KindOpenClose:
		return "openclose"
	default:
		return "unknown"
	}
}

// Attr is one tag attribute, kept in source order.
type Attr struct {
	Key string
	Val string
}

// Tag is a markup element bound to a component id.
type Tag struct {
	ID    string
	Name  string
	Kind  TagKind
	Attrs []Attr
	Line  int
}

// RequiresClose reports whether a matching close tag must follow.
func (t *Tag) RequiresClose() bool {
	return t.Kind == KindOpen
}

// Closes reports whether t is the close tag of open.
func (t *Tag) Closes(open *Tag) bool {
	return t.Kind == KindClose && open != nil && t.ID == open.ID && t.Name == open.Name
}

// Attr returns the value of the named attribute.
func (t *Tag) Attr(key string) (string, bool) {
	for _, a := range t.Attrs {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// Element is either raw text (Tag is nil) or a component tag. Raw always
// holds the source text of the element.
type Element struct {
	Raw string
	Tag *Tag
}

// IsTag reports whether the element is a component tag.
func (e Element) IsTag() bool { return e.Tag != nil }

// Markup is the immutable element sequence of one template.
type Markup struct {
	key      string
	elements []Element
}

// New creates markup from elements. Adjacent raw elements are merged.
func New(key string, elements []Element) *Markup {
	merged := make([]Element, 0, len(elements))
	for _, e := range elements {
		if !e.IsTag() && len(merged) > 0 && !merged[len(merged)-1].IsTag() {
			merged[len(merged)-1].Raw += e.Raw
			continue
		}
		if !e.IsTag() && e.Raw == "" {
			continue
		}
		merged = append(merged, e)
	}
	return &Markup{key: key, elements: merged}
}

// Key returns the template key the markup was loaded for.
func (m *Markup) Key() string { return m.key }

// Len returns the number of elements.
func (m *Markup) Len() int { return len(m.elements) }

// At returns the element at position i.
func (m *Markup) At(i int) Element { return m.elements[i] }

// String returns the source text.
func (m *Markup) String() string {
	var b strings.Builder
	for _, e := range m.elements {
		b.WriteString(e.Raw)
	}
	return b.String()
}

// Stream is a forward cursor over markup. Streams are cheap; create one per
// render pass.
type Stream struct {
	m   *Markup
	pos int
}

// NewStream returns a stream positioned at the first element.
func NewStream(m *Markup) *Stream {
	return &Stream{m: m}
}

// Markup returns the underlying markup.
func (s *Stream) Markup() *Markup { return s.m }

// HasMore reports whether the cursor is on an element.
func (s *Stream) HasMore() bool { return s.pos < len(s.m.elements) }

// Get returns the current element. It must only be called when HasMore is
// true.
func (s *Stream) Get() Element { return s.m.elements[s.pos] }

// Next advances the cursor and reports whether an element remains.
func (s *Stream) Next() bool {
	if s.pos < len(s.m.elements) {
		s.pos++
	}
	return s.HasMore()
}

// Pos returns the cursor position.
func (s *Stream) Pos() int { return s.pos }

// Seek moves the cursor to pos.
func (s *Stream) Seek(pos int) {
	if pos < 0 {
		pos = 0
	}
	if pos > len(s.m.elements) {
		pos = len(s.m.elements)
	}
	s.pos = pos
}

// AtCloseOf reports whether the current element closes open.
func (s *Stream) AtCloseOf(open *Tag) bool {
	return s.HasMore() && s.Get().IsTag() && s.Get().Tag.Closes(open)
}

// SkipComponent moves the cursor past the component tag it is on, including
// its body and close tag. It reports false when the markup ends first.
func (s *Stream) SkipComponent() bool {
	if !s.HasMore() || !s.Get().IsTag() {
		return false
	}
	open := s.Get().Tag
	s.Next()
	if !open.RequiresClose() {
		return true
	}
	if !s.SkipToCloseOf(open) {
		return false
	}
	s.Next()
	return true
}

// SkipToCloseOf moves the cursor from inside the body of open to its close
// tag, stepping over nested component tags. It reports false when the
// markup ends first or a close tag of another component is found.
func (s *Stream) SkipToCloseOf(open *Tag) bool {
	depth := 0
	for ; s.HasMore(); s.Next() {
		e := s.Get()
		if !e.IsTag() {
			continue
		}
		switch e.Tag.Kind {
		case KindOpen:
			depth++
		case KindClose:
			if depth == 0 {
				return e.Tag.Closes(open)
			}
			depth--
		}
	}
	return false
}

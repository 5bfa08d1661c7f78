package markup

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// IDAttr is the attribute that binds an HTML element to a component.
const IDAttr = "pc:id"

var voidElements = map[string]bool{
	"area": true, "base": true, "br": true, "col": true, "embed": true,
	"hr": true, "img": true, "input": true, "link": true, "meta": true,
	"source": true, "track": true, "wbr": true,
}

// IsVoid reports whether an HTML element never has a close tag.
func IsVoid(name string) bool {
	return voidElements[strings.ToLower(name)]
}

type openElement struct {
	name string
	tag  *Tag
}

// ParseHTML tokenizes an HTML template into markup. Elements carrying the
// pc:id attribute become component tags; everything else stays raw text.
//
// Close tags are paired with their open element by name. A component
// element left open at the end of input is reported by the renderer, not
// here, so a template can still be inspected with check.
func ParseHTML(key string, r io.Reader) (*Markup, error) {
	z := html.NewTokenizer(r)

	var (
		elements []Element
		raw      strings.Builder
		stack    []openElement
		line     = 1
	)
	flush := func() {
		if raw.Len() > 0 {
			elements = append(elements, Element{Raw: raw.String()})
			raw.Reset()
		}
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if errors.Is(z.Err(), io.EOF) {
				break
			}
			return nil, fmt.Errorf("markup: parse %s: %w", key, z.Err())
		}
		// Raw is only valid until the next call to Next.
		text := string(z.Raw())
		startLine := line
		line += strings.Count(text, "\n")

		switch tt {
		case html.StartTagToken, html.SelfClosingTagToken:
			name, attrs, id := readTag(z)
			if id == "" {
				raw.WriteString(text)
				if tt == html.StartTagToken && !voidElements[name] {
					stack = append(stack, openElement{name: name})
				}
				continue
			}
			kind := KindOpen
			if tt == html.SelfClosingTagToken || voidElements[name] {
				kind = KindOpenClose
			}
			tag := &Tag{ID: id, Name: name, Kind: kind, Attrs: attrs, Line: startLine}
			flush()
			elements = append(elements, Element{Raw: text, Tag: tag})
			if kind == KindOpen {
				stack = append(stack, openElement{name: name, tag: tag})
			}

		case html.EndTagToken:
			nameBytes, _ := z.TagName()
			name := string(nameBytes)
			at := -1
			for i := len(stack) - 1; i >= 0; i-- {
				if stack[i].name == name {
					at = i
					break
				}
			}
			if at < 0 {
				raw.WriteString(text)
				continue
			}
			open := stack[at]
			stack = stack[:at]
			if open.tag == nil {
				raw.WriteString(text)
				continue
			}
			flush()
			elements = append(elements, Element{
				Raw: text,
				Tag: &Tag{ID: open.tag.ID, Name: name, Kind: KindClose, Line: startLine},
			})

		default:
			raw.WriteString(text)
		}
	}
	flush()
	return New(key, elements), nil
}

func readTag(z *html.Tokenizer) (name string, attrs []Attr, id string) {
	nameBytes, hasAttr := z.TagName()
	name = string(nameBytes)
	for hasAttr {
		var k, v []byte
		k, v, hasAttr = z.TagAttr()
		a := Attr{Key: string(k), Val: string(v)}
		if a.Key == IDAttr {
			id = a.Val
		}
		attrs = append(attrs, a)
	}
	return name, attrs, id
}

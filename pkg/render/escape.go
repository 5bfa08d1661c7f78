package render

import "strings"

// writeEscaped writes s to buf with HTML special characters replaced by
// entities. In attribute mode whitespace that could break attribute parsing
// is escaped as well.
func writeEscaped(buf *strings.Builder, s string, attr bool) {
	buf.Grow(len(s))
	for _, r := range s {
		switch r {
		case '&':
			buf.WriteString("&amp;")
		case '<':
			buf.WriteString("&lt;")
		case '>':
			buf.WriteString("&gt;")
		case '"':
			buf.WriteString("&quot;")
		case '\'':
			buf.WriteString("&#39;")
		case '\n':
			writeAttrOr(buf, attr, "&#10;", r)
		case '\r':
			writeAttrOr(buf, attr, "&#13;", r)
		case '\t':
			writeAttrOr(buf, attr, "&#9;", r)
		default:
			buf.WriteRune(r)
		}
	}
}

func writeAttrOr(buf *strings.Builder, attr bool, entity string, r rune) {
	if attr {
		buf.WriteString(entity)
		return
	}
	buf.WriteRune(r)
}

// EscapeHTML escapes text for inclusion in HTML content.
func EscapeHTML(s string) string {
	var buf strings.Builder
	writeEscaped(&buf, s, false)
	return buf.String()
}

// EscapeAttr escapes text for inclusion in a quoted attribute value.
func EscapeAttr(s string) string {
	var buf strings.Builder
	writeEscaped(&buf, s, true)
	return buf.String()
}

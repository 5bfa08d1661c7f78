package errors

import (
	stderrors "errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
)

type style string

const (
	styleError style = "\033[1;31m"
	styleCode  style = "\033[1;37m"
	styleText  style = "\033[37m"
	stylePath  style = "\033[36m"
	styleDim   style = "\033[90m"
	styleLink  style = "\033[34m"
	styleReset       = "\033[0m"
)

var plain atomic.Bool

// DisableColors turns off ANSI styling, for logs and tests.
func DisableColors() { plain.Store(true) }

// EnableColors turns ANSI styling back on.
func EnableColors() { plain.Store(false) }

func paint(s style, text string) string {
	if plain.Load() {
		return text
	}
	return string(s) + text + styleReset
}

// wrapWidth is the column at which details are wrapped.
const wrapWidth = 70

// Format renders the error for a terminal: header, location with the
// surrounding template lines, detail, hint, cause and documentation link.
func (e *Error) Format() string {
	var b strings.Builder
	b.WriteString("\n")
	e.writeHeader(&b)
	e.writeLocation(&b)

	if e.Detail != "" {
		for _, para := range strings.Split(e.Detail, "\n") {
			for _, line := range wrapText(para, wrapWidth) {
				fmt.Fprintf(&b, "  %s\n", line)
			}
		}
		b.WriteString("\n")
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  %s%s\n\n", paint(stylePath, "Hint: "), e.Suggestion)
	}
	if e.Wrapped != nil {
		fmt.Fprintf(&b, "  %s%s\n\n", paint(styleDim, "Cause: "), e.Wrapped)
	}
	if e.DocURL != "" {
		fmt.Fprintf(&b, "  %s%s\n", paint(styleDim, "Learn more: "), paint(styleLink, e.DocURL))
	}
	return b.String()
}

func (e *Error) writeHeader(b *strings.Builder) {
	if e.Code == "" {
		fmt.Fprintf(b, "%s%s\n\n", paint(styleError, "ERROR: "), paint(styleText, e.Message))
		return
	}
	fmt.Fprintf(b, "%s%s%s\n\n",
		paint(styleError, "ERROR "), paint(styleCode, e.Code+": "), paint(styleText, e.Message))
}

func (e *Error) writeLocation(b *strings.Builder) {
	if e.Location == nil {
		return
	}
	fmt.Fprintf(b, "  %s\n\n", paint(stylePath, e.Location.String()))
	if len(e.Context) == 0 {
		return
	}

	start := e.ContextStart
	if start < 1 {
		start = max(e.Location.Line-len(e.Context)/2, 1)
	}
	gutter := paint(styleDim, " │ ")
	for i, text := range e.Context {
		n := start + i
		if n != e.Location.Line {
			fmt.Fprintf(b, "    %4d%s%s\n", n, gutter, text)
			continue
		}
		fmt.Fprintf(b, "  %s%4d%s%s\n", paint(styleError, "→ "), n, gutter, text)
		if col := e.Location.Column; col > 0 {
			fmt.Fprintf(b, "       %s%s%s\n",
				paint(styleDim, "│ "), strings.Repeat(" ", col-1), paint(styleError, "^"))
		}
	}
	b.WriteString("\n")
}

// FormatCompact renders the error on one line: location, code, message.
func (e *Error) FormatCompact() string {
	parts := make([]string, 0, 3)
	if e.Location != nil {
		parts = append(parts, e.Location.String())
	}
	if e.Code != "" {
		parts = append(parts, e.Code)
	}
	return strings.Join(append(parts, e.Message), ": ")
}

// wrapText breaks text into lines of at most width columns at word
// boundaries. A single word longer than width gets a line of its own.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	var (
		lines []string
		line  = words[0]
	)
	for _, w := range words[1:] {
		if len(line)+1+len(w) > width {
			lines = append(lines, line)
			line = w
			continue
		}
		line += " " + w
	}
	return append(lines, line)
}

// PrintError writes err to w, fully formatted when it is a coded error.
func PrintError(w io.Writer, err error) {
	var e *Error
	if stderrors.As(err, &e) {
		fmt.Fprint(w, e.Format())
		return
	}
	fmt.Fprintf(w, "\n%s %s\n\n", paint(styleError, "ERROR:"), err)
}

package errors

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"
)

// Category groups codes by the layer that reports them.
type Category string

const (
	CategoryConfig  Category = "config"
	CategoryMarkup  Category = "markup"
	CategoryRender  Category = "render"
	CategoryVersion Category = "version"
	CategoryCLI     Category = "cli"
)

// Location represents a source location, usually inside a markup template.
type Location struct {
	File   string
	Line   int
	Column int
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// Error is a coded diagnostic. Code and Message come from the registry;
// the rest is filled in by whoever reports it.
type Error struct {
	Code     string
	Category Category
	Message  string
	Detail   string

	Location *Location

	// Context holds template lines around Location, starting at line
	// ContextStart.
	Context      []string
	ContextStart int

	Suggestion string
	DocURL     string
	Wrapped    error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return e.Message
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Wrapped
}

// WithLocation points the error at a template position and loads the
// lines around it when the file is readable.
func (e *Error) WithLocation(file string, line, column int) *Error {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context, e.ContextStart = readContextLines(file, line, contextRadius)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *Error) WithSuggestion(s string) *Error {
	e.Suggestion = s
	return e
}

// WithDetail adds a detailed explanation to the error.
func (e *Error) WithDetail(d string) *Error {
	e.Detail = d
	return e
}

// WithContext sets the context lines; the first one is template line
// start.
func (e *Error) WithContext(start int, lines []string) *Error {
	e.Context, e.ContextStart = lines, start
	return e
}

// Wrap wraps another error.
func (e *Error) Wrap(err error) *Error {
	e.Wrapped = err
	return e
}

// contextRadius is the number of lines shown on each side of a location.
const contextRadius = 2

// readContextLines returns up to radius lines either side of line and the
// number of the first line returned.
func readContextLines(filename string, line, radius int) ([]string, int) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, 0
	}
	defer f.Close()

	first := max(line-radius, 1)
	last := line + radius

	var lines []string
	sc := bufio.NewScanner(f)
	for n := 1; n <= last && sc.Scan(); n++ {
		if n >= first {
			lines = append(lines, sc.Text())
		}
	}
	if len(lines) == 0 {
		return nil, 0
	}
	return lines, first
}

// New returns a fresh Error for a registered code. Unregistered codes get
// the message "Unknown error".
func New(code string) *Error {
	tmpl, ok := GetTemplate(code)
	if !ok {
		return &Error{Code: code, Message: "Unknown error"}
	}
	return &Error{
		Code:     code,
		Category: tmpl.Category,
		Message:  tmpl.Message,
		Detail:   tmpl.Detail,
		DocURL:   tmpl.DocURL,
	}
}

// Newf returns an uncoded Error.
func Newf(category Category, format string, args ...any) *Error {
	return &Error{Category: category, Message: fmt.Sprintf(format, args...)}
}

// FromError returns the *Error in err's chain, or wraps err under code.
func FromError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return New(code).Wrap(err)
}

package markup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when no template exists for a key.
var ErrNotFound = errors.New("markup: not found")

// Source supplies markup by template key (usually a page type id).
type Source interface {
	Markup(ctx context.Context, key string) (*Markup, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, key string) (*Markup, error)

// Markup implements Source.
func (f SourceFunc) Markup(ctx context.Context, key string) (*Markup, error) {
	return f(ctx, key)
}

// MapSource serves parsed HTML templates held in memory.
type MapSource map[string]string

// Markup implements Source.
func (s MapSource) Markup(_ context.Context, key string) (*Markup, error) {
	text, ok := s[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return ParseHTML(key, strings.NewReader(text))
}

// DefaultExt is the template file extension used by DirSource.
const DefaultExt = ".html"

// DirSource loads <Dir>/<key><Ext> and parses it as HTML.
type DirSource struct {
	Dir string
	Ext string
}

// Path returns the file that backs key.
func (s DirSource) Path(key string) string {
	ext := s.Ext
	if ext == "" {
		ext = DefaultExt
	}
	return filepath.Join(s.Dir, filepath.FromSlash(key)+ext)
}

// KeyForPath is the inverse of Path. It reports false for files outside Dir
// or with another extension.
func (s DirSource) KeyForPath(path string) (string, bool) {
	ext := s.Ext
	if ext == "" {
		ext = DefaultExt
	}
	rel, err := filepath.Rel(s.Dir, path)
	if err != nil || strings.HasPrefix(rel, "..") || filepath.Ext(rel) != ext {
		return "", false
	}
	return filepath.ToSlash(strings.TrimSuffix(rel, ext)), true
}

// Markup implements Source.
func (s DirSource) Markup(ctx context.Context, key string) (*Markup, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(s.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("markup: open %s: %w", key, err)
	}
	defer f.Close()
	return ParseHTML(key, f)
}

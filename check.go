package pagecycle

import (
	"context"
	"errors"
	"fmt"
	"io"

	pcerrors "github.com/vango-dev/pagecycle/internal/errors"
	"github.com/vango-dev/pagecycle/pkg/markup"
	"github.com/vango-dev/pagecycle/pkg/render"
	"github.com/vango-dev/pagecycle/pkg/tree"
)

// Check builds and renders one page of every registered type with the
// consistency check enabled and the serving engine's resolvers. It returns
// one coded error per failing type.
func (a *App) Check(ctx context.Context) []error {
	types := a.pages.Types()
	if len(types) == 0 {
		return []error{pcerrors.New("E400").
			WithSuggestion("Register page types before running check")}
	}

	engine := render.New(render.Config{
		CheckRendering: true,
		StripTags:      a.config.Render.StripTags,
		Resolvers:      a.engine.Resolvers(),
		Logger:         a.logger,
	})
	var errs []error
	for _, typeID := range types {
		if err := a.checkType(ctx, engine, typeID); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}

func (a *App) checkType(ctx context.Context, engine *render.Engine, typeID string) error {
	p, err := a.pages.New(ctx, typeID, nil)
	if err != nil {
		return pcerrors.New("E401").
			WithDetail(fmt.Sprintf("Page type %q could not be built: %v", typeID, err)).
			Wrap(err)
	}
	mk, err := a.cache.Markup(ctx, typeID)
	if err != nil {
		if errors.Is(err, markup.ErrNotFound) {
			return pcerrors.New("E200").
				WithDetail(fmt.Sprintf("No markup for page type %q", typeID)).
				WithSuggestion(fmt.Sprintf("Create %s/%s%s", a.config.Markup.Dir, typeID, markup.DefaultExt)).
				Wrap(err)
		}
		return pcerrors.FromError(err, "E200")
	}

	pass := render.Pass{Name: p.String(), Tree: p.Tree(), Markup: mk, Tracker: p}
	if err := engine.RenderPage(ctx, pass, io.Discard); err != nil {
		return a.renderError(typeID, err)
	}
	return nil
}

var renderCodes = []struct {
	err  error
	code string
}{
	{render.ErrUnresolvedComponent, "E201"},
	{render.ErrMarkupMismatch, "E202"},
	{render.ErrStreamStalled, "E203"},
	{render.ErrRenderedTwice, "E204"},
	{render.ErrNotRendered, "E220"},
	{tree.ErrHierarchyLocked, "E221"},
}

func (a *App) renderError(typeID string, err error) error {
	code := "E220"
	for _, rc := range renderCodes {
		if errors.Is(err, rc.err) {
			code = rc.code
			break
		}
	}
	e := pcerrors.New(code).
		WithDetail(fmt.Sprintf("Page type %q: %v", typeID, err)).
		Wrap(err)

	var me *render.MarkupError
	if errors.As(err, &me) && me.Line > 0 {
		if dir, ok := a.markupDir(); ok {
			e = e.WithLocation(dir.Path(me.Markup), me.Line, 0)
		}
	}
	var ce *render.ConsistencyError
	if errors.As(err, &ce) {
		e = e.WithSuggestion("Reference these components in the markup or hide them: " + fmt.Sprint(ce.Paths))
	}
	return e
}

// markupDir returns the template directory when markup is read from disk.
func (a *App) markupDir() (markup.DirSource, bool) {
	if a.usesDir {
		return markup.DirSource{Dir: a.config.Markup.Dir}, true
	}
	return markup.DirSource{}, false
}

package main

import (
	"context"
	"net/url"
	"time"

	"github.com/vango-dev/pagecycle"
	"github.com/vango-dev/pagecycle/pkg/markup"
	"github.com/vango-dev/pagecycle/pkg/target"
	"github.com/vango-dev/pagecycle/pkg/tree"
)

const demoHome = "counter"

var demoMarkup = markup.MapSource{
	"counter": `<!DOCTYPE html>
<html>
<head><link rel="stylesheet" href="/r/site.css"></head>
<body>
  <h1>Count: <span pc:id="count">0</span></h1>
  <p>
    <a pc:id="inc" href="#">increment</a>
    <a pc:id="reset" href="#">reset</a>
  </p>
  <p><a href="/p/about">about</a></p>
</body>
</html>`,
	"about": `<!DOCTYPE html>
<html>
<head><link rel="stylesheet" href="/r/site.css"></head>
<body>
  <p>Page created at <span pc:id="created">now</span>.</p>
  <p><a href="/p/counter">back to the counter</a></p>
</body>
</html>`,
}

const demoCSS = `body { font-family: sans-serif; margin: 2rem; }
a { margin-right: 1rem; }
`

// registerDemo adds the demo page types and their stylesheet.
func registerDemo(app *pagecycle.App) {
	app.Pages().MustRegister("counter", func(context.Context, url.Values) (*tree.Tree, error) {
		tr := tree.New("counter")
		count, err := tr.Add(tr.Root(), tree.Spec{ID: "count", Model: 0})
		if err != nil {
			return nil, err
		}
		add := func(id string, next func(int) int) error {
			_, err := tr.Add(tr.Root(), tree.Spec{
				ID:       id,
				Behavior: target.Link{Listener: "click"},
				Listeners: map[string]tree.Listener{
					"click": func(_ context.Context, tr *tree.Tree, _ tree.Index) error {
						n, _ := tr.Get(count)
						return tr.SetModel(count, next(n.Model.(int)))
					},
				},
			})
			return err
		}
		if err := add("inc", func(n int) int { return n + 1 }); err != nil {
			return nil, err
		}
		if err := add("reset", func(int) int { return 0 }); err != nil {
			return nil, err
		}
		return tr, nil
	})

	app.Pages().MustRegister("about", func(context.Context, url.Values) (*tree.Tree, error) {
		tr := tree.New("about")
		_, err := tr.Add(tr.Root(), tree.Spec{ID: "created", Model: time.Now().Format(time.RFC1123)})
		return tr, err
	})

	_ = app.Resources().Static("site.css", "text/css; charset=utf-8", []byte(demoCSS))
}

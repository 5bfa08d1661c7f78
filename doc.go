// Package pagecycle is a runtime for stateful, server-rendered component
// pages.
//
// Every request runs one request cycle (package cycle): the processor
// decodes the URL into a target, the target handles events and renders
// its page against a markup template (package render), and the page
// records its changes so earlier versions can be rebuilt when the user
// goes back (packages page and version).
//
// App wires these pieces together from a configuration file:
//
//	cfg, err := config.Load(".")
//	if err != nil {
//	    return err
//	}
//	app, err := pagecycle.New(cfg, pagecycle.WithHomePage("home"))
//	if err != nil {
//	    return err
//	}
//	app.Pages().MustRegister("home", func(ctx context.Context, params url.Values) (*tree.Tree, error) {
//	    t := tree.New("home")
//	    _, err := t.Add(t.Root(), tree.Spec{ID: "greeting", Model: "hello"})
//	    return t, err
//	})
//	return app.Run(ctx)
//
// with markup/home.html containing
//
//	<h1 pc:id="greeting">placeholder</h1>
package pagecycle

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pagecycle"
	"github.com/vango-dev/pagecycle/internal/config"
)

func serveCmd() *cobra.Command {
	var (
		configPath string
		addr       string
		demo       bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the HTTP server.

Configuration is read from --config, or from pagecycle.json,
pagecycle.yaml or pagecycle.yml in the working directory.

Examples:
  pagecycle serve
  pagecycle serve --addr=:9000
  pagecycle serve --demo`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			return runServe(cmd.Context(), cfg, demo)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file")
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from config)")
	cmd.Flags().BoolVar(&demo, "demo", false, "Use the built-in demo markup instead of markup.dir")

	return cmd
}

func runServe(ctx context.Context, cfg *config.Config, demo bool) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, demo)
	if err != nil {
		return err
	}

	success("Serving %d page type(s)", len(app.Pages().Types()))
	info("Address: http://%s", cfg.Server.Addr)
	info("Sessions: %s", cfg.Session.Store)
	return app.Run(ctx)
}

func newApp(cfg *config.Config, demo bool) (*pagecycle.App, error) {
	opts := []pagecycle.Option{
		pagecycle.WithLogger(newLogger(cfg)),
		pagecycle.WithHomePage(demoHome),
	}
	if demo {
		opts = append(opts, pagecycle.WithMarkup(demoMarkup))
	}
	app, err := pagecycle.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	registerDemo(app)
	return app, nil
}

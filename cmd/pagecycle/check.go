package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vango-dev/pagecycle/internal/errors"
)

func checkCmd() *cobra.Command {
	var (
		configPath string
		demo       bool
	)

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Render every page type with the consistency check",
		Long: `Build one page of every registered type and render it with the
consistency check enabled, reporting components missing from the
markup and markup errors.

Examples:
  pagecycle check
  pagecycle check --config=pagecycle.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			app, err := newApp(cfg, demo)
			if err != nil {
				return err
			}
			defer app.Shutdown(context.Background())

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			errs := app.Check(ctx)
			for _, err := range errs {
				errors.PrintError(os.Stderr, err)
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d page type(s) failed the check", len(errs))
			}
			success("All %d page type(s) render consistently", len(app.Pages().Types()))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Configuration file")
	cmd.Flags().BoolVar(&demo, "demo", false, "Use the built-in demo markup instead of markup.dir")

	return cmd
}

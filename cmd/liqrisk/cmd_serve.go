package main

import (
	"fmt"

	"liqrisk/internal/bootstrap"

	"github.com/spf13/cobra"
)

type serveOptions struct {
	*rootOptions
	port string
}

func newServeCmd(root *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: root}

	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the HTTP, websocket and health servers",
		Example: `  liqrisk serve --config configs/liqrisk.yaml`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if opts.port != "" {
				cfg.Server.Port = opts.port
			}
			if opts.logLevel != "" {
				cfg.System.LogLevel = opts.logLevel
			}

			app, err := bootstrap.NewAppFromConfig(cfg, bootstrap.Options{LogWriter: opts.errOut})
			if err != nil {
				return usage(fmt.Errorf("failed to initialize application: %w", err))
			}
			app.Logger.Info("Starting liqrisk", "version", version, "port", cfg.Server.Port)
			return app.Serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&opts.port, "port", "", "Server address (overrides config)")
	return cmd
}

package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appLog "calpresence/internal/log"
)

func newRunCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the refresh scheduler, presence pollers and HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			// --listen overrides the config file if provided.
			if cmd.Flags().Changed("listen") {
				cfg.Listen = listen
			}

			appLog.Info("calpresence starting", "version", version, "config_path", configPath)

			// Root context with cancellation on SIGINT/SIGTERM.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, defaultDeps())
			if err != nil {
				return err
			}
			err = a.run(ctx)
			appLog.Info("calpresence exiting")
			return err
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (overrides config; empty disables)")
	return cmd
}

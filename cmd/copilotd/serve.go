package main

import (
	"context"
	stdErrors "errors"
	"log/slog"

	"github.com/spf13/cobra"

	"RM-Copilot/internal/api"
	"RM-Copilot/internal/app"
	"RM-Copilot/pkg/logger"
)

func newServeCmd(c *cli) *cobra.Command {
	var (
		addr      string
		enableRun bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr != "" {
				c.cfg.Server.Address = addr
			}
			if cmd.Flags().Changed("runs") {
				c.cfg.Jobs.Enabled = enableRun
			}

			a, err := app.New(ctx, c.cfg)
			if err != nil {
				return err
			}

			opts := []api.Option{
				api.WithTimeouts(c.cfg.Server.ReadTimeout.Std(), c.cfg.Server.ShutdownTimeout.Std()),
				api.WithMetrics(a.Metrics),
			}
			if c.cfg.Jobs.Enabled {
				runs, err := a.NewRuns(ctx)
				if err != nil {
					return err
				}
				defer runs.Close()
				runs.Start(ctx)
				opts = append(opts, api.WithRunService(runs.Service))
				logger.L().Info("异步运行已启用",
					slog.String("queue", c.cfg.Jobs.Queue.Driver),
					slog.Int("workers", c.cfg.Jobs.Workers),
				)
			}

			server := api.NewServer(c.cfg.Server.Address, a.Runner, opts...)
			if err := server.Start(ctx); err != nil && !stdErrors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.address")
	cmd.Flags().BoolVar(&enableRun, "runs", false, "enable the asynchronous /api/v1/runs endpoints")
	return cmd
}

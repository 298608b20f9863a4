package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/geniusreads/conceptd/internal/app"
)

func newServeCmd(configPath *string) *cobra.Command {
	var (
		addr       string
		noBackfill bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Serves the session, analysis and concept API. Embedding backfill runs on the configured cron schedule unless disabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)

			a, closeApp, err := openApp(cmd, *configPath, app.Options{Migrate: true, Graph: true})
			if err != nil {
				return err
			}
			defer closeApp()

			srv, err := a.Server()
			if err != nil {
				return err
			}

			if !noBackfill && a.Config.Backfill.Schedule != "" {
				scheduler, err := startBackfill(ctx, a)
				if err != nil {
					return err
				}
				defer func() { <-scheduler.Stop().Done() }()
			}

			if addr == "" {
				addr = a.Config.Server.Addr
			}
			return srv.Run(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().BoolVar(&noBackfill, "no-backfill", false, "disable scheduled embedding backfill")
	return cmd
}

func startBackfill(ctx context.Context, a *app.App) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(a.Config.Backfill.Schedule, func() {
		if _, err := a.Backfill.Run(ctx); err != nil && ctx.Err() == nil {
			a.Log.Error("Scheduled backfill failed", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	a.Log.Info("Backfill scheduled", "schedule", a.Config.Backfill.Schedule)
	return c, nil
}

package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/geniusreads/conceptd/config"
	"github.com/geniusreads/conceptd/internal/app"
	"github.com/geniusreads/conceptd/internal/logger"
)

// openApp loads configuration and wires the pipeline. The returned close
// function releases every backend and flushes the logger.
func openApp(cmd *cobra.Command, configPath string, opts app.Options) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		return nil, nil, err
	}
	opts.Version = Version

	a, err := app.New(cmd.Context(), cfg, log, opts)
	if err != nil {
		log.Sync()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(context.WithoutCancel(cmd.Context())); err != nil {
			log.Warn("Failed to close backends", "error", err)
		}
		log.Sync()
	}, nil
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q", raw)
	}
	return id, nil
}

// sessionArg resolves an explicit session ID, or the active session when
// none is given.
func sessionArg(ctx context.Context, a *app.App, args []string) (uuid.UUID, error) {
	if len(args) > 0 {
		return parseID(args[0])
	}
	s, err := a.Store.GetActiveSession(ctx)
	if err != nil {
		return uuid.Nil, err
	}
	if s == nil {
		return uuid.Nil, fmt.Errorf("no active session; pass a session id")
	}
	return s.ID, nil
}

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/facegate/pkg/logging"
	"github.com/pario-ai/facegate/pkg/server"
)

const maintenanceInterval = time.Hour

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the facegate HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			a.matcher.Start(ctx)
			go a.maintenanceLoop(ctx)

			srv := server.New(cfg.Listen, server.Deps{
				Matcher:    a.matcher,
				Status:     a.status,
				History:    a.history,
				Attendance: a.attendance,
				Gatherer:   a.registry,
				Logger:     logging.Component(a.logger, "server"),
			})
			a.logger.Info().Str("config", *configPath).Int("gallery", len(a.matcher.Gallery())).Msg("starting facegate")
			return srv.ListenAndServe(ctx)
		},
	}
}

// maintenanceLoop prunes run history and resends unsynced attendance until ctx ends.
func (a *app) maintenanceLoop(ctx context.Context) {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.maintain(ctx)
		}
	}
}

func (a *app) maintain(ctx context.Context) {
	if days := a.cfg.Monitor.HistoryDays; days > 0 {
		cutoff := time.Now().UTC().AddDate(0, 0, -days)
		if n, err := a.history.Prune(ctx, cutoff); err != nil {
			a.logger.Warn().Err(err).Msg("prune run history")
		} else if n > 0 {
			a.logger.Info().Int64("removed", n).Msg("pruned run history")
		}
	}
	if n, err := a.attendance.Sync(ctx); err != nil {
		a.logger.Warn().Err(err).Int("sent", n).Msg("attendance sync")
	} else if n > 0 {
		a.logger.Info().Int("sent", n).Msg("attendance synced")
	}
}

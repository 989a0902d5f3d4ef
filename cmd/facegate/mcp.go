package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/facegate/pkg/logging"
	"github.com/pario-ai/facegate/pkg/mcp"
)

func newMCPCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve facegate tools over stdio (MCP)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, *configPath)
			if err != nil {
				return err
			}
			// stdout carries the protocol.
			cfg.Log.Output = os.Stderr

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			a.matcher.Start(ctx)
			srv := mcp.New(a.status, a.matcher, a.history, logging.Component(a.logger, "mcp"), version)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/launch"
	"github.com/copyleftdev/goheal/internal/server"
	"github.com/copyleftdev/goheal/internal/tasks"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve scaffold runs over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if port > 0 {
				cfg.Server.Port = port
			}

			launcher, err := launch.New(&cfg.Browser, logger)
			if err != nil {
				logger.Error("failed to start browser", zap.Error(err))
				return err
			}
			defer shutdownBrowser(launcher, cfg, logger)

			manager := tasks.NewManager(tasks.NewScaffoldExecutor(cfg, launcher, logger), logger)
			srv := server.NewServer(cfg, manager, logger)

			serverErr := make(chan error, 1)
			go func() { serverErr <- srv.Start() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			select {
			case err := <-serverErr:
				if err != nil {
					logger.Error("server stopped", zap.Error(err))
				}
				return err
			case <-ctx.Done():
				logger.Info("shutdown signal received")
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			err = errors.Join(srv.Shutdown(shutdownCtx), manager.Shutdown(shutdownCtx))
			if err != nil {
				logger.Error("shutdown incomplete", zap.Error(err))
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "Listen port (overrides server.port)")
	return cmd
}

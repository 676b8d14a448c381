package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/config"
	"github.com/copyleftdev/goheal/internal/logging"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "goheal",
		Short: "Self-healing browser automation and end-to-end test scaffolding",
		Long: `goheal drives an authenticated admin application through a browser.

It scaffolds Go end-to-end tests for every navigation module it has not seen
before, serves the same runs over an HTTP API, and checks that the configured
browser can reach the target.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default ./goheal.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level: debug, info, warn, error")

	rootCmd.AddCommand(newGenerateCmd(), newServeCmd(), newCheckCmd())
	return rootCmd
}

// setup loads configuration and builds the logger shared by every command.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, logger, nil
}

func shutdownBrowser(launcher browser.Launcher, cfg *config.Config, logger *zap.Logger) {
	timeout := cfg.Browser.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := launcher.Shutdown(ctx); err != nil {
		logger.Error("browser shutdown failed", zap.Error(err))
	}
}

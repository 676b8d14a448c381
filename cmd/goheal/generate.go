package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/auth"
	"github.com/copyleftdev/goheal/internal/heal"
	"github.com/copyleftdev/goheal/internal/launch"
	"github.com/copyleftdev/goheal/internal/scaffold"
)

func newGenerateCmd() *cobra.Command {
	var (
		outputDir string
		targetURL string
		maxLinks  int
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Scaffold tests for every module that has none yet",
		Long: `generate logs into the target, discovers navigation links and writes one
test file per module whose file does not exist yet. Delete a file to have it
generated again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if outputDir != "" {
				cfg.Generator.OutputDir = outputDir
			}
			if targetURL != "" {
				cfg.Target.URL = targetURL
			}
			if maxLinks > 0 {
				cfg.Generator.MaxLinks = maxLinks
			}

			launcher, err := launch.New(&cfg.Browser, logger)
			if err != nil {
				logger.Error("failed to start browser", zap.Error(err))
				return err
			}
			defer shutdownBrowser(launcher, cfg, logger)

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			authn := auth.NewFormAuthenticator(cfg.Target, heal.PolicyFromConfig(cfg.Healing), logger)
			summary, err := scaffold.NewGenerator(launcher, authn, cfg.Target, cfg.Generator, logger).Run(ctx)
			if err != nil {
				logger.Error("generation failed", zap.Error(err))
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "generated %d, skipped %d, failed %d; summary in %s\n",
				len(summary.Generated), len(summary.Skipped), len(summary.Failed),
				filepath.Join(cfg.Generator.OutputDir, cfg.Generator.SummaryFile))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Directory for generated tests (overrides generator.outputDir)")
	cmd.Flags().StringVar(&targetURL, "url", "", "Target base URL (overrides target.url)")
	cmd.Flags().IntVar(&maxLinks, "max-links", 0, "Visit at most this many discovered links")
	return cmd
}

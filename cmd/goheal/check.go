package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/dom"
	"github.com/copyleftdev/goheal/internal/heal"
	"github.com/copyleftdev/goheal/internal/launch"
)

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [url]",
		Short: "Verify the browser can open a page and classify it",
		Long: `check launches the configured browser engine, opens the URL (default: the
target URL) with navigation retries, waits for the page to settle and prints
what the page offers. No login is performed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			url := cfg.Target.URL
			if len(args) == 1 {
				url = args[0]
			}

			launcher, err := launch.New(&cfg.Browser, logger)
			if err != nil {
				logger.Error("failed to start browser", zap.Error(err))
				return err
			}
			defer shutdownBrowser(launcher, cfg, logger)

			aff, err := check(cmd.Context(), launcher, heal.PolicyFromConfig(cfg.Healing), url, cfg.Generator.SampleSize, logger)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "check FAILED: %v\n", err)
				return err
			}
			printAffordances(cmd.OutOrStdout(), url, aff)
			return nil
		},
	}
}

func check(ctx context.Context, launcher browser.Launcher, policy heal.Policy, url string, sampleSize int, logger *zap.Logger) (dom.PageAffordances, error) {
	session, err := launcher.NewSession(ctx)
	if err != nil {
		return dom.PageAffordances{}, err
	}
	defer session.Close()

	r := heal.NewResolver(session.Page, policy, logger)
	if _, err := r.NavigateWithRetry(ctx, url, heal.Options{}); err != nil {
		return dom.PageAffordances{}, err
	}
	if !r.WaitForStable(ctx, 0) {
		logger.Warn("page still busy after stable timeout")
	}
	r.DismissKnownPopups(ctx)

	html, err := session.Page.Content(ctx)
	if err != nil {
		return dom.PageAffordances{}, fmt.Errorf("failed to capture page: %w", err)
	}
	return dom.Classify(html, sampleSize)
}

func printAffordances(w io.Writer, url string, aff dom.PageAffordances) {
	yesNo := func(b bool) string {
		if b {
			return "yes"
		}
		return "no"
	}
	fmt.Fprintf(w, "check PASSED: %s\n", url)
	fmt.Fprintf(w, "  table:  %s\n", yesNo(aff.HasTable))
	fmt.Fprintf(w, "  form:   %s\n", yesNo(aff.HasForm))
	fmt.Fprintf(w, "  search: %s\n", yesNo(aff.HasSearch))
	fmt.Fprintf(w, "  tabs:   %s\n", yesNo(aff.HasTabs))
	for _, row := range []struct {
		label string
		items []string
	}{
		{"buttons", aff.Buttons},
		{"inputs", aff.Inputs},
		{"links", aff.Links},
		{"selectors", aff.Selectors},
	} {
		if len(row.items) > 0 {
			fmt.Fprintf(w, "  %s: %s\n", row.label, strings.Join(row.items, ", "))
		}
	}
}

// Package scaffold bootstraps end-to-end tests for an application's modules
// by inspecting a live, authenticated session.
//
// A run logs in, discovers navigation links, skips every module whose test
// file already exists, visits the rest, classifies each landed page and
// writes one test file per module plus a run summary.
package scaffold

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/auth"
	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/config"
	"github.com/copyleftdev/goheal/internal/dom"
)

var ErrAuthentication = errors.New("authentication failed")

type Generator struct {
	launcher browser.Launcher
	auth     auth.Authenticator
	creds    auth.Credentials
	target   config.TargetConfig
	cfg      config.GeneratorConfig
	logger   *zap.Logger
	now      func() time.Time
}

func NewGenerator(
	launcher browser.Launcher,
	authenticator auth.Authenticator,
	target config.TargetConfig,
	cfg config.GeneratorConfig,
	logger *zap.Logger,
) *Generator {
	return &Generator{
		launcher: launcher,
		auth:     authenticator,
		creds:    auth.Credentials{Username: target.Username, Password: target.Password},
		target:   target,
		cfg:      cfg,
		logger:   logger.Named("scaffold"),
		now:      time.Now,
	}
}

// Run performs one generation pass. Only session, authentication and summary
// failures are returned; per-module problems end up in the summary.
func (g *Generator) Run(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{
		RunID:     uuid.NewString(),
		Target:    g.target.URL,
		OutputDir: g.cfg.OutputDir,
		StartedAt: g.now().UTC(),
	}
	logger := g.logger.With(zap.String("run", summary.RunID))

	session, err := g.launcher.NewSession(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to open browser session: %w", err)
	}
	defer session.Close()
	page := session.Page

	logger.Info("authenticating", zap.String("target", g.target.URL))
	if err := g.auth.Login(ctx, page, g.creds); err != nil {
		return summary, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}

	if err := os.MkdirAll(g.cfg.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("failed to create output directory: %w", err)
	}

	home, err := page.URL(ctx)
	if err != nil {
		return summary, fmt.Errorf("failed to read landing URL: %w", err)
	}
	links, err := discover(ctx, page, g.cfg.ModulePath)
	if err != nil {
		return summary, err
	}
	if g.cfg.MaxLinks > 0 && len(links) > g.cfg.MaxLinks {
		logger.Info("limiting discovered links", zap.Int("found", len(links)), zap.Int("max", g.cfg.MaxLinks))
		links = links[:g.cfg.MaxLinks]
	}
	summary.Discovered = links
	logger.Info("discovered module links", zap.Int("count", len(links)))

	seen := make(map[string]bool)
	for _, link := range links {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		slug := Slugify(link.Name)
		path := filepath.Join(g.cfg.OutputDir, TestFileName(slug))

		if seen[slug] {
			summary.skip(link, slug, "duplicate module name in this run")
			continue
		}
		seen[slug] = true
		if _, err := os.Stat(path); err == nil {
			logger.Debug("module already covered", zap.String("module", link.Name), zap.String("file", path))
			summary.skip(link, slug, "test file already exists")
			continue
		}

		profile, err := g.visit(ctx, page, home, link, slug)
		if err != nil {
			logger.Warn("skipping module", zap.String("module", link.Name), zap.Error(err))
			summary.fail(link, err)
			continue
		}
		summary.Modules = append(summary.Modules, *profile)
	}

	if len(summary.Modules) > 0 {
		if err := g.ensureMain(); err != nil {
			logger.Warn("failed to write TestMain", zap.Error(err))
		}
	}
	for _, profile := range summary.Modules {
		path := filepath.Join(g.cfg.OutputDir, TestFileName(profile.Slug))
		if err := g.emit(path, profile); err != nil {
			logger.Warn("failed to write module test", zap.String("module", profile.Name), zap.Error(err))
			summary.fail(Link{Name: profile.Name, Href: profile.URL}, err)
			continue
		}
		summary.Generated = append(summary.Generated, path)
		logger.Info("generated module test", zap.String("module", profile.Name), zap.String("file", path))
	}

	summary.FinishedAt = g.now().UTC()
	if err := WriteSummary(g.cfg.OutputDir, g.cfg.SummaryFile, g.cfg.SummaryYAML, summary); err != nil {
		return summary, fmt.Errorf("failed to write run summary: %w", err)
	}
	logger.Info("generation finished",
		zap.Int("generated", len(summary.Generated)),
		zap.Int("skipped", len(summary.Skipped)),
		zap.Int("failed", len(summary.Failed)),
	)
	return summary, nil
}

// visit clicks the discovered link from the landing page and classifies
// where it lands.
func (g *Generator) visit(ctx context.Context, page browser.Page, home string, link Link, slug string) (*ModuleProfile, error) {
	if current, err := page.URL(ctx); err == nil && current != home {
		if err := page.Goto(ctx, home); err != nil {
			return nil, fmt.Errorf("failed to return to landing page: %w", err)
		}
	}

	clickCtx, cancel := context.WithTimeout(ctx, g.clickTimeout())
	defer cancel()
	target, nth := link.Selector(g.cfg.ModulePath)
	if err := page.Locate(target).Nth(nth).Click(clickCtx, browser.ClickOptions{}); err != nil {
		return nil, fmt.Errorf("failed to click: %w", err)
	}
	if err := g.settle(clickCtx, page); err != nil {
		return nil, fmt.Errorf("page did not settle: %w", err)
	}

	url, err := page.URL(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read URL: %w", err)
	}
	html, err := page.Content(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to capture page: %w", err)
	}
	aff, err := dom.Classify(html, g.cfg.SampleSize)
	if err != nil {
		return nil, fmt.Errorf("failed to classify page: %w", err)
	}

	return &ModuleProfile{
		Name:      link.Name,
		Slug:      slug,
		URL:       url,
		Selectors: aff.Selectors,
		Buttons:   aff.Buttons,
		Inputs:    aff.Inputs,
		Links:     aff.Links,
		HasTable:  aff.HasTable,
		HasForm:   aff.HasForm,
		HasSearch: aff.HasSearch,
		HasTabs:   aff.HasTabs,
	}, nil
}

func (g *Generator) clickTimeout() time.Duration {
	if g.cfg.ClickTimeout > 0 {
		return g.cfg.ClickTimeout
	}
	return 5 * time.Second
}

// settle gives client-side rendering a moment, then waits for the document
// to finish loading.
func (g *Generator) settle(ctx context.Context, page browser.Page) error {
	if g.cfg.SettleTime > 0 {
		t := time.NewTimer(g.cfg.SettleTime)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return waitReady(ctx, page)
}

func (g *Generator) emit(path string, profile ModuleProfile) error {
	src, err := Render(g.cfg.PackageName, profile)
	if err != nil {
		return err
	}
	// O_EXCL keeps the existence check authoritative even if something
	// created the file mid-run.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(src); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (g *Generator) ensureMain() error {
	path := filepath.Join(g.cfg.OutputDir, "main_test.go")
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	src, err := RenderMain(g.cfg.PackageName)
	if err != nil {
		return err
	}
	return os.WriteFile(path, src, 0o644)
}

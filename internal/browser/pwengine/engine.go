// Package pwengine implements the browser capability surface on top of
// playwright-go. It is selected with browser.engine: playwright.
package pwengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/playwright-community/playwright-go"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/config"
)

var _ browser.Launcher = (*Engine)(nil)

// Engine owns one Playwright driver and one Chromium instance. Every session
// gets its own BrowserContext, so cookies and storage never leak between them.
type Engine struct {
	pw       *playwright.Playwright
	chromium playwright.Browser
	cfg      *config.BrowserConfig
	logger   *zap.Logger
	sem      *semaphore.Weighted
	active   sync.WaitGroup
}

func NewEngine(cfg *config.BrowserConfig, logger *zap.Logger) (*Engine, error) {
	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("browser.maxSessions must be at least 1, got %d", cfg.MaxSessions)
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	launch := playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(cfg.Headless),
		Args:     []string{"--disable-dev-shm-usage", "--mute-audio"},
	}
	if cfg.ExecutablePath != "" {
		launch.ExecutablePath = playwright.String(cfg.ExecutablePath)
	}
	chromium, err := pw.Chromium.Launch(launch)
	if err != nil {
		_ = pw.Stop()
		return nil, fmt.Errorf("failed to launch chromium: %w", err)
	}

	return &Engine{
		pw:       pw,
		chromium: chromium,
		cfg:      cfg,
		logger:   logger.Named("playwright"),
		sem:      semaphore.NewWeighted(int64(cfg.MaxSessions)),
	}, nil
}

func (e *Engine) NewSession(ctx context.Context) (*browser.Session, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire browser slot: %w", err)
	}
	e.active.Add(1)

	opts := playwright.BrowserNewContextOptions{
		IgnoreHttpsErrors: playwright.Bool(true),
	}
	if e.cfg.WindowWidth > 0 && e.cfg.WindowHeight > 0 {
		opts.Viewport = &playwright.Size{Width: e.cfg.WindowWidth, Height: e.cfg.WindowHeight}
	}
	bctx, err := e.chromium.NewContext(opts)
	if err != nil {
		e.sem.Release(1)
		e.active.Done()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}
	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		e.sem.Release(1)
		e.active.Done()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	id := fmt.Sprintf("%p", page)
	release := func() {
		if err := bctx.Close(); err != nil {
			e.logger.Warn("failed to close browser context", zap.String("session", id), zap.Error(err))
		}
		e.sem.Release(1)
		e.active.Done()
	}
	e.logger.Debug("browser session started", zap.String("session", id))
	return browser.NewSession(id, &Page{page: page}, release), nil
}

func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info("shutting down playwright engine")

	done := make(chan struct{})
	go func() {
		e.active.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("shutdown timeout reached while waiting for active browser sessions")
		return ctx.Err()
	}

	if err := e.chromium.Close(); err != nil {
		e.logger.Warn("failed to close chromium", zap.Error(err))
	}
	if err := e.pw.Stop(); err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	e.logger.Info("playwright engine shutdown complete")
	return nil
}

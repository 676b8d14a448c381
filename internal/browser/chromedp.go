package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/copyleftdev/goheal/internal/config"
)

// Compile-time check to ensure Manager implements the interface
var _ Launcher = (*Manager)(nil)

// Manager owns the Chrome exec allocator and hands out one isolated browser
// context per session.
type Manager struct {
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	cfg             *config.BrowserConfig
	logger          *zap.Logger
	sem             *semaphore.Weighted
	activeCtxWg     sync.WaitGroup
}

func NewManager(cfg *config.BrowserConfig, logger *zap.Logger) (*Manager, error) {
	if cfg.MaxSessions < 1 {
		return nil, fmt.Errorf("browser.maxSessions must be at least 1, got %d", cfg.MaxSessions)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("mute-audio", true),
		chromedp.IgnoreCertErrors,
	)
	if cfg.WindowWidth > 0 && cfg.WindowHeight > 0 {
		opts = append(opts, chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight))
	}
	if cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecutablePath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	} else {
		opts = append(opts, chromedp.Flag("guest", true))
	}

	allocatorCtx, cancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Manager{
		allocatorCtx:    allocatorCtx,
		allocatorCancel: cancel,
		cfg:             cfg,
		logger:          logger.Named("chromedp"),
		sem:             semaphore.NewWeighted(int64(cfg.MaxSessions)),
	}, nil
}

// NewSession blocks until a session slot is free, then starts a fresh tab.
// The returned session must be closed to release the slot.
func (m *Manager) NewSession(ctx context.Context) (*Session, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire browser slot: %w", err)
	}
	m.activeCtxWg.Add(1)

	sugar := m.logger.Sugar()
	browserCtx, browserCancel := chromedp.NewContext(
		m.allocatorCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)
	release := func() {
		browserCancel()
		m.sem.Release(1)
		m.activeCtxWg.Done()
	}

	// An empty Run starts the browser and the tab.
	if err := chromedp.Run(browserCtx); err != nil {
		release()
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}

	id := "unknown"
	if c := chromedp.FromContext(browserCtx); c != nil && c.Target != nil {
		id = c.Target.TargetID.String()
	} else {
		m.logger.Warn("could not get target ID, browser context might not be fully initialized")
	}
	m.logger.Debug("browser session started", zap.String("session", id))

	return NewSession(id, newCDPPage(browserCtx, m.logger.With(zap.String("session", id))), release), nil
}

func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down browser manager")

	if m.allocatorCancel != nil {
		m.allocatorCancel()
	}

	shutdownComplete := make(chan struct{})
	go func() {
		m.activeCtxWg.Wait()
		close(shutdownComplete)
	}()

	select {
	case <-shutdownComplete:
		m.logger.Info("all active browser sessions have finished")
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout reached while waiting for active browser sessions")
		return ctx.Err()
	}

	m.logger.Info("browser manager shutdown complete")
	return nil
}

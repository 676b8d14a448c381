// Package e2e is the runtime used by generated module tests. Each test gets
// its own authenticated browser session on a browser shared by the package.
package e2e

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/auth"
	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/config"
	"github.com/copyleftdev/goheal/internal/heal"
	"github.com/copyleftdev/goheal/internal/launch"
	"github.com/copyleftdev/goheal/internal/logging"
	"github.com/copyleftdev/goheal/internal/selector"
)

const (
	// EnvEnable must be non-empty for Setup to run; otherwise tests skip.
	EnvEnable = "GOHEAL_E2E"
	// EnvConfig optionally names the config file.
	EnvConfig = "GOHEAL_CONFIG"
)

// Enabled reports whether end-to-end tests were requested.
func Enabled() bool {
	return os.Getenv(EnvEnable) != ""
}

type environment struct {
	cfg      *config.Config
	logger   *zap.Logger
	launcher browser.Launcher
}

var (
	envOnce sync.Once
	env     *environment
	envErr  error
)

func shared() (*environment, error) {
	envOnce.Do(func() {
		cfg, err := config.LoadConfig(os.Getenv(EnvConfig))
		if err != nil {
			envErr = fmt.Errorf("failed to load config: %w", err)
			return
		}
		logger, err := logging.New(cfg.Log)
		if err != nil {
			envErr = fmt.Errorf("failed to create logger: %w", err)
			return
		}
		launcher, err := launch.New(&cfg.Browser, logger)
		if err != nil {
			envErr = fmt.Errorf("failed to start browser: %w", err)
			return
		}
		env = &environment{cfg: cfg, logger: logger, launcher: launcher}
	})
	return env, envErr
}

// Main runs the package's tests and shuts the shared browser down afterwards.
// Generated packages call it from TestMain.
func Main(m *testing.M) int {
	code := m.Run()
	if env != nil {
		timeout := env.cfg.Browser.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := env.launcher.Shutdown(ctx); err != nil {
			env.logger.Error("browser shutdown failed", zap.Error(err))
		}
		_ = env.logger.Sync()
	}
	return code
}

// Harness drives one authenticated session for one test.
type Harness struct {
	Page     browser.Page
	Resolver *heal.Resolver
	Config   *config.Config
	Logger   *zap.Logger
}

// Setup skips the test unless end-to-end runs are enabled, then opens a
// session on the shared browser and logs in with the configured target.
func Setup(t testing.TB) *Harness {
	t.Helper()
	if !Enabled() {
		t.Skipf("set %s=1 to run against a live target", EnvEnable)
	}
	e, err := shared()
	if err != nil {
		t.Fatalf("e2e environment: %v", err)
	}
	policy := heal.PolicyFromConfig(e.cfg.Healing)
	return New(t, e.cfg, e.launcher, auth.NewFormAuthenticator(e.cfg.Target, policy, e.logger), e.logger)
}

// New opens a session from launcher, logs in through authn and waits for the
// landing page to settle. The session is released when t finishes; a failed
// test leaves a screenshot behind when a screenshot directory is configured.
func New(t testing.TB, cfg *config.Config, launcher browser.Launcher, authn auth.Authenticator, logger *zap.Logger) *Harness {
	t.Helper()
	ctx := t.Context()

	session, err := launcher.NewSession(ctx)
	if err != nil {
		t.Fatalf("failed to open browser session: %v", err)
	}
	logger = logger.Named("e2e").With(zap.String("test", t.Name()), zap.String("session", session.ID))

	t.Cleanup(func() {
		if t.Failed() && cfg.Browser.ScreenshotDir != "" {
			saveScreenshot(session.Page, cfg.Browser.ScreenshotDir, t.Name(), logger)
		}
		session.Close()
	})

	h := &Harness{
		Page:     session.Page,
		Resolver: heal.NewResolver(session.Page, heal.PolicyFromConfig(cfg.Healing), logger),
		Config:   cfg,
		Logger:   logger,
	}

	creds := auth.Credentials{Username: cfg.Target.Username, Password: cfg.Target.Password}
	if err := authn.Login(ctx, session.Page, creds); err != nil {
		t.Fatalf("login failed: %v", err)
	}
	h.Resolver.WaitForStable(ctx, 0)
	return h
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

func screenshotPath(dir, testName string) string {
	return filepath.Join(dir, strings.Trim(unsafeName.ReplaceAllString(testName, "_"), "_")+".png")
}

// saveScreenshot runs after the test's context is cancelled, so it uses its own.
func saveScreenshot(page browser.Page, dir, testName string, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	buf, err := page.Screenshot(ctx)
	if err != nil {
		logger.Warn("failed to capture failure screenshot", zap.Error(err))
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		logger.Warn("failed to create screenshot directory", zap.Error(err))
		return
	}
	path := screenshotPath(dir, testName)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		logger.Warn("failed to write failure screenshot", zap.Error(err))
		return
	}
	logger.Info("saved failure screenshot", zap.String("path", path))
}

// resolve makes app-relative paths absolute against the target URL.
func (h *Harness) resolve(url string) string {
	if strings.HasPrefix(url, "/") {
		return strings.TrimRight(h.Config.Target.URL, "/") + url
	}
	return url
}

// Open navigates with retry, then waits for the page to settle and closes
// any known popups.
func (h *Harness) Open(t testing.TB, url string) {
	t.Helper()
	ctx := t.Context()
	if _, err := h.Resolver.NavigateWithRetry(ctx, h.resolve(url), heal.Options{}); err != nil {
		t.Fatalf("open %s: %v", url, err)
	}
	h.Resolver.WaitForStable(ctx, 0)
	h.Resolver.DismissKnownPopups(ctx)
}

// ExpectVisible fails the test unless one of the candidates becomes visible.
func (h *Harness) ExpectVisible(t testing.TB, candidates ...selector.Descriptor) {
	t.Helper()
	if _, err := h.Resolver.WaitForAny(t.Context(), selector.Candidates(candidates...), heal.Options{}); err != nil {
		t.Fatalf("expect visible: %v", err)
	}
}

func (h *Harness) Click(t testing.TB, candidates ...selector.Descriptor) {
	t.Helper()
	if _, err := h.Resolver.ResolveAndClick(t.Context(), selector.Candidates(candidates...), heal.Options{}); err != nil {
		t.Fatalf("click: %v", err)
	}
}

func (h *Harness) Fill(t testing.TB, value string, candidates ...selector.Descriptor) {
	t.Helper()
	if _, err := h.Resolver.ResolveAndFill(t.Context(), selector.Candidates(candidates...), value, heal.Options{}); err != nil {
		t.Fatalf("fill %q: %v", value, err)
	}
}

// Retry runs fn again while it fails on a stale element, for steps that
// touch the page directly.
func (h *Harness) Retry(t testing.TB, fn func(ctx context.Context) error) {
	t.Helper()
	if _, err := h.Resolver.RetryOnStaleReference(t.Context(), fn); err != nil {
		t.Fatalf("retry: %v", err)
	}
}

// ExpectText fails the test unless one reachable candidate's text matches.
func (h *Harness) ExpectText(t testing.TB, expected heal.Expected, candidates ...selector.Descriptor) {
	t.Helper()
	if _, err := h.Resolver.ExpectTextAny(t.Context(), selector.Candidates(candidates...), expected, heal.Options{}); err != nil {
		t.Fatalf("expect text %s: %v", expected, err)
	}
}

// Stable waits for loading indicators to clear. It never fails the test.
func (h *Harness) Stable(t testing.TB) {
	t.Helper()
	if !h.Resolver.WaitForStable(t.Context(), 0) {
		h.Logger.Warn("page still busy, continuing")
	}
}

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/config"
	"github.com/copyleftdev/goheal/internal/heal"
	"github.com/copyleftdev/goheal/internal/selector"
)

var (
	ErrLoginFailed  = errors.New("login failed")
	ErrNoCodeSource = errors.New("one-time code requested but no code source is configured")
)

type Credentials struct {
	Username string
	Password string
}

// Authenticator turns an anonymous page into an authenticated one.
type Authenticator interface {
	Login(ctx context.Context, page browser.Page, creds Credentials) error
}

// CodeSource supplies one-time codes for the second login factor.
type CodeSource interface {
	Code(ctx context.Context) (string, error)
}

// TOTPSource derives codes from a shared TOTP secret.
type TOTPSource struct {
	Secret string
}

func (s TOTPSource) Code(ctx context.Context) (string, error) {
	return GenerateTOTP(s.Secret)
}

// ChannelSource waits for a code delivered by someone else, typically an API
// client answering a 2FA prompt. OnWait runs once before blocking.
type ChannelSource struct {
	C      <-chan string
	OnWait func()
}

func (s ChannelSource) Code(ctx context.Context) (string, error) {
	if s.OnWait != nil {
		s.OnWait()
	}
	select {
	case code, ok := <-s.C:
		if !ok {
			return "", fmt.Errorf("2FA code channel closed")
		}
		return code, nil
	case <-ctx.Done():
		return "", fmt.Errorf("2FA code wait error: %w", ctx.Err())
	}
}

var _ Authenticator = (*FormAuthenticator)(nil)

// FormAuthenticator logs in through a classic username/password form. All
// element lookups go through the resolver, so each field accepts several
// descriptors.
type FormAuthenticator struct {
	LoginURL string
	Policy   heal.Policy
	Codes    CodeSource
	Logger   *zap.Logger

	// InterstitialTimeout bounds each probe for optional steps (one-time
	// code, passkey enrollment prompts).
	InterstitialTimeout time.Duration

	UsernameFields  selector.CandidateSet
	PasswordFields  selector.CandidateSet
	SubmitButtons   selector.CandidateSet
	CodeFields      selector.CandidateSet
	VerifyButtons   selector.CandidateSet
	ContinueButtons selector.CandidateSet
	ErrorMessages   selector.CandidateSet
}

// NewFormAuthenticator uses the target's login URL and a TOTP code source when
// a secret is configured.
func NewFormAuthenticator(target config.TargetConfig, policy heal.Policy, logger *zap.Logger) *FormAuthenticator {
	a := &FormAuthenticator{
		LoginURL:            target.LoginURL(),
		Policy:              policy,
		Logger:              logger.Named("auth"),
		InterstitialTimeout: 3 * time.Second,
		UsernameFields: selector.ParseAll(
			"input[type=email]", "[name=username]", "[name=email]", "#username", "#email",
			`role=textbox[name="Email"]`, `role=textbox[name="Username"]`,
		),
		PasswordFields: selector.ParseAll("input[type=password]", "[name=password]", "#password"),
		SubmitButtons: selector.ParseAll(
			"button[type=submit]", "input[type=submit]",
			`role=button[name="Sign in"]`, `role=button[name="Log in"]`, `role=button[name="Login"]`,
		),
		CodeFields: selector.ParseAll(
			"[name=otp]", "[name=security_code]", "[autocomplete=one-time-code]",
			"#verification_code", "input[id*='2fa']", "input[id*='mfa']",
		),
		VerifyButtons: selector.ParseAll(
			`role=button[name="Verify"]`, "button[type=submit]", "input[type=submit]",
		),
		ContinueButtons: selector.ParseAll(
			`role=button[name="Not now"]`, `role=button[name="Skip"]`, "text=Skip for now",
			`role=button[name="Maybe later"]`, `role=button[name="Continue"]`, `role=link[name="Continue"]`,
		),
		ErrorMessages: selector.ParseAll("#error-message", ".alert-danger", ".error-message", "[role=alert]"),
	}
	if target.TOTPSecret != "" {
		a.Codes = TOTPSource{Secret: target.TOTPSecret}
	}
	return a
}

func (a *FormAuthenticator) Login(ctx context.Context, page browser.Page, creds Credentials) error {
	if creds.Username == "" || creds.Password == "" {
		return fmt.Errorf("%w: credentials required but not provided or incomplete", ErrLoginFailed)
	}
	logger := a.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("user", creds.Username))
	r := heal.NewResolver(page, a.Policy, logger)

	if _, err := r.NavigateWithRetry(ctx, a.LoginURL, heal.Options{}); err != nil {
		return fmt.Errorf("%w: failed to open login page: %w", ErrLoginFailed, err)
	}
	r.WaitForStable(ctx, 0)
	r.DismissKnownPopups(ctx)

	if _, err := r.ResolveAndFill(ctx, a.UsernameFields, creds.Username, heal.Options{}); err != nil {
		return fmt.Errorf("%w: failed to fill username: %w", ErrLoginFailed, err)
	}
	if _, err := r.ResolveAndFill(ctx, a.PasswordFields, creds.Password, heal.Options{}); err != nil {
		return fmt.Errorf("%w: failed to fill password: %w", ErrLoginFailed, err)
	}
	if _, err := r.ResolveAndClick(ctx, a.SubmitButtons, heal.Options{}); err != nil {
		return fmt.Errorf("%w: failed to submit login form: %w", ErrLoginFailed, err)
	}
	r.WaitForStable(ctx, 0)

	if err := a.secondFactor(ctx, r, logger); err != nil {
		return err
	}
	a.skipInterstitial(ctx, r, logger)

	if msg, ok := a.loginError(ctx, page); ok {
		return fmt.Errorf("%w: %s", ErrLoginFailed, msg)
	}
	logger.Info("logged in")
	return nil
}

// secondFactor enters a one-time code if the page asks for one.
func (a *FormAuthenticator) secondFactor(ctx context.Context, r *heal.Resolver, logger *zap.Logger) error {
	if len(a.CodeFields) == 0 {
		return nil
	}
	found, err := r.WaitForAny(ctx, a.CodeFields, heal.Options{Timeout: a.InterstitialTimeout, ProbeTimeout: a.InterstitialTimeout / 3})
	if err != nil {
		return nil
	}
	logger.Info("detected one-time code prompt", zap.Stringer("selector", found.Selector))
	if a.Codes == nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, ErrNoCodeSource)
	}

	code, err := a.Codes.Code(ctx)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrLoginFailed, err)
	}
	if _, err := r.ResolveAndFill(ctx, selector.Candidates(found.Selector), code, heal.Options{}); err != nil {
		return fmt.Errorf("%w: failed to input 2FA code: %w", ErrLoginFailed, err)
	}
	if _, err := r.ResolveAndClick(ctx, a.VerifyButtons, heal.Options{}); err != nil {
		return fmt.Errorf("%w: failed to submit 2FA code: %w", ErrLoginFailed, err)
	}
	r.WaitForStable(ctx, 0)
	return nil
}

// skipInterstitial dismisses an optional post-login prompt. Absence is the
// normal case.
func (a *FormAuthenticator) skipInterstitial(ctx context.Context, r *heal.Resolver, logger *zap.Logger) {
	if len(a.ContinueButtons) == 0 {
		return
	}
	found, err := r.WaitForAny(ctx, a.ContinueButtons, heal.Options{Timeout: a.InterstitialTimeout, ProbeTimeout: a.InterstitialTimeout / 3})
	if err != nil {
		logger.Debug("no post-login interstitial")
		return
	}
	if _, err := r.ResolveAndClick(ctx, selector.Candidates(found.Selector), heal.Options{MaxPasses: 1}); err != nil {
		logger.Warn("failed to dismiss post-login interstitial", zap.Error(err))
		return
	}
	logger.Info("dismissed post-login interstitial", zap.Stringer("selector", found.Selector))
	r.WaitForStable(ctx, 0)
}

func (a *FormAuthenticator) loginError(ctx context.Context, page browser.Page) (string, bool) {
	for _, d := range a.ErrorMessages {
		loc := page.Locate(d).First()
		if visible, err := loc.IsVisible(ctx); err != nil || !visible {
			continue
		}
		text, _ := loc.TextContent(ctx)
		text = strings.TrimSpace(text)
		if text == "" {
			text = "error message shown on login page"
		}
		return text, true
	}
	return "", false
}

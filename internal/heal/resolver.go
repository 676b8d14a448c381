// Package heal turns sets of alternative element descriptors into single,
// successful page interactions.
//
// Click and fill follow a graduated fallback: normal action, then (for
// clicks) a forced action, then the next candidate, then a new pass over all
// candidates after a pause. Everything is bounded by a Policy and by the
// caller's context.
package heal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/selector"
)

type Strategy string

const (
	StrategyNormal Strategy = "normal"
	StrategyForced Strategy = "forced"
)

type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeElementNotFound Outcome = "element_not_found"
	OutcomeActionFailed    Outcome = "action_failed"
)

// Attempt records how one resolver call ended. Selector is only meaningful
// when Matched is true.
type Attempt struct {
	Strategy   Strategy
	Selector   selector.Descriptor
	Matched    bool
	RetryIndex int
	Outcome    Outcome
}

// Options override the policy for a single call. Zero values use the policy.
type Options struct {
	Timeout      time.Duration
	ProbeTimeout time.Duration
	MaxPasses    int
	// State is what WaitForAny waits for; visible unless set to attached.
	State browser.State
}

// Expected is the text predicate for ExpectTextAny.
type Expected struct {
	literal string
	pattern *regexp.Regexp
}

// Contains expects a literal substring.
func Contains(s string) Expected { return Expected{literal: s} }

// Matches expects a regular expression match.
func Matches(re *regexp.Regexp) Expected { return Expected{pattern: re} }

func (e Expected) Match(s string) bool {
	if e.pattern != nil {
		return e.pattern.MatchString(s)
	}
	return strings.Contains(s, e.literal)
}

func (e Expected) String() string {
	if e.pattern != nil {
		return "/" + e.pattern.String() + "/"
	}
	return fmt.Sprintf("%q", e.literal)
}

// Sleeper pauses between passes. It must return early when ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

const sweepInterval = 100 * time.Millisecond

// Resolver drives exactly one page. It is not safe for concurrent use; give
// each session its own Resolver.
type Resolver struct {
	page   browser.Page
	policy Policy
	logger *zap.Logger
	sleep  Sleeper
}

type ResolverOption func(*Resolver)

// WithSleeper replaces the pause used between passes and retries.
func WithSleeper(s Sleeper) ResolverOption {
	return func(r *Resolver) { r.sleep = s }
}

func NewResolver(page browser.Page, policy Policy, logger *zap.Logger, opts ...ResolverOption) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Resolver{
		page:   page,
		policy: policy,
		logger: logger.Named("heal"),
		sleep:  sleep,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Page() browser.Page { return r.page }

func (r *Resolver) Policy() Policy { return r.policy }

func (r *Resolver) passes(opts Options) int {
	if opts.MaxPasses > 0 {
		return opts.MaxPasses
	}
	if r.policy.MaxPasses > 0 {
		return r.policy.MaxPasses
	}
	return 1
}

func (r *Resolver) probeTimeout(opts Options) time.Duration {
	if opts.ProbeTimeout > 0 {
		return opts.ProbeTimeout
	}
	return r.policy.ProbeTimeout
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// probe waits briefly for loc to reach state. Any error counts as "no".
func (r *Resolver) probe(ctx context.Context, loc browser.Locator, state browser.State, d time.Duration) bool {
	pctx, cancel := withTimeout(ctx, d)
	defer cancel()
	return loc.WaitFor(pctx, state) == nil
}

func (r *Resolver) act(ctx context.Context, fn func(ctx context.Context) error) error {
	actx, cancel := withTimeout(ctx, r.policy.ActionTimeout)
	defer cancel()
	return fn(actx)
}

// ResolveAndClick clicks the first visible candidate. A failed normal click
// is followed by exactly one forced click on the same element before moving
// on to the next candidate.
func (r *Resolver) ResolveAndClick(ctx context.Context, candidates selector.CandidateSet, opts Options) (*Attempt, error) {
	const op = "ResolveAndClick"
	if len(candidates) == 0 {
		return nil, &Error{Kind: KindNoCandidateFound, Op: op}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	log := r.logger.With(zap.String("op", op), zap.Strings("candidates", candidates.Strings()))
	passes := r.passes(opts)
	probe := r.probeTimeout(opts)

	var lastErr error
	var failed *Attempt
	ran := 0
	for pass := 0; pass < passes; pass++ {
		if pass > 0 {
			log.Debug("no candidate clicked, backing off", zap.Int("pass", pass), zap.Duration("backoff", r.policy.PassBackoff))
			if err := r.sleep(ctx, r.policy.PassBackoff); err != nil {
				lastErr = err
				break
			}
		}
		ran = pass + 1

		for _, d := range candidates {
			loc := r.page.Locate(d).First()
			if !r.probe(ctx, loc, browser.StateVisible, probe) {
				continue
			}

			err := r.act(ctx, func(ctx context.Context) error { return loc.Click(ctx, browser.ClickOptions{}) })
			if err == nil {
				log.Debug("clicked", zap.Stringer("selector", d), zap.Int("pass", pass))
				return &Attempt{Strategy: StrategyNormal, Selector: d, Matched: true, RetryIndex: pass, Outcome: OutcomeSuccess}, nil
			}
			log.Debug("normal click failed, forcing", zap.Stringer("selector", d), zap.Error(err))

			err = r.act(ctx, func(ctx context.Context) error { return loc.Click(ctx, browser.ClickOptions{Force: true}) })
			if err == nil {
				log.Info("clicked with force", zap.Stringer("selector", d), zap.Int("pass", pass))
				return &Attempt{Strategy: StrategyForced, Selector: d, Matched: true, RetryIndex: pass, Outcome: OutcomeSuccess}, nil
			}
			log.Warn("forced click failed", zap.Stringer("selector", d), zap.Error(err))
			lastErr = err
			failed = &Attempt{Strategy: StrategyForced, Selector: d, Matched: true, RetryIndex: pass, Outcome: OutcomeActionFailed}
		}

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	if failed != nil {
		return failed, &Error{Kind: KindActionFailed, Op: op, Candidates: candidates.Strings(), Attempts: ran, Err: lastErr}
	}
	return &Attempt{Strategy: StrategyNormal, RetryIndex: ran - 1, Outcome: OutcomeElementNotFound},
		&Error{Kind: KindResolutionExhausted, Op: op, Candidates: candidates.Strings(), Attempts: ran, Err: lastErr}
}

// ResolveAndFill clears and fills the first visible candidate. A failed fill
// ends the pass; there is no forced variant.
func (r *Resolver) ResolveAndFill(ctx context.Context, candidates selector.CandidateSet, value string, opts Options) (*Attempt, error) {
	const op = "ResolveAndFill"
	if len(candidates) == 0 {
		return nil, &Error{Kind: KindNoCandidateFound, Op: op}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	log := r.logger.With(zap.String("op", op), zap.Strings("candidates", candidates.Strings()))
	passes := r.passes(opts)
	probe := r.probeTimeout(opts)

	var lastErr error
	var failed *Attempt
	ran := 0
	for pass := 0; pass < passes; pass++ {
		if pass > 0 {
			log.Debug("no candidate filled, backing off", zap.Int("pass", pass), zap.Duration("backoff", r.policy.PassBackoff))
			if err := r.sleep(ctx, r.policy.PassBackoff); err != nil {
				lastErr = err
				break
			}
		}
		ran = pass + 1

		for _, d := range candidates {
			loc := r.page.Locate(d).First()
			if !r.probe(ctx, loc, browser.StateVisible, probe) {
				continue
			}

			err := r.act(ctx, func(ctx context.Context) error {
				if err := loc.Clear(ctx); err != nil {
					return fmt.Errorf("clear: %w", err)
				}
				return loc.Fill(ctx, value)
			})
			if err == nil {
				log.Debug("filled", zap.Stringer("selector", d), zap.Int("pass", pass))
				return &Attempt{Strategy: StrategyNormal, Selector: d, Matched: true, RetryIndex: pass, Outcome: OutcomeSuccess}, nil
			}
			log.Warn("fill failed", zap.Stringer("selector", d), zap.Int("pass", pass), zap.Error(err))
			lastErr = err
			failed = &Attempt{Strategy: StrategyNormal, Selector: d, Matched: true, RetryIndex: pass, Outcome: OutcomeActionFailed}
			break
		}

		if ctx.Err() != nil {
			lastErr = ctx.Err()
			break
		}
	}

	if failed != nil {
		return failed, &Error{Kind: KindActionFailed, Op: op, Candidates: candidates.Strings(), Attempts: ran, Err: lastErr}
	}
	return &Attempt{Strategy: StrategyNormal, RetryIndex: ran - 1, Outcome: OutcomeElementNotFound},
		&Error{Kind: KindResolutionExhausted, Op: op, Candidates: candidates.Strings(), Attempts: ran, Err: lastErr}
}

// sweep repeatedly walks candidates in order until visit reports done or ctx
// expires. visit returns true to stop.
func (r *Resolver) sweep(ctx context.Context, candidates selector.CandidateSet, visit func(sweep int, d selector.Descriptor) bool) int {
	for n := 0; ; n++ {
		for _, d := range candidates {
			if visit(n, d) {
				return n
			}
		}
		if sleep(ctx, sweepInterval) != nil {
			return n
		}
	}
}

// WaitForAny returns the first candidate, in order, that reaches the wanted
// state. No action is performed.
func (r *Resolver) WaitForAny(ctx context.Context, candidates selector.CandidateSet, opts Options) (*Attempt, error) {
	const op = "WaitForAny"
	if len(candidates) == 0 {
		return nil, &Error{Kind: KindNoCandidateFound, Op: op}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.policy.WaitTimeout
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	state := browser.StateVisible
	if opts.State == browser.StateAttached {
		state = browser.StateAttached
	}
	probe := r.probeTimeout(opts)

	var found *Attempt
	n := r.sweep(ctx, candidates, func(n int, d selector.Descriptor) bool {
		if r.probe(ctx, r.page.Locate(d).First(), state, probe) {
			found = &Attempt{Strategy: StrategyNormal, Selector: d, Matched: true, RetryIndex: n, Outcome: OutcomeSuccess}
			return true
		}
		return ctx.Err() != nil
	})
	if found != nil {
		return found, nil
	}
	return &Attempt{Strategy: StrategyNormal, RetryIndex: n, Outcome: OutcomeElementNotFound},
		&Error{Kind: KindNoCandidateFound, Op: op, Candidates: candidates.Strings(), Attempts: n + 1, Err: ctx.Err()}
}

// ExpectTextAny succeeds on the first reachable candidate whose text content
// satisfies expected.
func (r *Resolver) ExpectTextAny(ctx context.Context, candidates selector.CandidateSet, expected Expected, opts Options) (*Attempt, error) {
	const op = "ExpectTextAny"
	if len(candidates) == 0 {
		return nil, &Error{Kind: KindNoCandidateFound, Op: op}
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.policy.WaitTimeout
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()
	probe := r.probeTimeout(opts)

	var found *Attempt
	var reached bool
	var lastText string
	n := r.sweep(ctx, candidates, func(n int, d selector.Descriptor) bool {
		loc := r.page.Locate(d).First()
		if !r.probe(ctx, loc, browser.StateVisible, probe) {
			return ctx.Err() != nil
		}
		text, err := loc.TextContent(ctx)
		if err != nil {
			return ctx.Err() != nil
		}
		reached = true
		lastText = text
		if expected.Match(text) {
			found = &Attempt{Strategy: StrategyNormal, Selector: d, Matched: true, RetryIndex: n, Outcome: OutcomeSuccess}
			return true
		}
		return ctx.Err() != nil
	})
	if found != nil {
		return found, nil
	}
	if reached {
		return &Attempt{Strategy: StrategyNormal, RetryIndex: n, Outcome: OutcomeActionFailed},
			&Error{Kind: KindTextMismatch, Op: op, Candidates: candidates.Strings(), Attempts: n + 1,
				Err: fmt.Errorf("want %s, last text %q", expected, truncate(lastText, 120))}
	}
	return &Attempt{Strategy: StrategyNormal, RetryIndex: n, Outcome: OutcomeElementNotFound},
		&Error{Kind: KindNoCandidateFound, Op: op, Candidates: candidates.Strings(), Attempts: n + 1, Err: ctx.Err()}
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}

// NavigateWithRetry loads url, retrying with a backoff that grows linearly
// with each failed attempt. The last navigation error is wrapped.
func (r *Resolver) NavigateWithRetry(ctx context.Context, url string, opts Options) (*Attempt, error) {
	const op = "NavigateWithRetry"
	attempts := r.policy.NavigationRetries
	if opts.MaxPasses > 0 {
		attempts = opts.MaxPasses
	}
	if attempts < 1 {
		attempts = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = r.policy.NavigationTimeout
	}

	log := r.logger.With(zap.String("op", op), zap.String("url", url))
	var lastErr error
	ran := 0
	for i := 0; i < attempts; i++ {
		if i > 0 {
			backoff := r.policy.NavigationBackoff * time.Duration(i)
			log.Info("retrying navigation", zap.Int("attempt", i+1), zap.Duration("backoff", backoff))
			if err := r.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}

		ran = i + 1
		nctx, cancel := withTimeout(ctx, timeout)
		err := r.page.Goto(nctx, url)
		cancel()
		if err == nil {
			return &Attempt{Strategy: StrategyNormal, RetryIndex: i, Outcome: OutcomeSuccess}, nil
		}
		log.Warn("navigation failed", zap.Int("attempt", i+1), zap.Error(err))
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return &Attempt{Strategy: StrategyNormal, RetryIndex: ran - 1, Outcome: OutcomeActionFailed},
		&Error{Kind: KindNavigationFailed, Op: op, Candidates: []string{url}, Attempts: ran, Err: lastErr}
}

// WaitForStable waits for every visible loading indicator to disappear. It
// never fails; the result only says whether the page settled in time.
func (r *Resolver) WaitForStable(ctx context.Context, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = r.policy.StableTimeout
	}
	ctx, cancel := withTimeout(ctx, timeout)
	defer cancel()

	stable := true
	for _, d := range r.policy.LoadingIndicators {
		loc := r.page.Locate(d).First()
		visible, err := loc.IsVisible(ctx)
		if err != nil || !visible {
			continue
		}
		r.logger.Debug("waiting for loading indicator", zap.Stringer("selector", d))
		if err := loc.WaitFor(ctx, browser.StateHidden); err != nil {
			r.logger.Warn("page did not settle, proceeding", zap.Stringer("selector", d), zap.Error(err))
			stable = false
		}
	}
	return stable
}

// DismissKnownPopups clicks every visible popup close control it knows about
// and reports how many it dismissed. Errors are logged and ignored.
func (r *Resolver) DismissKnownPopups(ctx context.Context) int {
	dismissed := 0
	for _, d := range r.policy.PopupClosers {
		if ctx.Err() != nil {
			break
		}
		loc := r.page.Locate(d).First()
		visible, err := loc.IsVisible(ctx)
		if err != nil || !visible {
			continue
		}
		if err := r.act(ctx, func(ctx context.Context) error { return loc.Click(ctx, browser.ClickOptions{}) }); err != nil {
			r.logger.Debug("popup close click failed", zap.Stringer("selector", d), zap.Error(err))
			continue
		}
		r.logger.Info("dismissed popup", zap.Stringer("selector", d))
		dismissed++
	}
	return dismissed
}

// RetryOnStaleReference runs action, repeating it while it fails with a stale
// element error. Any other error is returned immediately.
func (r *Resolver) RetryOnStaleReference(ctx context.Context, action func(ctx context.Context) error) (*Attempt, error) {
	const op = "RetryOnStaleReference"
	attempts := r.policy.StaleRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	ran := 0
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := r.sleep(ctx, r.policy.StaleBackoff); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}
		ran = i + 1
		err := action(ctx)
		if err == nil {
			return &Attempt{Strategy: StrategyNormal, RetryIndex: i, Outcome: OutcomeSuccess}, nil
		}
		if !IsStale(err) {
			return &Attempt{Strategy: StrategyNormal, RetryIndex: i, Outcome: OutcomeActionFailed}, err
		}
		r.logger.Debug("stale element, retrying", zap.Int("attempt", i+1), zap.Error(err))
		lastErr = err
	}
	return &Attempt{Strategy: StrategyNormal, RetryIndex: ran - 1, Outcome: OutcomeActionFailed},
		&Error{Kind: KindStaleElementExceeded, Op: op, Attempts: ran, Err: lastErr}
}

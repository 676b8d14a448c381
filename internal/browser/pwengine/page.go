package pwengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/selector"
)

var _ browser.Page = (*Page)(nil)

// Page adapts a playwright.Page. Context deadlines become Playwright timeouts;
// cancellation without a deadline is only observed between calls.
type Page struct {
	page playwright.Page
}

// NewPage wraps an existing playwright page, for callers that manage their
// own Playwright lifecycle.
func NewPage(page playwright.Page) *Page {
	return &Page{page: page}
}

// timeout converts the context deadline into Playwright milliseconds.
func timeout(ctx context.Context) *float64 {
	deadline, ok := ctx.Deadline()
	if !ok {
		return nil
	}
	ms := float64(time.Until(deadline).Milliseconds())
	if ms < 1 {
		ms = 1
	}
	return playwright.Float(ms)
}

// mapError translates Playwright failures onto the browser package's errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, playwright.ErrTimeout) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "intercepts pointer events"):
		return fmt.Errorf("%w: %v", browser.ErrIntercepted, err)
	case strings.Contains(msg, "not attached to the DOM"),
		strings.Contains(msg, "Execution context was destroyed"):
		return fmt.Errorf("%w: %v", browser.ErrStaleElement, err)
	case strings.Contains(msg, "not an <input>"),
		strings.Contains(msg, "not editable"):
		return fmt.Errorf("%w: %v", browser.ErrNotEditable, err)
	}
	return err
}

func (p *Page) Goto(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.page.Goto(url, playwright.PageGotoOptions{Timeout: timeout(ctx)}); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, mapError(err))
	}
	return nil
}

// Locate translates a descriptor into the matching Playwright locator.
func (p *Page) Locate(d selector.Descriptor) browser.Locator {
	return &Locator{loc: p.translate(d), desc: d}
}

func (p *Page) translate(d selector.Descriptor) playwright.Locator {
	switch d.Kind {
	case selector.KindRole:
		opts := playwright.PageGetByRoleOptions{}
		if d.Name != "" {
			opts.Name = d.Name
		}
		return p.page.GetByRole(playwright.AriaRole(d.Role), opts)
	case selector.KindText:
		if d.Pattern != nil {
			return p.page.GetByText(d.Pattern)
		}
		return p.page.GetByText(d.Text)
	case selector.KindAttribute:
		return p.page.Locator(fmt.Sprintf("[%s=%q]", d.Key, d.Value))
	default:
		return p.page.Locator(d.Expr)
	}
}

func (p *Page) Evaluate(ctx context.Context, expression string, res interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := p.page.Evaluate(expression)
	if err != nil {
		return mapError(err)
	}
	if res == nil {
		return nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode evaluation result: %w", err)
	}
	return json.Unmarshal(raw, res)
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		FullPage: playwright.Bool(true),
		Timeout:  timeout(ctx),
	})
	return buf, mapError(err)
}

func (p *Page) URL(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return p.page.URL(), nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	html, err := p.page.Content()
	return html, mapError(err)
}

// Locator adapts a playwright.Locator.
type Locator struct {
	loc  playwright.Locator
	desc selector.Descriptor
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	n, err := l.loc.Count()
	return n, mapError(err)
}

func (l *Locator) Nth(i int) browser.Locator {
	return &Locator{loc: l.loc.Nth(i), desc: l.desc}
}

func (l *Locator) First() browser.Locator {
	return &Locator{loc: l.loc.First(), desc: l.desc}
}

func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ok, err := l.loc.IsVisible()
	return ok, mapError(err)
}

var waitStates = map[browser.State]*playwright.WaitForSelectorState{
	browser.StateVisible:  playwright.WaitForSelectorStateVisible,
	browser.StateAttached: playwright.WaitForSelectorStateAttached,
	browser.StateHidden:   playwright.WaitForSelectorStateHidden,
	browser.StateDetached: playwright.WaitForSelectorStateDetached,
}

func (l *Locator) WaitFor(ctx context.Context, state browser.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ws, ok := waitStates[state]
	if !ok {
		ws = playwright.WaitForSelectorStateVisible
	}
	if err := l.loc.WaitFor(playwright.LocatorWaitForOptions{State: ws, Timeout: timeout(ctx)}); err != nil {
		return fmt.Errorf("wait for %s to be %s: %w", l.desc, state, mapError(err))
	}
	return nil
}

func (l *Locator) Click(ctx context.Context, opts browser.ClickOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(l.loc.Click(playwright.LocatorClickOptions{
		Force:   playwright.Bool(opts.Force),
		Timeout: timeout(ctx),
	}))
}

// Fill relies on Playwright's own fill, which replaces the value rather than
// appending to it.
func (l *Locator) Fill(ctx context.Context, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(l.loc.Fill(value, playwright.LocatorFillOptions{Timeout: timeout(ctx)}))
}

func (l *Locator) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return mapError(l.loc.Clear(playwright.LocatorClearOptions{Timeout: timeout(ctx)}))
}

func (l *Locator) TextContent(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	text, err := l.loc.TextContent(playwright.LocatorTextContentOptions{Timeout: timeout(ctx)})
	return text, mapError(err)
}

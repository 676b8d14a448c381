package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/dom"
	"github.com/copyleftdev/goheal/internal/selector"
)

var _ Page = (*cdpPage)(nil)

// cdpPage drives one chromedp tab. Operations run on contexts derived from the
// tab's context so that a caller's deadline never tears the tab down.
type cdpPage struct {
	browserCtx context.Context
	logger     *zap.Logger
}

func newCDPPage(browserCtx context.Context, logger *zap.Logger) *cdpPage {
	return &cdpPage{browserCtx: browserCtx, logger: logger}
}

// bind returns a context carrying the tab plus the caller's deadline and
// cancellation.
func (p *cdpPage) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(p.browserCtx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() {
			cancelDeadline()
			prev()
		}
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (p *cdpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := p.bind(ctx)
	defer cancel()
	return mapCDPError(chromedp.Run(runCtx, actions...))
}

func (p *cdpPage) Goto(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *cdpPage) Locate(d selector.Descriptor) Locator {
	return &cdpLocator{page: p, desc: d}
}

func (p *cdpPage) Evaluate(ctx context.Context, expression string, res interface{}) error {
	return p.run(ctx, chromedp.Evaluate(expression, res))
}

func (p *cdpPage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.CaptureScreenshot(&buf)); err != nil {
		return nil, err
	}
	return buf, nil
}

func (p *cdpPage) URL(ctx context.Context) (string, error) {
	var url string
	err := p.run(ctx, chromedp.Location(&url))
	return url, err
}

func (p *cdpPage) Content(ctx context.Context) (string, error) {
	var html string
	err := p.run(ctx, dom.FullHTMLAction(&html))
	return html, err
}

// mapCDPError turns the runtime's "the document went away" failures into
// ErrStaleElement.
func mapCDPError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "Execution context was destroyed") ||
		strings.Contains(msg, "Cannot find context with specified id") ||
		strings.Contains(msg, "Node is detached") {
		return fmt.Errorf("%w: %v", ErrStaleElement, err)
	}
	return err
}

type cdpLocator struct {
	page *cdpPage
	desc selector.Descriptor
	nth  int
}

func (l *cdpLocator) eval(ctx context.Context, body string, res interface{}) error {
	script, err := locatorScript(l.desc, l.nth, body)
	if err != nil {
		return err
	}
	return l.page.Evaluate(ctx, script, res)
}

func (l *cdpLocator) Count(ctx context.Context) (int, error) {
	var n int
	if err := l.eval(ctx, countBody, &n); err != nil {
		return 0, err
	}
	return n, nil
}

func (l *cdpLocator) Nth(i int) Locator {
	return &cdpLocator{page: l.page, desc: l.desc, nth: i}
}

func (l *cdpLocator) First() Locator {
	return l.Nth(0)
}

type elementState struct {
	Count   int  `json:"count"`
	Visible bool `json:"visible"`
}

func (l *cdpLocator) state(ctx context.Context) (elementState, error) {
	var st elementState
	err := l.eval(ctx, stateBody, &st)
	return st, err
}

func (l *cdpLocator) IsVisible(ctx context.Context) (bool, error) {
	st, err := l.state(ctx)
	if err != nil {
		return false, err
	}
	return st.Visible, nil
}

func (l *cdpLocator) WaitFor(ctx context.Context, want State) error {
	err := Poll(ctx, pollInterval, func(ctx context.Context) (bool, error) {
		st, err := l.state(ctx)
		if err != nil {
			// Navigation in flight; keep polling until the deadline.
			if errors.Is(err, ErrStaleElement) {
				return false, nil
			}
			return false, err
		}
		attached := st.Count > l.nth
		switch want {
		case StateAttached:
			return attached, nil
		case StateDetached:
			return !attached, nil
		case StateHidden:
			return !st.Visible, nil
		default:
			return st.Visible, nil
		}
	})
	if err != nil {
		return fmt.Errorf("wait for %s to be %s: %w", l.desc, want, err)
	}
	return nil
}

func (l *cdpLocator) Click(ctx context.Context, opts ClickOptions) error {
	var res probeResult
	if opts.Force {
		if err := l.eval(ctx, forceClickBody, &res); err != nil {
			return err
		}
		return res.err(l.desc)
	}

	if err := l.eval(ctx, clickProbeBody, &res); err != nil {
		return err
	}
	if err := res.err(l.desc); err != nil {
		return err
	}
	return l.page.run(ctx, chromedp.MouseClickXY(res.X, res.Y))
}

func (l *cdpLocator) Clear(ctx context.Context) error {
	var res probeResult
	if err := l.eval(ctx, clearBody, &res); err != nil {
		return err
	}
	return res.err(l.desc)
}

// Fill replaces the element's value. Clear leaves the element focused, so the
// text is inserted at the caret the way a paste would.
func (l *cdpLocator) Fill(ctx context.Context, value string) error {
	if err := l.Clear(ctx); err != nil {
		return err
	}
	if value == "" {
		return nil
	}
	return l.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return input.InsertText(value).Do(ctx)
	}))
}

func (l *cdpLocator) TextContent(ctx context.Context) (string, error) {
	var res struct {
		Found bool   `json:"found"`
		Text  string `json:"text"`
	}
	if err := l.eval(ctx, textBody, &res); err != nil {
		return "", err
	}
	if !res.Found {
		return "", fmt.Errorf("%w: %s", ErrElementNotFound, l.desc)
	}
	return res.Text, nil
}

// Package mocks provides an in-memory browser.Page for unit tests.
//
// Elements are registered per descriptor. Every interaction is appended to a
// call log so tests can assert exactly which descriptors were touched, and in
// what order.
package mocks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/selector"
)

// Element is one fake DOM node. Zero value is an attached, hidden element.
type Element struct {
	Visible bool
	// HiddenProbes makes the first N visibility probes report false even when
	// Visible is set, to simulate late rendering.
	HiddenProbes int
	Text         string
	Value        string
	ReadOnly     bool

	VisibleErr    error
	ClickErr      error // normal clicks only
	ForceClickErr error
	FillErr       error

	// OnClick runs after any successful click, with the page lock released.
	OnClick func()

	probes int
	clicks int
}

// Call is one entry in the page's call log.
type Call struct {
	Op       string
	Selector string
	Arg      string
}

func (c Call) String() string {
	if c.Arg == "" {
		return c.Op + " " + c.Selector
	}
	return fmt.Sprintf("%s %s %q", c.Op, c.Selector, c.Arg)
}

var _ browser.Page = (*Page)(nil)

type Page struct {
	mu       sync.Mutex
	elements map[string][]*Element
	calls    []Call
	url      string
	content  string
	gotoErrs []error

	// EvaluateFunc, when set, answers Evaluate calls.
	EvaluateFunc func(expression string, res interface{}) error
}

func NewPage() *Page {
	return &Page{elements: make(map[string][]*Element)}
}

// Add registers el as the next match for d and returns it for further tweaks.
func (p *Page) Add(d selector.Descriptor, el *Element) *Element {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := d.String()
	p.elements[key] = append(p.elements[key], el)
	return el
}

// Remove detaches every element registered for d.
func (p *Page) Remove(d selector.Descriptor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.elements, d.String())
}

// SetContent sets the HTML returned by Content.
func (p *Page) SetContent(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.content = html
}

// FailGoto queues errors returned by successive Goto calls.
func (p *Page) FailGoto(errs ...error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gotoErrs = append(p.gotoErrs, errs...)
}

// Calls returns a copy of the call log.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// CallsTo filters the call log by operation name.
func (p *Page) CallsTo(op string) []Call {
	var out []Call
	for _, c := range p.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Clicks reports how many clicks, normal or forced, landed on el.
func (p *Page) Clicks(el *Element) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return el.clicks
}

func (p *Page) record(op, sel, arg string) {
	p.calls = append(p.calls, Call{Op: op, Selector: sel, Arg: arg})
}

func (p *Page) Goto(ctx context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("goto", url, "")
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(p.gotoErrs) > 0 {
		err := p.gotoErrs[0]
		p.gotoErrs = p.gotoErrs[1:]
		if err != nil {
			return err
		}
	}
	p.url = url
	return nil
}

func (p *Page) Locate(d selector.Descriptor) browser.Locator {
	return &Locator{page: p, key: d.String()}
}

func (p *Page) Evaluate(ctx context.Context, expression string, res interface{}) error {
	p.mu.Lock()
	p.record("evaluate", "", "")
	fn := p.EvaluateFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(expression, res)
	}
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("screenshot", "", "")
	return []byte("\x89PNG"), nil
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, nil
}

// SetURL changes the current URL without recording a navigation.
func (p *Page) SetURL(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.content, nil
}

type Locator struct {
	page *Page
	key  string
	nth  int
}

func (l *Locator) element() *Element {
	els := l.page.elements[l.key]
	if l.nth < len(els) {
		return els[l.nth]
	}
	return nil
}

func (l *Locator) Count(ctx context.Context) (int, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.record("count", l.key, "")
	return len(l.page.elements[l.key]), nil
}

func (l *Locator) Nth(i int) browser.Locator {
	return &Locator{page: l.page, key: l.key, nth: i}
}

func (l *Locator) First() browser.Locator {
	return l.Nth(0)
}

// visible must be called with the page lock held; each call is one probe.
func (l *Locator) visible() (bool, error) {
	el := l.element()
	if el == nil {
		return false, nil
	}
	if el.VisibleErr != nil {
		return false, el.VisibleErr
	}
	el.probes++
	return el.Visible && el.probes > el.HiddenProbes, nil
}

func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.record("isVisible", l.key, "")
	return l.visible()
}

func (l *Locator) WaitFor(ctx context.Context, state browser.State) error {
	l.page.mu.Lock()
	l.page.record("waitFor", l.key, string(state))
	l.page.mu.Unlock()

	err := browser.Poll(ctx, time.Millisecond, func(ctx context.Context) (bool, error) {
		l.page.mu.Lock()
		defer l.page.mu.Unlock()
		attached := l.element() != nil
		switch state {
		case browser.StateAttached:
			return attached, nil
		case browser.StateDetached:
			return !attached, nil
		}
		vis, err := l.visible()
		if err != nil {
			return false, err
		}
		if state == browser.StateHidden {
			return !vis, nil
		}
		return vis, nil
	})
	if err != nil {
		return fmt.Errorf("wait for %s to be %s: %w", l.key, state, err)
	}
	return nil
}

func (l *Locator) Click(ctx context.Context, opts browser.ClickOptions) error {
	l.page.mu.Lock()
	op := "click"
	if opts.Force {
		op = "forceClick"
	}
	l.page.record(op, l.key, "")

	el := l.element()
	if el == nil {
		l.page.mu.Unlock()
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, l.key)
	}
	err := el.ClickErr
	if opts.Force {
		err = el.ForceClickErr
	}
	if err != nil {
		l.page.mu.Unlock()
		return err
	}
	el.clicks++
	onClick := el.OnClick
	l.page.mu.Unlock()

	if onClick != nil {
		onClick()
	}
	return nil
}

// Fill types at the end of the current value, the way keystrokes would, so a
// caller that skips Clear sees the old text survive.
func (l *Locator) Fill(ctx context.Context, value string) error {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.record("fill", l.key, value)

	el := l.element()
	switch {
	case el == nil:
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, l.key)
	case el.FillErr != nil:
		return el.FillErr
	case el.ReadOnly:
		return fmt.Errorf("%w: %s", browser.ErrNotEditable, l.key)
	}
	el.Value += value
	return nil
}

func (l *Locator) Clear(ctx context.Context) error {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.record("clear", l.key, "")

	el := l.element()
	switch {
	case el == nil:
		return fmt.Errorf("%w: %s", browser.ErrElementNotFound, l.key)
	case el.ReadOnly:
		return fmt.Errorf("%w: %s", browser.ErrNotEditable, l.key)
	}
	el.Value = ""
	return nil
}

func (l *Locator) TextContent(ctx context.Context) (string, error) {
	l.page.mu.Lock()
	defer l.page.mu.Unlock()
	l.page.record("textContent", l.key, "")

	el := l.element()
	if el == nil {
		return "", fmt.Errorf("%w: %s", browser.ErrElementNotFound, l.key)
	}
	return el.Text, nil
}

// Launcher hands out sessions over a fixed page and counts releases.
type Launcher struct {
	Page      browser.Page
	Err       error
	mu        sync.Mutex
	opened    int
	released  int
	shutdowns int
}

var _ browser.Launcher = (*Launcher)(nil)

func NewLauncher(page browser.Page) *Launcher {
	return &Launcher{Page: page}
}

func (l *Launcher) NewSession(ctx context.Context) (*browser.Session, error) {
	if l.Err != nil {
		return nil, l.Err
	}
	l.mu.Lock()
	l.opened++
	id := fmt.Sprintf("mock-%d", l.opened)
	l.mu.Unlock()
	return browser.NewSession(id, l.Page, func() {
		l.mu.Lock()
		l.released++
		l.mu.Unlock()
	}), nil
}

func (l *Launcher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.shutdowns++
	return nil
}

// Stats reports opened sessions, released sessions and Shutdown calls.
func (l *Launcher) Stats() (opened, released, shutdowns int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.opened, l.released, l.shutdowns
}

package browser

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/copyleftdev/goheal/internal/selector"
)

// State is the condition WaitFor blocks on.
type State string

const (
	StateVisible  State = "visible"
	StateAttached State = "attached"
	StateHidden   State = "hidden"
	StateDetached State = "detached"
)

var (
	ErrElementNotFound = errors.New("element not found")
	ErrNotVisible      = errors.New("element is not visible")
	ErrNotEditable     = errors.New("element is not editable")
	ErrIntercepted     = errors.New("element click intercepted: another element would receive the click")
	// ErrStaleElement indicates the element reference is no longer valid,
	// usually because the page navigated or the node was replaced.
	ErrStaleElement = errors.New("element is stale or detached from the document")
)

type ClickOptions struct {
	// Force skips the actionability and occlusion checks.
	Force bool
}

// Locator addresses the elements matching one descriptor. Locators are lazy:
// every call re-queries the live page.
type Locator interface {
	Count(ctx context.Context) (int, error)
	Nth(i int) Locator
	First() Locator
	IsVisible(ctx context.Context) (bool, error)
	WaitFor(ctx context.Context, state State) error
	Click(ctx context.Context, opts ClickOptions) error
	Fill(ctx context.Context, value string) error
	Clear(ctx context.Context) error
	TextContent(ctx context.Context) (string, error)
}

// Page is the capability surface the resolver and the generator consume.
// Deadlines on the passed contexts are the operation timeouts.
type Page interface {
	Goto(ctx context.Context, url string) error
	Locate(d selector.Descriptor) Locator
	Evaluate(ctx context.Context, expression string, res interface{}) error
	Screenshot(ctx context.Context) ([]byte, error)
	URL(ctx context.Context) (string, error)
	Content(ctx context.Context) (string, error)
}

// Session is a page bound to its own isolated browser context.
type Session struct {
	ID      string
	Page    Page
	release func()
}

func NewSession(id string, page Page, release func()) *Session {
	return &Session{ID: id, Page: page, release: release}
}

// Close releases the session's browser context. Safe to call more than once.
func (s *Session) Close() {
	if s.release != nil {
		s.release()
		s.release = nil
	}
}

// Launcher hands out sessions. Implementations bound how many are open at once.
type Launcher interface {
	NewSession(ctx context.Context) (*Session, error)
	Shutdown(ctx context.Context) error
}

// IsStale reports whether err describes an element that went away underneath
// the caller.
func IsStale(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrStaleElement) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "stale") || strings.Contains(msg, "detached")
}

const pollInterval = 100 * time.Millisecond

// Poll calls check until it reports true, returns an error, or ctx is done.
func Poll(ctx context.Context, interval time.Duration, check func(ctx context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = pollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		ok, err := check(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

package heal

import (
	"fmt"
	"strings"

	"github.com/copyleftdev/goheal/internal/browser"
)

// Kind classifies why a resolver operation gave up.
type Kind string

const (
	KindNoCandidateFound     Kind = "no_candidate_found"
	KindActionFailed         Kind = "action_failed"
	KindTextMismatch         Kind = "text_mismatch"
	KindResolutionExhausted  Kind = "resolution_exhausted"
	KindNavigationFailed     Kind = "navigation_failed"
	KindStaleElementExceeded Kind = "stale_element_exceeded"
)

// Error is returned by every fallible resolver operation.
type Error struct {
	Kind       Kind
	Op         string
	Candidates []string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		fmt.Fprintf(&b, " in %s", e.Op)
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(e.Candidates, ", "))
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempt(s)", e.Attempts)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the package sentinels by Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Kind == e.Kind
}

var (
	ErrNoCandidateFound     = &Error{Kind: KindNoCandidateFound}
	ErrActionFailed         = &Error{Kind: KindActionFailed}
	ErrTextMismatch         = &Error{Kind: KindTextMismatch}
	ErrResolutionExhausted  = &Error{Kind: KindResolutionExhausted}
	ErrNavigationFailed     = &Error{Kind: KindNavigationFailed}
	ErrStaleElementExceeded = &Error{Kind: KindStaleElementExceeded}

	// ErrStaleElement is what backends wrap when an element reference died.
	ErrStaleElement = browser.ErrStaleElement
)

// IsStale reports whether err should be retried by RetryOnStaleReference.
func IsStale(err error) bool {
	return browser.IsStale(err)
}

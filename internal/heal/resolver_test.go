package heal

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/browser/mocks"
	"github.com/copyleftdev/goheal/internal/config"
	"github.com/copyleftdev/goheal/internal/selector"
)

type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slept = append(s.slept, d)
	return ctx.Err()
}

func (s *sleepRecorder) durations() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.slept...)
}

func testPolicy() Policy {
	p := DefaultPolicy()
	p.ProbeTimeout = 5 * time.Millisecond
	p.WaitTimeout = 50 * time.Millisecond
	p.ActionTimeout = 50 * time.Millisecond
	p.StableTimeout = 50 * time.Millisecond
	return p
}

func newResolver(t *testing.T, page browser.Page) (*Resolver, *sleepRecorder) {
	t.Helper()
	rec := &sleepRecorder{}
	return NewResolver(page, testPolicy(), zaptest.NewLogger(t), WithSleeper(rec.sleep)), rec
}

var (
	saveButton = selector.ByRole("button", "Save")
	saveText   = selector.ByText("Save")
	saveCSS    = selector.ByCSS("#save")
)

func opsOn(page *mocks.Page, d selector.Descriptor) []string {
	var ops []string
	for _, c := range page.Calls() {
		if c.Selector == d.String() {
			ops = append(ops, c.Op)
		}
	}
	return ops
}

func TestResolveAndClick_FirstVisibleCandidateWins(t *testing.T) {
	page := mocks.NewPage()
	a := page.Add(saveButton, &mocks.Element{Visible: true})
	b := page.Add(saveText, &mocks.Element{Visible: true})
	r, _ := newResolver(t, page)

	attempt, err := r.ResolveAndClick(context.Background(), selector.Candidates(saveButton, saveText), Options{})
	require.NoError(t, err)

	assert.Equal(t, saveButton, attempt.Selector)
	assert.Equal(t, StrategyNormal, attempt.Strategy)
	assert.Equal(t, OutcomeSuccess, attempt.Outcome)
	assert.Equal(t, 0, attempt.RetryIndex)
	assert.Equal(t, 1, page.Clicks(a))
	assert.Equal(t, 0, page.Clicks(b))
	assert.Empty(t, opsOn(page, saveText), "later candidates must not be touched")
}

func TestResolveAndClick_SkipsHiddenCandidates(t *testing.T) {
	page := mocks.NewPage()
	page.Add(saveButton, &mocks.Element{Visible: false})
	b := page.Add(saveCSS, &mocks.Element{Visible: true})
	r, rec := newResolver(t, page)

	attempt, err := r.ResolveAndClick(context.Background(), selector.Candidates(saveButton, saveText, saveCSS), Options{})
	require.NoError(t, err)
	assert.Equal(t, saveCSS, attempt.Selector)
	assert.Equal(t, 1, page.Clicks(b))
	assert.Empty(t, rec.durations())
}

func TestResolveAndClick_ForcedFallback(t *testing.T) {
	page := mocks.NewPage()
	el := page.Add(saveButton, &mocks.Element{Visible: true, ClickErr: browser.ErrIntercepted})
	r, _ := newResolver(t, page)

	attempt, err := r.ResolveAndClick(context.Background(), selector.Candidates(saveButton), Options{})
	require.NoError(t, err)

	assert.Equal(t, StrategyForced, attempt.Strategy)
	assert.Equal(t, 1, page.Clicks(el))
	assert.Len(t, page.CallsTo("click"), 1)
	assert.Len(t, page.CallsTo("forceClick"), 1)
}

func TestResolveAndClick_ActionFailed(t *testing.T) {
	page := mocks.NewPage()
	page.Add(saveButton, &mocks.Element{
		Visible:       true,
		ClickErr:      browser.ErrIntercepted,
		ForceClickErr: errors.New("element is disabled"),
	})
	r, _ := newResolver(t, page)

	attempt, err := r.ResolveAndClick(context.Background(), selector.Candidates(saveButton), Options{MaxPasses: 1})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrActionFailed)
	assert.NotErrorIs(t, err, ErrResolutionExhausted)
	assert.Equal(t, OutcomeActionFailed, attempt.Outcome)
	assert.Equal(t, saveButton, attempt.Selector)
	assert.Len(t, page.CallsTo("click"), 1)
	assert.Len(t, page.CallsTo("forceClick"), 1, "exactly one forced click per failed normal click")

	var herr *Error
	require.ErrorAs(t, err, &herr)
	assert.Equal(t, KindActionFailed, herr.Kind)
	assert.Contains(t, herr.Error(), "element is disabled")
}

func TestResolveAndClick_ExhaustsPasses(t *testing.T) {
	page := mocks.NewPage()
	r, rec := newResolver(t, page)
	candidates := selector.Candidates(saveButton, saveText)

	attempt, err := r.ResolveAndClick(context.Background(), candidates, Options{})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrResolutionExhausted)
	assert.Equal(t, OutcomeElementNotFound, attempt.Outcome)
	assert.False(t, attempt.Matched)
	assert.Equal(t, 2, attempt.RetryIndex)

	// Three passes over two candidates, separated by two fixed pauses.
	assert.Len(t, page.CallsTo("waitFor"), 6)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, rec.durations())
	assert.Empty(t, page.CallsTo("click"))
}

func TestResolveAndClick_LateElementFoundOnLaterPass(t *testing.T) {
	page := mocks.NewPage()
	r, rec := newResolver(t, page)
	el := &mocks.Element{Visible: true}

	// The element shows up while the resolver is backing off.
	r.sleep = func(ctx context.Context, d time.Duration) error {
		page.Add(saveButton, el)
		return rec.sleep(ctx, d)
	}

	attempt, err := r.ResolveAndClick(context.Background(), selector.Candidates(saveButton), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, attempt.RetryIndex)
	assert.Equal(t, 1, page.Clicks(el))
	assert.Len(t, rec.durations(), 1)
}

func TestResolveAndClick_EmptyCandidates(t *testing.T) {
	r, _ := newResolver(t, mocks.NewPage())
	_, err := r.ResolveAndClick(context.Background(), nil, Options{})
	assert.ErrorIs(t, err, ErrNoCandidateFound)
}

func TestResolveAndClick_VisibilityErrorsMeanNotVisible(t *testing.T) {
	page := mocks.NewPage()
	page.Add(saveButton, &mocks.Element{Visible: true, VisibleErr: errors.New("protocol error")})
	b := page.Add(saveText, &mocks.Element{Visible: true})
	r, _ := newResolver(t, page)

	attempt, err := r.ResolveAndClick(context.Background(), selector.Candidates(saveButton, saveText), Options{})
	require.NoError(t, err)
	assert.Equal(t, saveText, attempt.Selector)
	assert.Equal(t, 1, page.Clicks(b))
}

func TestResolveAndFill_ClearsBeforeSetting(t *testing.T) {
	page := mocks.NewPage()
	input := selector.ByCSS("input")
	el := page.Add(input, &mocks.Element{Visible: true, Value: "old"})
	r, _ := newResolver(t, page)

	attempt, err := r.ResolveAndFill(context.Background(), selector.Candidates(input), "newValue", Options{})
	require.NoError(t, err)

	assert.Equal(t, "newValue", el.Value)
	assert.Equal(t, input, attempt.Selector)
	assert.Equal(t, []string{"waitFor", "clear", "fill"}, opsOn(page, input))
}

func TestResolveAndFill_FailureEndsPass(t *testing.T) {
	page := mocks.NewPage()
	first := selector.ByAttribute("name", "title")
	second := selector.ByCSS("#title")
	page.Add(first, &mocks.Element{Visible: true, ReadOnly: true})
	page.Add(second, &mocks.Element{Visible: true})
	r, rec := newResolver(t, page)

	attempt, err := r.ResolveAndFill(context.Background(), selector.Candidates(first, second), "x", Options{})
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrActionFailed)
	assert.ErrorIs(t, err, browser.ErrNotEditable)
	assert.Equal(t, first, attempt.Selector)
	assert.Empty(t, opsOn(page, second), "a failed fill moves on to the next pass, not the next candidate")
	assert.Len(t, page.CallsTo("clear"), 3)
	assert.Len(t, rec.durations(), 2)
}

func TestResolveAndFill_NothingVisible(t *testing.T) {
	r, _ := newResolver(t, mocks.NewPage())
	_, err := r.ResolveAndFill(context.Background(), selector.Candidates(saveCSS), "x", Options{MaxPasses: 2})
	assert.ErrorIs(t, err, ErrResolutionExhausted)
}

func TestWaitForAny(t *testing.T) {
	page := mocks.NewPage()
	page.Add(saveButton, &mocks.Element{Visible: true})
	page.Add(saveText, &mocks.Element{Visible: true})
	r, _ := newResolver(t, page)

	attempt, err := r.WaitForAny(context.Background(), selector.Candidates(saveButton, saveText), Options{})
	require.NoError(t, err)
	assert.Equal(t, saveButton, attempt.Selector)
	assert.Empty(t, opsOn(page, saveText))
	assert.Empty(t, page.CallsTo("click"))
}

func TestWaitForAny_Attached(t *testing.T) {
	page := mocks.NewPage()
	page.Add(saveCSS, &mocks.Element{Visible: false})
	r, _ := newResolver(t, page)

	_, err := r.WaitForAny(context.Background(), selector.Candidates(saveCSS), Options{})
	assert.ErrorIs(t, err, ErrNoCandidateFound)

	attempt, err := r.WaitForAny(context.Background(), selector.Candidates(saveCSS), Options{State: browser.StateAttached})
	require.NoError(t, err)
	assert.Equal(t, saveCSS, attempt.Selector)
}

func TestWaitForAny_LateRendering(t *testing.T) {
	page := mocks.NewPage()
	page.Add(saveCSS, &mocks.Element{Visible: true, HiddenProbes: 3})
	r, _ := newResolver(t, page)

	attempt, err := r.WaitForAny(context.Background(), selector.Candidates(saveCSS), Options{Timeout: time.Second})
	require.NoError(t, err)
	assert.True(t, attempt.Matched)
}

func TestExpectTextAny(t *testing.T) {
	heading := selector.ByRole("heading", "")
	toast := selector.ByCSS(".toast")

	t.Run("literal match", func(t *testing.T) {
		page := mocks.NewPage()
		page.Add(heading, &mocks.Element{Visible: true, Text: "Dashboard"})
		page.Add(toast, &mocks.Element{Visible: true, Text: "Saved successfully"})
		r, _ := newResolver(t, page)

		attempt, err := r.ExpectTextAny(context.Background(), selector.Candidates(heading, toast), Contains("Saved"), Options{})
		require.NoError(t, err)
		assert.Equal(t, toast, attempt.Selector)
	})

	t.Run("pattern match", func(t *testing.T) {
		page := mocks.NewPage()
		page.Add(toast, &mocks.Element{Visible: true, Text: "Property #42 created"})
		r, _ := newResolver(t, page)

		_, err := r.ExpectTextAny(context.Background(), selector.Candidates(toast), Matches(regexp.MustCompile(`#\d+ created`)), Options{})
		assert.NoError(t, err)
	})

	t.Run("mismatch", func(t *testing.T) {
		page := mocks.NewPage()
		page.Add(toast, &mocks.Element{Visible: true, Text: "Something went wrong"})
		r, _ := newResolver(t, page)

		_, err := r.ExpectTextAny(context.Background(), selector.Candidates(heading, toast), Contains("Saved"), Options{})
		assert.ErrorIs(t, err, ErrTextMismatch)
		assert.Contains(t, err.Error(), "Something went wrong")
	})

	t.Run("nothing reachable", func(t *testing.T) {
		r, _ := newResolver(t, mocks.NewPage())
		_, err := r.ExpectTextAny(context.Background(), selector.Candidates(heading, toast), Contains("Saved"), Options{})
		assert.ErrorIs(t, err, ErrNoCandidateFound)
	})
}

func TestNavigateWithRetry(t *testing.T) {
	page := mocks.NewPage()
	page.FailGoto(errors.New("net::ERR_CONNECTION_RESET"), errors.New("net::ERR_TIMED_OUT"))
	r, rec := newResolver(t, page)

	attempt, err := r.NavigateWithRetry(context.Background(), "https://staging.example.com/admin", Options{})
	require.NoError(t, err)

	assert.Equal(t, 2, attempt.RetryIndex)
	assert.Len(t, page.CallsTo("goto"), 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, rec.durations())
	url, _ := page.URL(context.Background())
	assert.Equal(t, "https://staging.example.com/admin", url)
}

func TestNavigateWithRetry_Exhausted(t *testing.T) {
	page := mocks.NewPage()
	last := errors.New("net::ERR_NAME_NOT_RESOLVED")
	page.FailGoto(errors.New("first"), errors.New("second"), last)
	r, _ := newResolver(t, page)

	_, err := r.NavigateWithRetry(context.Background(), "https://nowhere.invalid", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNavigationFailed)
	assert.ErrorIs(t, err, last, "the last navigation error is preserved")
	assert.Len(t, page.CallsTo("goto"), 3)
}

func TestRetryOnStaleReference(t *testing.T) {
	t.Run("retries stale errors", func(t *testing.T) {
		r, rec := newResolver(t, mocks.NewPage())
		calls := 0
		attempt, err := r.RetryOnStaleReference(context.Background(), func(ctx context.Context) error {
			calls++
			switch calls {
			case 1:
				return errors.New("stale element reference: element is not attached")
			case 2:
				return errors.New("Node is DETACHED from document")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, 2, attempt.RetryIndex)
		assert.Len(t, rec.durations(), 2)
	})

	t.Run("other errors are not retried", func(t *testing.T) {
		r, rec := newResolver(t, mocks.NewPage())
		boom := errors.New("permission denied")
		calls := 0
		_, err := r.RetryOnStaleReference(context.Background(), func(ctx context.Context) error {
			calls++
			return boom
		})
		assert.Equal(t, boom, err)
		assert.Equal(t, 1, calls)
		assert.Empty(t, rec.durations())
	})

	t.Run("gives up after the retry budget", func(t *testing.T) {
		r, _ := newResolver(t, mocks.NewPage())
		calls := 0
		_, err := r.RetryOnStaleReference(context.Background(), func(ctx context.Context) error {
			calls++
			return browser.ErrStaleElement
		})
		assert.ErrorIs(t, err, ErrStaleElementExceeded)
		assert.ErrorIs(t, err, ErrStaleElement)
		assert.Equal(t, 3, calls)
	})
}

func TestDismissKnownPopups(t *testing.T) {
	t.Run("nothing to dismiss", func(t *testing.T) {
		r, _ := newResolver(t, mocks.NewPage())
		assert.NotPanics(t, func() {
			assert.Equal(t, 0, r.DismissKnownPopups(context.Background()))
		})
	})

	t.Run("every click fails", func(t *testing.T) {
		page := mocks.NewPage()
		for _, d := range testPolicy().PopupClosers {
			page.Add(d, &mocks.Element{Visible: true, ClickErr: errors.New("detached")})
		}
		r, _ := newResolver(t, page)
		assert.Equal(t, 0, r.DismissKnownPopups(context.Background()))
	})

	t.Run("dismisses visible closers", func(t *testing.T) {
		page := mocks.NewPage()
		closer := testPolicy().PopupClosers[0]
		el := page.Add(closer, &mocks.Element{Visible: true})
		r, _ := newResolver(t, page)

		assert.Equal(t, 1, r.DismissKnownPopups(context.Background()))
		assert.Equal(t, 1, page.Clicks(el))
	})
}

func TestWaitForStable(t *testing.T) {
	spinner := testPolicy().LoadingIndicators[1]

	t.Run("no indicators", func(t *testing.T) {
		r, _ := newResolver(t, mocks.NewPage())
		assert.True(t, r.WaitForStable(context.Background(), 0))
	})

	t.Run("indicator clears", func(t *testing.T) {
		page := mocks.NewPage()
		page.Add(spinner, &mocks.Element{Visible: true})
		r, _ := newResolver(t, page)

		go func() {
			time.Sleep(5 * time.Millisecond)
			page.Remove(spinner)
		}()
		assert.True(t, r.WaitForStable(context.Background(), time.Second))
	})

	t.Run("indicator never clears", func(t *testing.T) {
		page := mocks.NewPage()
		page.Add(spinner, &mocks.Element{Visible: true})
		r, _ := newResolver(t, page)

		assert.False(t, r.WaitForStable(context.Background(), 20*time.Millisecond))
	})
}

func TestPolicyFromConfig(t *testing.T) {
	p := PolicyFromConfig(config.HealingConfig{
		MaxPasses:         5,
		PassBackoff:       250 * time.Millisecond,
		LoadingIndicators: []string{".busy"},
	})
	assert.Equal(t, 5, p.MaxPasses)
	assert.Equal(t, 250*time.Millisecond, p.PassBackoff)
	assert.Equal(t, 3, p.NavigationRetries)
	assert.Equal(t, 2*time.Second, p.NavigationBackoff)
	assert.Equal(t, selector.Candidates(selector.ByCSS(".busy")), p.LoadingIndicators)
	assert.NotEmpty(t, p.PopupClosers)
}

func TestErrorIs(t *testing.T) {
	err := &Error{Kind: KindTextMismatch, Op: "ExpectTextAny"}
	assert.ErrorIs(t, err, ErrTextMismatch)
	assert.NotErrorIs(t, err, ErrNoCandidateFound)
	assert.NotErrorIs(t, ErrTextMismatch, err, "only sentinels match by kind")
}

// cancelledBackoff ends every retry loop at its first pause.
func cancelledBackoff(ctx context.Context, d time.Duration) error {
	return context.Canceled
}

func TestAttemptsCountOnlyPassesRun(t *testing.T) {
	page := mocks.NewPage()
	page.FailGoto(errors.New("first"), errors.New("second"), errors.New("third"))
	r := NewResolver(page, testPolicy(), zaptest.NewLogger(t), WithSleeper(cancelledBackoff))
	ctx := context.Background()
	missing := selector.Candidates(selector.ByCSS("#missing"))

	attemptsOf := func(t *testing.T, err error) int {
		t.Helper()
		var herr *Error
		require.ErrorAs(t, err, &herr)
		assert.ErrorIs(t, err, context.Canceled)
		return herr.Attempts
	}

	t.Run("click", func(t *testing.T) {
		attempt, err := r.ResolveAndClick(ctx, missing, Options{})
		assert.Equal(t, 1, attemptsOf(t, err))
		assert.Equal(t, 0, attempt.RetryIndex)
	})
	t.Run("fill", func(t *testing.T) {
		_, err := r.ResolveAndFill(ctx, missing, "x", Options{})
		assert.Equal(t, 1, attemptsOf(t, err))
	})
	t.Run("navigate", func(t *testing.T) {
		attempt, err := r.NavigateWithRetry(ctx, "https://app.example.com", Options{})
		assert.Equal(t, 1, attemptsOf(t, err))
		assert.Equal(t, 0, attempt.RetryIndex)
		assert.Len(t, page.CallsTo("goto"), 1)
	})
	t.Run("stale", func(t *testing.T) {
		_, err := r.RetryOnStaleReference(ctx, func(ctx context.Context) error {
			return errors.New("stale element reference")
		})
		assert.Equal(t, 1, attemptsOf(t, err))
	})
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "Grü...", truncate("Grüße", 3))
	assert.Equal(t, "日本...", truncate("日本語テキスト", 2))
}

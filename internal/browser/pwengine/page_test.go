package pwengine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/playwright-community/playwright-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copyleftdev/goheal/internal/browser"
)

func TestTimeout(t *testing.T) {
	assert.Nil(t, timeout(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ms := timeout(ctx)
	require.NotNil(t, ms)
	assert.InDelta(t, 2000, *ms, 100)

	expired, cancel2 := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel2()
	assert.Equal(t, float64(1), *timeout(expired))
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil))

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"timeout", fmt.Errorf("locator.click: %w", playwright.ErrTimeout), context.DeadlineExceeded},
		{"intercepted", errors.New(`<div class="overlay"> intercepts pointer events`), browser.ErrIntercepted},
		{"detached", errors.New("Element is not attached to the DOM"), browser.ErrStaleElement},
		{"not editable", errors.New("Element is not an <input>, <textarea> or [contenteditable] element"), browser.ErrNotEditable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, mapError(tt.in), tt.want)
		})
	}

	plain := errors.New("net::ERR_CONNECTION_REFUSED")
	assert.Equal(t, plain, mapError(plain))
}

package heal

import (
	"time"

	"github.com/copyleftdev/goheal/internal/config"
	"github.com/copyleftdev/goheal/internal/selector"
)

// Policy bounds every retry loop in the resolver.
type Policy struct {
	MaxPasses    int
	PassBackoff  time.Duration
	ProbeTimeout time.Duration // per-candidate visibility check
	WaitTimeout  time.Duration // whole WaitForAny / ExpectTextAny call

	ActionTimeout time.Duration // one click, clear or fill

	NavigationRetries int           // total attempts
	NavigationBackoff time.Duration // grows linearly with the attempt number
	NavigationTimeout time.Duration

	StaleRetries int // total attempts
	StaleBackoff time.Duration

	StableTimeout     time.Duration
	LoadingIndicators selector.CandidateSet
	PopupClosers      selector.CandidateSet
}

var defaultLoadingIndicators = []string{
	".loading",
	".spinner",
	"[aria-busy=true]",
	"role=progressbar",
	".ant-spin-spinning",
	".MuiCircularProgress-root",
	".skeleton",
}

var defaultPopupClosers = []string{
	`role=button[name="Close"]`,
	"[aria-label=Close]",
	"[data-dismiss=modal]",
	"button.close",
	".modal .btn-close",
	"text=Got it",
	"text=Dismiss",
	"text=Accept all",
}

func DefaultPolicy() Policy {
	return Policy{
		MaxPasses:         3,
		PassBackoff:       time.Second,
		ProbeTimeout:      2 * time.Second,
		WaitTimeout:       10 * time.Second,
		ActionTimeout:     5 * time.Second,
		NavigationRetries: 3,
		NavigationBackoff: 2 * time.Second,
		NavigationTimeout: 30 * time.Second,
		StaleRetries:      3,
		StaleBackoff:      500 * time.Millisecond,
		StableTimeout:     10 * time.Second,
		LoadingIndicators: selector.ParseAll(defaultLoadingIndicators...),
		PopupClosers:      selector.ParseAll(defaultPopupClosers...),
	}
}

// PolicyFromConfig overlays the healing.* config tree on the defaults. Zero
// values keep the default.
func PolicyFromConfig(cfg config.HealingConfig) Policy {
	p := DefaultPolicy()
	setInt(&p.MaxPasses, cfg.MaxPasses)
	setDuration(&p.PassBackoff, cfg.PassBackoff)
	setDuration(&p.ProbeTimeout, cfg.ProbeTimeout)
	setDuration(&p.WaitTimeout, cfg.WaitTimeout)
	setDuration(&p.ActionTimeout, cfg.ActionTimeout)
	setInt(&p.NavigationRetries, cfg.NavigationRetries)
	setDuration(&p.NavigationBackoff, cfg.NavigationBackoff)
	setDuration(&p.NavigationTimeout, cfg.NavigationTimeout)
	setInt(&p.StaleRetries, cfg.StaleRetries)
	setDuration(&p.StaleBackoff, cfg.StaleBackoff)
	setDuration(&p.StableTimeout, cfg.StableTimeout)
	if len(cfg.LoadingIndicators) > 0 {
		p.LoadingIndicators = selector.ParseAll(cfg.LoadingIndicators...)
	}
	if len(cfg.PopupClosers) > 0 {
		p.PopupClosers = selector.ParseAll(cfg.PopupClosers...)
	}
	return p
}

func setInt(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}

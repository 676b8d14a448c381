// Package launch picks the browser engine named in configuration.
package launch

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/browser/pwengine"
	"github.com/copyleftdev/goheal/internal/config"
)

const (
	EngineChromedp   = "chromedp"
	EnginePlaywright = "playwright"
)

// New starts the configured engine. An empty engine name means chromedp.
func New(cfg *config.BrowserConfig, logger *zap.Logger) (browser.Launcher, error) {
	engine := strings.ToLower(strings.TrimSpace(cfg.Engine))
	switch engine {
	case "", EngineChromedp:
		m, err := browser.NewManager(cfg, logger)
		if err != nil {
			return nil, err
		}
		return m, nil
	case EnginePlaywright:
		e, err := pwengine.NewEngine(cfg, logger)
		if err != nil {
			return nil, err
		}
		return e, nil
	default:
		return nil, fmt.Errorf("unknown browser engine %q (want %s or %s)", cfg.Engine, EngineChromedp, EnginePlaywright)
	}
}

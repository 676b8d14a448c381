package scaffold

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/copyleftdev/goheal/internal/browser"
	"github.com/copyleftdev/goheal/internal/selector"
)

// Link is one navigation candidate found on the landing page.
type Link struct {
	Name string `json:"name" yaml:"name"`
	Href string `json:"href" yaml:"href,omitempty"`
	// Ref is the raw href attribute and Index the element's position among
	// all navigation matches. Together they find the element again.
	Ref   string `json:"ref,omitempty" yaml:"-"`
	Index int    `json:"index" yaml:"-"`
}

// Selector addresses the discovered element itself, never another element
// that merely shares its text: the navigation entry carrying the same href,
// or, for entries without one, the same position among navigation matches.
// Use the returned index with Nth.
func (l Link) Selector(modulePath string) (selector.Descriptor, int) {
	if l.Ref == "" {
		return selector.ByCSS(navSelector(modulePath)), l.Index
	}
	parts := navParts(modulePath)
	for i, p := range parts {
		parts[i] = p + "[href=" + cssString(l.Ref) + "]"
	}
	return selector.ByCSS(strings.Join(parts, ", ")), 0
}

// navParts is the over-inclusive union of places admin UIs keep module
// links. modulePath adds links whose href follows the app's module URLs.
func navParts(modulePath string) []string {
	parts := []string{
		"[role=menuitem]",
		"nav a",
		"aside a",
		".sidebar a",
		"[class*=menu] a",
	}
	if modulePath != "" {
		parts = append(parts, "a[href*="+cssString(modulePath)+"]")
	}
	return parts
}

func navSelector(modulePath string) string {
	return strings.Join(navParts(modulePath), ", ")
}

// cssString quotes s as a CSS string literal.
func cssString(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\a `).Replace(s) + `"`
}

const discoverScript = `(() => {
	const seen = new Set();
	const out = [];
	document.querySelectorAll(%s).forEach((el, index) => {
		const name = (el.innerText || el.textContent || '').replace(/\s+/g, ' ').trim();
		if (!name || name.length > %d || seen.has(name)) return;
		seen.add(name);
		const ref = el.getAttribute('href') || '';
		out.push({ name: name, href: el.href || ref, ref: ref, index: index });
	});
	return out;
})()`

// maxLinkText drops nav entries that are clearly not module labels.
const maxLinkText = 60

// discover returns candidate module links in document order, unique by text.
func discover(ctx context.Context, page browser.Page, modulePath string) ([]Link, error) {
	sel, err := json.Marshal(navSelector(modulePath))
	if err != nil {
		return nil, err
	}
	var links []Link
	if err := page.Evaluate(ctx, fmt.Sprintf(discoverScript, sel, maxLinkText), &links); err != nil {
		return nil, fmt.Errorf("failed to discover navigation links: %w", err)
	}
	return links, nil
}

const readyStateScript = `document.readyState`

// waitReady polls until the document reports it has finished loading.
func waitReady(ctx context.Context, page browser.Page) error {
	return browser.Poll(ctx, 0, func(ctx context.Context) (bool, error) {
		var state string
		if err := page.Evaluate(ctx, readyStateScript, &state); err != nil {
			if browser.IsStale(err) {
				return false, nil
			}
			return false, err
		}
		return state == "complete", nil
	})
}

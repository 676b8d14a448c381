// Package dom inspects page snapshots.
//
// Classify is deliberately heuristic: it looks for the markers admin UIs
// commonly use for tables, forms, search boxes and tabs, and samples a few
// labels of each kind so generated tests have something concrete to assert.
package dom

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// selectorSample bounds PageAffordances.Selectors regardless of sampleSize.
const selectorSample = 10

// PageAffordances is what one page offers a generated test to exercise.
type PageAffordances struct {
	HasTable  bool
	HasForm   bool
	HasSearch bool
	HasTabs   bool

	Selectors []string
	Buttons   []string
	Inputs    []string
	Links     []string
}

var whitespace = regexp.MustCompile(`\s+`)

// sample collects unique non-empty values up to a limit.
type sample struct {
	limit int
	seen  map[string]bool
	items []string
}

func newSample(limit int) *sample {
	return &sample{limit: limit, seen: make(map[string]bool)}
}

func (s *sample) add(v string) {
	v = strings.TrimSpace(v)
	if v == "" || s.seen[v] || len(s.items) >= s.limit {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

// Classify parses an HTML snapshot and reports its affordances. sampleSize
// bounds the button, input and link samples.
func Classify(doc string, sampleSize int) (PageAffordances, error) {
	root, err := html.Parse(strings.NewReader(doc))
	if err != nil {
		return PageAffordances{}, fmt.Errorf("failed to parse page snapshot: %w", err)
	}
	if sampleSize <= 0 {
		sampleSize = 5
	}

	var aff PageAffordances
	selectors := newSample(selectorSample)
	buttons := newSample(sampleSize)
	inputs := newSample(sampleSize)
	links := newSample(sampleSize)

	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			if skipped(n) {
				return
			}
			classifyElement(n, &aff)
			collectSelector(n, selectors)

			switch {
			case isButton(n):
				buttons.add(buttonLabel(n))
			case isField(n):
				inputs.add(fieldLabel(n))
			case n.DataAtom == atom.A && hasAttr(n, "href"):
				links.add(textOf(n))
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)

	aff.Selectors = selectors.items
	aff.Buttons = buttons.items
	aff.Inputs = inputs.items
	aff.Links = links.items
	return aff, nil
}

func classifyElement(n *html.Node, aff *PageAffordances) {
	if matchAny(TableMarkers, n) {
		aff.HasTable = true
	}
	if matchAny(FormMarkers, n) || (isButton(n) && hasFormVerb(buttonLabel(n))) {
		aff.HasForm = true
	}
	if matchAny(SearchMarkers, n) {
		aff.HasSearch = true
	}
	if matchAny(TabMarkers, n) {
		aff.HasTabs = true
	}
}

func isButton(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Button:
		return true
	case atom.Input:
		switch strings.ToLower(attr(n, "type")) {
		case "submit", "button", "reset":
			return true
		}
	}
	return strings.EqualFold(attr(n, "role"), "button")
}

func isField(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Textarea, atom.Select:
		return true
	case atom.Input:
		return !strings.EqualFold(attr(n, "type"), "hidden")
	}
	return false
}

func hasFormVerb(label string) bool {
	for _, w := range strings.Fields(strings.ToLower(label)) {
		w = strings.Trim(w, "+:.!")
		for _, verb := range FormVerbs {
			if w == verb {
				return true
			}
		}
	}
	return false
}

func buttonLabel(n *html.Node) string {
	if n.DataAtom == atom.Input {
		if v := attr(n, "value"); v != "" {
			return v
		}
	}
	if t := textOf(n); t != "" {
		return t
	}
	return attr(n, "aria-label")
}

// fieldLabel renders an input as "type: label", using the most human label
// available.
func fieldLabel(n *html.Node) string {
	kind := n.Data
	if n.DataAtom == atom.Input {
		kind = strings.ToLower(attr(n, "type"))
		if kind == "" {
			kind = "text"
		}
	}
	for _, key := range []string{"placeholder", "aria-label", "name", "id"} {
		if v := attr(n, key); v != "" {
			return kind + ": " + v
		}
	}
	return kind
}

// collectSelector records stable hooks a test could address the element by.
func collectSelector(n *html.Node, s *sample) {
	switch {
	case attr(n, "data-testid") != "":
		s.add(fmt.Sprintf("[data-testid=%q]", attr(n, "data-testid")))
	case attr(n, "id") != "":
		s.add("#" + attr(n, "id"))
	case isField(n) && attr(n, "name") != "":
		s.add(fmt.Sprintf("%s[name=%q]", n.Data, attr(n, "name")))
	case attr(n, "aria-label") != "":
		s.add(fmt.Sprintf("[aria-label=%q]", attr(n, "aria-label")))
	}
}

func skipped(n *html.Node) bool {
	switch n.DataAtom {
	case atom.Script, atom.Style, atom.Noscript, atom.Template, atom.Head:
		return true
	}
	return hasAttr(n, "hidden") || strings.EqualFold(attr(n, "aria-hidden"), "true")
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
		}
		if n.Type == html.ElementNode && skipped(n) {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.TrimSpace(whitespace.ReplaceAllString(b.String(), " "))
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return strings.TrimSpace(a.Val)
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}

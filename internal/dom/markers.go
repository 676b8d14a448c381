package dom

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Marker is one way a page advertises an affordance. Classify evaluates it
// against the snapshot and CSS renders the same test for a live browser, so a
// generated check always looks for what the classifier saw.
type Marker struct {
	Tag      string // element name, empty for any element
	Attr     string // attribute to inspect, empty for tag-only markers
	Value    string // lower case
	Contains bool   // substring instead of exact attribute match
}

// Match compares attribute values ASCII case-insensitively, like the CSS `i`
// flag.
func (m Marker) Match(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if m.Tag != "" && n.Data != m.Tag {
		return false
	}
	if m.Attr == "" {
		return true
	}
	for _, a := range n.Attr {
		if a.Key != m.Attr {
			continue
		}
		v := strings.ToLower(a.Val)
		if m.Contains {
			return strings.Contains(v, m.Value)
		}
		return v == m.Value
	}
	return false
}

func (m Marker) CSS() string {
	if m.Attr == "" {
		return m.Tag
	}
	op := "="
	if m.Contains {
		op = "*="
	}
	return fmt.Sprintf(`%s[%s%s"%s" i]`, m.Tag, m.Attr, op, m.Value)
}

// Selector joins markers into one CSS selector list.
func Selector(markers []Marker) string {
	parts := make([]string, len(markers))
	for i, m := range markers {
		parts[i] = m.CSS()
	}
	return strings.Join(parts, ", ")
}

// Descendants selects the links and buttons inside elements matching markers.
func Descendants(markers []Marker) string {
	var parts []string
	for _, m := range markers {
		css := m.CSS()
		parts = append(parts, css+" a", css+" button")
	}
	return strings.Join(parts, ", ")
}

func matchAny(markers []Marker, n *html.Node) bool {
	for _, m := range markers {
		if m.Match(n) {
			return true
		}
	}
	return false
}

func role(v string) Marker { return Marker{Attr: "role", Value: v} }

func classPart(v string) Marker { return Marker{Attr: "class", Value: v, Contains: true} }

var (
	// TableMarkers recognise real tables and data-grid widgets. Layout
	// classes such as "grid-cols-2" or "table-responsive" are not tables.
	TableMarkers = []Marker{
		{Tag: "table"},
		role("table"),
		role("grid"),
		role("treegrid"),
		classPart("datagrid"),
		classPart("data-grid"),
		classPart("datatable"),
		classPart("data-table"),
		classPart("ag-grid"),
		classPart("ag-root"),
		classPart("ant-table"),
		classPart("el-table"),
	}

	// SearchMarkers recognise search inputs by type, role or a search-like
	// hint in a descriptive attribute.
	SearchMarkers = searchMarkers()

	// FormMarkers recognise forms and their submit controls. Buttons labelled
	// with a FormVerbs word count too.
	FormMarkers = []Marker{
		{Tag: "form"},
		role("form"),
		{Tag: "button", Attr: "type", Value: "submit"},
		{Tag: "input", Attr: "type", Value: "submit"},
	}

	// FormVerbs are the button words that open or submit a create form.
	FormVerbs = []string{"add", "create", "new", "save", "submit"}

	TabMarkers = []Marker{
		role("tab"),
		role("tablist"),
		classPart("tabs"),
		classPart("tab-"),
		classPart("tablist"),
	}
)

func searchMarkers() []Marker {
	out := []Marker{
		role("searchbox"),
		{Tag: "input", Attr: "type", Value: "search"},
	}
	for _, key := range []string{"placeholder", "name", "aria-label", "id"} {
		for _, hint := range []string{"search", "find", "filter"} {
			out = append(out, Marker{Tag: "input", Attr: key, Value: hint, Contains: true})
		}
	}
	return out
}

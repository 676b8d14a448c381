package scaffold

import (
	"bytes"
	"fmt"
	"go/format"
	"strings"
	"text/template"

	"github.com/copyleftdev/goheal/internal/dom"
	"github.com/copyleftdev/goheal/internal/selector"
)

// ModuleProfile is everything the emitter knows about one module.
type ModuleProfile struct {
	Name      string   `json:"name" yaml:"name"`
	Slug      string   `json:"slug" yaml:"slug"`
	URL       string   `json:"url" yaml:"url"`
	Selectors []string `json:"selectors,omitempty" yaml:"selectors,omitempty"`
	Buttons   []string `json:"buttons,omitempty" yaml:"buttons,omitempty"`
	Inputs    []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Links     []string `json:"links,omitempty" yaml:"links,omitempty"`
	HasTable  bool     `json:"hasTable" yaml:"hasTable"`
	HasForm   bool     `json:"hasForm" yaml:"hasForm"`
	HasSearch bool     `json:"hasSearch" yaml:"hasSearch"`
	HasTabs   bool     `json:"hasTabs" yaml:"hasTabs"`
}

// goList renders descriptors as a Go argument list.
func goList(ds ...selector.Descriptor) string {
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = fmt.Sprintf("%#v", d)
	}
	return strings.Join(parts, ", ")
}

// Affordance checks look for exactly what dom.Classify matched on, rendered
// as CSS, so a flag never emits a check its page cannot satisfy.
var (
	tableCandidates  = []selector.Descriptor{selector.ByCSS(dom.Selector(dom.TableMarkers))}
	searchCandidates = []selector.Descriptor{selector.ByCSS(dom.Selector(dom.SearchMarkers))}

	formOpenCandidates = []selector.Descriptor{
		selector.ByRole("button", "Add"),
		selector.ByRole("button", "Create"),
		selector.ByRole("button", "New"),
	}
	formVisibleCandidates = []selector.Descriptor{
		selector.ByRole("dialog", ""),
		selector.ByRole("form", ""),
		selector.ByCSS("form"),
	}
	formCloseCandidates = []selector.Descriptor{
		selector.ByRole("button", "Cancel"),
		selector.ByRole("button", "Close"),
		selector.ByAttribute("aria-label", "Close"),
	}
	tabCandidates = []selector.Descriptor{
		selector.ByRole("tab", ""),
		selector.ByCSS(dom.Descendants(dom.TabMarkers)),
		selector.ByCSS(dom.Selector(dom.TabMarkers)),
	}
	tabStripCandidates = []selector.Descriptor{selector.ByCSS(dom.Selector(dom.TabMarkers))}
)

// formPresentCandidates mirrors the form flag: a form, a submit control or a
// button labelled with a form verb.
func formPresentCandidates() []selector.Descriptor {
	out := []selector.Descriptor{selector.ByCSS(dom.Selector(dom.FormMarkers))}
	for _, verb := range dom.FormVerbs {
		out = append(out, selector.ByRole("button", verb))
	}
	return out
}

type buttonCheck struct {
	Label      string
	Candidates string
}

type fileData struct {
	Package string
	Func    string
	Profile ModuleProfile

	PageLoad    string
	Table       string
	Search      string
	FormOpen    string
	FormPresent string
	FormVisible string
	FormClose   string
	Buttons     []buttonCheck
	Tab         string
	TabStrip    string
}

var testTemplate = template.Must(template.New("module").Parse(`// Code generated by goheal generate; DO NOT EDIT.
// Delete this file to have it scaffolded again.

package {{.Package}}

import (
	"testing"

	"github.com/copyleftdev/goheal/internal/e2e"
	"github.com/copyleftdev/goheal/internal/selector"
)

// Test{{.Func}} covers the {{printf "%q" .Profile.Name}} module.
func Test{{.Func}}(t *testing.T) {
	h := e2e.Setup(t)
	h.Open(t, {{printf "%q" .Profile.URL}})

	t.Run("page loads", func(t *testing.T) {
		h.ExpectVisible(t, {{.PageLoad}})
	})
{{- if .Profile.HasTable}}

	t.Run("table displays", func(t *testing.T) {
		h.ExpectVisible(t, {{.Table}})
	})
{{- end}}
{{- if .Profile.HasSearch}}

	t.Run("search accepts input", func(t *testing.T) {
		h.Fill(t, "test", {{.Search}})
		h.Stable(t)
	})
{{- end}}
{{- if .Profile.HasForm}}

	t.Run("form opens and closes", func(t *testing.T) {
{{- if .FormOpen}}
		h.Click(t, {{.FormOpen}})
		h.ExpectVisible(t, {{.FormVisible}})
		h.Click(t, {{.FormClose}})
{{- else}}
		h.ExpectVisible(t, {{.FormPresent}})
{{- end}}
	})
{{- end}}
{{- if .Buttons}}

	t.Run("buttons present", func(t *testing.T) {
{{- range .Buttons}}
		h.ExpectVisible(t, {{.Candidates}}) // {{printf "%q" .Label}}
{{- end}}
	})
{{- end}}
{{- if .Profile.HasTabs}}

	t.Run("tabs navigate", func(t *testing.T) {
		h.Click(t, {{.Tab}})
		h.ExpectVisible(t, {{.TabStrip}})
	})
{{- end}}
}
`))

// formVerbs picks sampled buttons that most likely open the create form.
var formVerbs = []string{"add", "create", "new"}

// formOpeners returns nil when no sampled button looks like an opener; the
// form test then only checks the form is there.
func formOpeners(buttons []string) []selector.Descriptor {
	var out []selector.Descriptor
	for _, b := range buttons {
		lower := strings.ToLower(b)
		for _, v := range formVerbs {
			if strings.Contains(lower, v) {
				out = append(out, selector.ByRole("button", b))
				break
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return append(out, formOpenCandidates...)
}

// Render produces gofmt'ed test source for one profile. Which subtests appear
// depends only on the profile.
func Render(pkg string, p ModuleProfile) ([]byte, error) {
	slug := p.Slug
	if slug == "" {
		slug = Slugify(p.Name)
	}
	data := fileData{
		Package:     pkg,
		Func:        funcName(slug),
		Profile:     p,
		PageLoad:    goList(selector.ByRole("heading", p.Name), selector.ByText(p.Name), selector.ByCSS("main"), selector.ByCSS("body")),
		Table:       goList(tableCandidates...),
		Search:      goList(searchCandidates...),
		FormOpen:    goList(formOpeners(p.Buttons)...),
		FormPresent: goList(formPresentCandidates()...),
		FormVisible: goList(formVisibleCandidates...),
		FormClose:   goList(formCloseCandidates...),
		Tab:         goList(tabCandidates...),
		TabStrip:    goList(tabStripCandidates...),
	}
	for _, b := range p.Buttons {
		data.Buttons = append(data.Buttons, buttonCheck{
			Label:      b,
			Candidates: goList(selector.ByRole("button", b), selector.ByText(b)),
		})
	}

	var buf bytes.Buffer
	if err := testTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render test for %q: %w", p.Name, err)
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("generated test for %q does not parse: %w", p.Name, err)
	}
	return src, nil
}

var mainTemplate = template.Must(template.New("main").Parse(`// Code generated by goheal generate; DO NOT EDIT.

package {{.}}

import (
	"os"
	"testing"

	"github.com/copyleftdev/goheal/internal/e2e"
)

func TestMain(m *testing.M) {
	os.Exit(e2e.Main(m))
}
`))

// RenderMain produces the package's TestMain, which owns the shared browser.
func RenderMain(pkg string) ([]byte, error) {
	var buf bytes.Buffer
	if err := mainTemplate.Execute(&buf, pkg); err != nil {
		return nil, err
	}
	return format.Source(buf.Bytes())
}

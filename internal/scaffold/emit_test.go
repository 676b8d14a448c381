package scaffold

import (
	"fmt"
	"go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"

	"github.com/copyleftdev/goheal/internal/dom"
	"github.com/copyleftdev/goheal/internal/selector"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"Users", "users"},
		{"AI Chat", "ai-chat"},
		{"  Reports & Analytics  ", "reports-analytics"},
		{"Top-up / Refund", "top-up-refund"},
		{"2FA Settings", "2fa-settings"},
		{"***", "module"},
		{"Main", "main-module"},
		{"Main Menu", "main-menu"},
		{"", "module"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Slugify(tt.name))
		})
	}
}

func TestSlugifyDistinguishesNearDuplicates(t *testing.T) {
	assert.NotEqual(t, Slugify("Article"), Slugify("Articles"))
	assert.Equal(t, Slugify("Article List"), Slugify("article-list"))
}

func TestFuncName(t *testing.T) {
	assert.Equal(t, "AiChat", funcName("ai-chat"))
	assert.Equal(t, "Users", funcName("users"))
	assert.Equal(t, "Module2faSettings", funcName("2fa-settings"))
}

func TestTestPath(t *testing.T) {
	assert.Equal(t, "out/ai-chat_test.go", TestPath("out", "AI Chat"))
}

var allSubtests = []string{
	"page loads",
	"table displays",
	"search accepts input",
	"form opens and closes",
	"buttons present",
	"tabs navigate",
}

func subtestsIn(src string) []string {
	var found []string
	for _, name := range allSubtests {
		if strings.Contains(src, `t.Run("`+name+`"`) {
			found = append(found, name)
		}
	}
	return found
}

func TestRender_FollowsFlags(t *testing.T) {
	tests := []struct {
		name  string
		table bool
		form  bool
		srch  bool
		want  []string
	}{
		{"000", false, false, false, []string{"page loads"}},
		{"100", true, false, false, []string{"page loads", "table displays"}},
		{"010", false, true, false, []string{"page loads", "form opens and closes"}},
		{"001", false, false, true, []string{"page loads", "search accepts input"}},
		{"111", true, true, true, []string{"page loads", "table displays", "search accepts input", "form opens and closes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := Render("generated", ModuleProfile{
				Name:      "Users",
				URL:       "https://app.example.com/admin/users",
				HasTable:  tt.table,
				HasForm:   tt.form,
				HasSearch: tt.srch,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.want, subtestsIn(string(src)))

			_, err = parser.ParseFile(token.NewFileSet(), "users_test.go", src, parser.AllErrors)
			assert.NoError(t, err)
		})
	}
}

func TestRender_ButtonsAndTabs(t *testing.T) {
	src, err := Render("generated", ModuleProfile{
		Name:    "Orders",
		URL:     "https://app.example.com/admin/orders",
		Buttons: []string{"Export", `Say "hi"`},
		HasTabs: true,
	})
	require.NoError(t, err)
	out := string(src)

	assert.Equal(t, []string{"page loads", "buttons present", "tabs navigate"}, subtestsIn(out))
	assert.Contains(t, out, `selector.ByRole("button", "Export"), selector.ByText("Export")`)
	assert.Contains(t, out, `selector.ByText("Say \"hi\"")`)
	assert.Contains(t, out, `selector.ByRole("tab", "")`)
}

func TestRender_Content(t *testing.T) {
	src, err := Render("generated", ModuleProfile{
		Name:    "AI Chat",
		URL:     "https://app.example.com/admin/ai-chat",
		Buttons: []string{"New conversation"},
		HasForm: true,
	})
	require.NoError(t, err)
	out := string(src)

	assert.True(t, strings.HasPrefix(out, "// Code generated by goheal generate; DO NOT EDIT."))
	assert.Contains(t, out, "package generated")
	assert.Contains(t, out, "func TestAiChat(t *testing.T) {")
	assert.Contains(t, out, `h.Open(t, "https://app.example.com/admin/ai-chat")`)
	assert.Contains(t, out, `selector.ByRole("heading", "AI Chat"), selector.ByText("AI Chat")`)
	// Sampled create-like buttons are tried before the generic verbs.
	assert.Contains(t, out, `h.Click(t, selector.ByRole("button", "New conversation"), selector.ByRole("button", "Add")`)
}

// matchesAny reports whether some element of doc satisfies one of markers,
// which is what the CSS emitted for those markers selects in a browser.
func matchesAny(t *testing.T, doc string, markers []dom.Marker) bool {
	t.Helper()
	root, err := html.Parse(strings.NewReader(doc))
	require.NoError(t, err)
	var found bool
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for _, m := range markers {
			if m.Match(n) {
				found = true
			}
		}
		for c := n.FirstChild; c != nil && !found; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func cssCall(markers []dom.Marker) string {
	return fmt.Sprintf("%#v", selector.ByCSS(dom.Selector(markers)))
}

// TestRender_ChecksMatchClassifiedPage classifies fixture pages and verifies
// every emitted affordance check selects something on the page it came from.
func TestRender_ChecksMatchClassifiedPage(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want []string
	}{
		{"data grid and filter", `<main><div class="MuiDataGrid-root"><div role="row">a</div></div>
<input placeholder="Filter orders"></main>`, []string{"page loads", "table displays", "search accepts input"}},
		{"search by id", `<main><input id="memberSearch"></main>`, []string{"page loads", "search accepts input"}},
		{"plain form", `<form><input name="title"><button type="submit">Publish</button></form>`,
			[]string{"page loads", "form opens and closes", "buttons present"}},
		{"tab strip", `<ul class="nav-tabs"><li><a href="#general">General</a></li></ul>`, []string{"page loads", "tabs navigate"}},
		{"layout grid", `<div class="grid grid-cols-2"><div>a</div><div>b</div></div>`, []string{"page loads"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aff, err := dom.Classify(tt.doc, 5)
			require.NoError(t, err)
			src, err := Render("generated", ModuleProfile{
				Name:      "Orders",
				URL:       "https://app.example.com/admin/orders",
				Buttons:   aff.Buttons,
				HasTable:  aff.HasTable,
				HasForm:   aff.HasForm,
				HasSearch: aff.HasSearch,
				HasTabs:   aff.HasTabs,
			})
			require.NoError(t, err)
			out := string(src)
			assert.Equal(t, tt.want, subtestsIn(out))

			checks := []struct {
				flag    bool
				markers []dom.Marker
			}{
				{aff.HasTable, dom.TableMarkers},
				{aff.HasSearch, dom.SearchMarkers},
				{aff.HasForm, dom.FormMarkers},
				{aff.HasTabs, dom.TabMarkers},
			}
			for _, c := range checks {
				if !c.flag {
					continue
				}
				assert.Contains(t, out, cssCall(c.markers))
				assert.True(t, matchesAny(t, tt.doc, c.markers), "emitted %s selects nothing", dom.Selector(c.markers))
			}
		})
	}
}

func TestRender_FormWithoutOpenerOnlyChecksPresence(t *testing.T) {
	src, err := Render("generated", ModuleProfile{Name: "Profile", URL: "/admin/profile", HasForm: true, Buttons: []string{"Publish"}})
	require.NoError(t, err)
	out := string(src)

	assert.Contains(t, out, "h.ExpectVisible(t, "+cssCall(dom.FormMarkers)+`, selector.ByRole("button", "add")`)
	assert.NotContains(t, out, `selector.ByRole("button", "Cancel")`)
}

func TestRender_IsDeterministic(t *testing.T) {
	p := ModuleProfile{Name: "Users", URL: "/admin/users", HasTable: true, Buttons: []string{"Add user"}}
	a, err := Render("generated", p)
	require.NoError(t, err)
	b, err := Render("generated", p)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestRenderMain(t *testing.T) {
	src, err := RenderMain("generated")
	require.NoError(t, err)
	assert.Contains(t, string(src), "os.Exit(e2e.Main(m))")

	_, err = parser.ParseFile(token.NewFileSet(), "main_test.go", src, parser.AllErrors)
	assert.NoError(t, err)
}

package dom

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const listPage = `<!DOCTYPE html>
<html><head><title>Properties</title><script>var x = "<table>";</script></head>
<body>
<nav><a href="/admin/properties">Properties</a><a href="/admin/articles">Articles</a></nav>
<div class="toolbar">
  <input type="search" placeholder="Search properties" name="q">
  <button id="add-property" type="button">+ Add Property</button>
  <button data-testid="export">Export</button>
</div>
<div class="ant-table-wrapper"><div role="grid"><div role="row">Sea View</div></div></div>
</body></html>`

const formPage = `<html><body>
<form id="article-form">
  <input name="title" placeholder="Title">
  <textarea name="body" aria-label="Body"></textarea>
  <select name="status"><option>draft</option></select>
  <input type="hidden" name="csrf" value="x">
  <input type="submit" value="Publish">
</form>
</body></html>`

const tabsPage = `<html><body>
<ul class="nav nav-tabs" role="tablist">
  <li role="tab">General</li><li role="tab">Advanced</li>
</ul>
<div class="tab-content"><p>Settings</p></div>
</body></html>`

func TestClassify_ListPage(t *testing.T) {
	aff, err := Classify(listPage, 5)
	require.NoError(t, err)

	assert.True(t, aff.HasTable)
	assert.True(t, aff.HasSearch)
	assert.True(t, aff.HasForm, "an add button implies a create form")
	assert.False(t, aff.HasTabs)

	assert.Equal(t, []string{"+ Add Property", "Export"}, aff.Buttons)
	assert.Equal(t, []string{"search: Search properties"}, aff.Inputs)
	assert.Equal(t, []string{"Properties", "Articles"}, aff.Links)
	assert.Equal(t, []string{`input[name="q"]`, "#add-property", `[data-testid="export"]`}, aff.Selectors)
}

func TestClassify_FormPage(t *testing.T) {
	aff, err := Classify(formPage, 5)
	require.NoError(t, err)

	assert.True(t, aff.HasForm)
	assert.False(t, aff.HasTable)
	assert.False(t, aff.HasSearch)
	assert.False(t, aff.HasTabs)
	assert.Equal(t, []string{"text: Title", "textarea: Body", "select: status"}, aff.Inputs)
	assert.Equal(t, []string{"Publish"}, aff.Buttons)
}

func TestClassify_TabsAreNotTables(t *testing.T) {
	aff, err := Classify(tabsPage, 5)
	require.NoError(t, err)

	assert.True(t, aff.HasTabs)
	assert.False(t, aff.HasTable)
}

func TestClassify_SearchHints(t *testing.T) {
	tests := []struct {
		name string
		html string
		want bool
	}{
		{"type search", `<input type="search">`, true},
		{"searchbox role", `<div role="searchbox"></div>`, true},
		{"placeholder", `<input placeholder="Find a member">`, true},
		{"name", `<input name="filter_status">`, true},
		{"aria label", `<input aria-label="Search FAQs">`, true},
		{"id", `<input id="searchInput">`, true},
		{"plain input", `<input name="email">`, false},
		{"hidden subtree", `<div hidden><input type="search"></div>`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			aff, err := Classify(tt.html, 5)
			require.NoError(t, err)
			assert.Equal(t, tt.want, aff.HasSearch)
		})
	}
}

func TestClassify_SamplesAreBounded(t *testing.T) {
	doc := "<html><body>"
	for i := 0; i < 30; i++ {
		doc += fmt.Sprintf(`<button id="b%d">Action %d</button><a href="/x/%d">Link %d</a>`, i, i, i, i)
	}
	doc += `<button>Action 0</button></body></html>`

	aff, err := Classify(doc, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"Action 0", "Action 1", "Action 2"}, aff.Buttons)
	assert.Len(t, aff.Links, 3)
	assert.Len(t, aff.Selectors, selectorSample)
}

func TestClassify_EmptyDocument(t *testing.T) {
	aff, err := Classify("", 5)
	require.NoError(t, err)
	assert.Equal(t, PageAffordances{}, aff)
}

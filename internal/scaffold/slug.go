package scaffold

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// reservedSlugs would collide with files the generator owns.
var reservedSlugs = map[string]string{
	"main": "main-module",
}

// Slugify derives the canonical module name used for file names: lower case,
// every run of other characters collapsed to one hyphen, hyphens trimmed.
func Slugify(name string) string {
	slug := nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(name)), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "module"
	}
	if alt, ok := reservedSlugs[slug]; ok {
		return alt
	}
	return slug
}

// TestFileName is the generated file for a module. Its existence is the only
// thing that marks a module as covered.
func TestFileName(slug string) string {
	return slug + "_test.go"
}

// TestPath joins the output directory and the module's test file name.
func TestPath(dir, name string) string {
	return filepath.Join(dir, TestFileName(Slugify(name)))
}

// funcName turns a slug into an exported Go identifier: "ai-chat" -> "AiChat".
func funcName(slug string) string {
	var b strings.Builder
	for _, part := range strings.Split(slug, "-") {
		if part == "" {
			continue
		}
		r := []rune(part)
		r[0] = unicode.ToUpper(r[0])
		b.WriteString(string(r))
	}
	name := b.String()
	if name == "" || unicode.IsDigit(rune(name[0])) {
		name = "Module" + name
	}
	return name
}

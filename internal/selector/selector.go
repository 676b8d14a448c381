// Package selector models the ways a UI element can be addressed.
//
// A Descriptor is one strategy for finding an element; a CandidateSet is an
// ordered list of descriptors that are all acceptable ways of addressing the
// same logical element. Backends translate descriptors into their own query
// language, so nothing outside the browser package depends on selector syntax.
package selector

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

type Kind string

const (
	KindRole      Kind = "role"
	KindText      Kind = "text"
	KindAttribute Kind = "attribute"
	KindCSS       Kind = "css"
)

// Descriptor is a tagged variant; only the fields belonging to Kind are set.
type Descriptor struct {
	Kind Kind

	Role string // KindRole
	Name string // KindRole, accessible name substring, optional

	Text    string         // KindText, literal substring
	Pattern *regexp.Regexp // KindText, takes precedence over Text

	Key   string // KindAttribute
	Value string // KindAttribute

	Expr string // KindCSS
}

// CandidateSet is ordered by preference. Duplicates are allowed.
type CandidateSet []Descriptor

func ByRole(role, name string) Descriptor {
	return Descriptor{Kind: KindRole, Role: role, Name: name}
}

func ByText(text string) Descriptor {
	return Descriptor{Kind: KindText, Text: text}
}

func ByTextPattern(re *regexp.Regexp) Descriptor {
	return Descriptor{Kind: KindText, Pattern: re}
}

func ByAttribute(key, value string) Descriptor {
	return Descriptor{Kind: KindAttribute, Key: key, Value: value}
}

func ByCSS(expr string) Descriptor {
	return Descriptor{Kind: KindCSS, Expr: expr}
}

// Candidates builds a CandidateSet from descriptors in preference order.
func Candidates(ds ...Descriptor) CandidateSet {
	return CandidateSet(ds)
}

// ParseAll parses every raw selector, preserving order.
func ParseAll(raws ...string) CandidateSet {
	set := make(CandidateSet, 0, len(raws))
	for _, raw := range raws {
		set = append(set, Parse(raw))
	}
	return set
}

var (
	rolePattern      = regexp.MustCompile(`^role=([a-zA-Z]+)(?:\[name=["']?(.*?)["']?\])?$`)
	attributePattern = regexp.MustCompile(`^\[([\w:-]+)=["']?([^"'\]]*)["']?\]$`)
	textRegexPattern = regexp.MustCompile(`^/(.*)/([a-z]*)$`)
)

// Parse converts a framework-style selector string into a Descriptor.
// Recognised forms: role=button[name="Save"], text=Save, text=/^Sav/i,
// [data-testid=save], css=.btn. Anything else is treated as CSS.
func Parse(raw string) Descriptor {
	raw = strings.TrimSpace(raw)

	if m := rolePattern.FindStringSubmatch(raw); m != nil {
		return ByRole(m[1], m[2])
	}

	if strings.HasPrefix(raw, "text=") {
		body := strings.TrimPrefix(raw, "text=")
		if m := textRegexPattern.FindStringSubmatch(body); m != nil {
			expr := m[1]
			if strings.Contains(m[2], "i") {
				expr = "(?i)" + expr
			}
			if re, err := regexp.Compile(expr); err == nil {
				return ByTextPattern(re)
			}
		}
		return ByText(strings.Trim(body, `"'`))
	}

	if strings.HasPrefix(raw, "css=") {
		return ByCSS(strings.TrimPrefix(raw, "css="))
	}

	if m := attributePattern.FindStringSubmatch(raw); m != nil {
		return ByAttribute(m[1], m[2])
	}

	return ByCSS(raw)
}

// String renders the descriptor in the framework-style syntax Parse accepts.
func (d Descriptor) String() string {
	switch d.Kind {
	case KindRole:
		if d.Name == "" {
			return "role=" + d.Role
		}
		return fmt.Sprintf("role=%s[name=%q]", d.Role, d.Name)
	case KindText:
		if d.Pattern != nil {
			src, flags := JSPattern(d.Pattern)
			return "text=/" + src + "/" + flags
		}
		return fmt.Sprintf("text=%q", d.Text)
	case KindAttribute:
		return fmt.Sprintf("[%s=%q]", d.Key, d.Value)
	case KindCSS:
		return d.Expr
	}
	return fmt.Sprintf("<invalid descriptor kind %q>", string(d.Kind))
}

// GoString renders a Go constructor expression for the descriptor. The
// scaffold generator relies on this to emit source code.
func (d Descriptor) GoString() string {
	switch d.Kind {
	case KindRole:
		return fmt.Sprintf("selector.ByRole(%s, %s)", strconv.Quote(d.Role), strconv.Quote(d.Name))
	case KindText:
		if d.Pattern != nil {
			return fmt.Sprintf("selector.ByTextPattern(regexp.MustCompile(%s))", strconv.Quote(d.Pattern.String()))
		}
		return fmt.Sprintf("selector.ByText(%s)", strconv.Quote(d.Text))
	case KindAttribute:
		return fmt.Sprintf("selector.ByAttribute(%s, %s)", strconv.Quote(d.Key), strconv.Quote(d.Value))
	default:
		return fmt.Sprintf("selector.ByCSS(%s)", strconv.Quote(d.Expr))
	}
}

// Validate reports descriptors that no backend could translate.
func (d Descriptor) Validate() error {
	switch d.Kind {
	case KindRole:
		if d.Role == "" {
			return fmt.Errorf("role descriptor requires a role")
		}
	case KindText:
		if d.Pattern == nil && d.Text == "" {
			return fmt.Errorf("text descriptor requires text or a pattern")
		}
	case KindAttribute:
		if d.Key == "" {
			return fmt.Errorf("attribute descriptor requires a key")
		}
	case KindCSS:
		if strings.TrimSpace(d.Expr) == "" {
			return fmt.Errorf("css descriptor requires an expression")
		}
	default:
		return fmt.Errorf("unknown descriptor kind %q", string(d.Kind))
	}
	return nil
}

// MatchText reports whether s satisfies a text descriptor.
func (d Descriptor) MatchText(s string) bool {
	if d.Pattern != nil {
		return d.Pattern.MatchString(s)
	}
	return strings.Contains(s, d.Text)
}

// JSPattern converts a Go regexp into a JavaScript source/flags pair. Only the
// leading (?i) flag group is translated; the rest of the syntax must be in the
// subset both engines share.
func JSPattern(re *regexp.Regexp) (source, flags string) {
	source = re.String()
	if strings.HasPrefix(source, "(?i)") {
		return strings.TrimPrefix(source, "(?i)"), "i"
	}
	return source, ""
}

// Strings renders every descriptor, mostly for log fields.
func (s CandidateSet) Strings() []string {
	out := make([]string, len(s))
	for i, d := range s {
		out[i] = d.String()
	}
	return out
}

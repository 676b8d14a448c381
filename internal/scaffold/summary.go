package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RunSummary is the record of one generation run.
type RunSummary struct {
	RunID      string          `json:"runId" yaml:"runId"`
	Target     string          `json:"target" yaml:"target"`
	OutputDir  string          `json:"outputDir" yaml:"outputDir"`
	StartedAt  time.Time       `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time       `json:"finishedAt" yaml:"finishedAt"`
	Discovered []Link          `json:"discovered" yaml:"discovered"`
	Modules    []ModuleProfile `json:"modules" yaml:"modules"`
	Generated  []string        `json:"generated" yaml:"generated"`
	Skipped    []SkippedLink   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Failed     []FailedLink    `json:"failed,omitempty" yaml:"failed,omitempty"`
}

type SkippedLink struct {
	Name   string `json:"name" yaml:"name"`
	Slug   string `json:"slug" yaml:"slug"`
	Reason string `json:"reason" yaml:"reason"`
}

type FailedLink struct {
	Name  string `json:"name" yaml:"name"`
	Href  string `json:"href,omitempty" yaml:"href,omitempty"`
	Error string `json:"error" yaml:"error"`
}

func (s *RunSummary) skip(link Link, slug, reason string) {
	s.Skipped = append(s.Skipped, SkippedLink{Name: link.Name, Slug: slug, Reason: reason})
}

func (s *RunSummary) fail(link Link, err error) {
	s.Failed = append(s.Failed, FailedLink{Name: link.Name, Href: link.Href, Error: err.Error()})
}

// WriteSummary writes the human (Markdown) and machine (YAML) summaries into
// dir. An empty file name skips that format.
func WriteSummary(dir, markdownName, yamlName string, s *RunSummary) error {
	if markdownName != "" {
		if err := os.WriteFile(filepath.Join(dir, markdownName), []byte(s.Markdown()), 0o644); err != nil {
			return err
		}
	}
	if yamlName != "" {
		out, err := yaml.Marshal(s)
		if err != nil {
			return fmt.Errorf("failed to encode summary: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, yamlName), out, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// ReadSummary loads a YAML summary written by WriteSummary.
func ReadSummary(path string) (*RunSummary, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s RunSummary
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("failed to decode summary %s: %w", path, err)
	}
	return &s, nil
}

func mark(b bool) string {
	if b {
		return "yes"
	}
	return "-"
}

func list(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.ReplaceAll(strings.Join(items, ", "), "|", `\|`)
}

// Markdown renders the summary for humans.
func (s *RunSummary) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Scaffold run %s\n\n", s.RunID)
	fmt.Fprintf(&b, "- Target: %s\n", s.Target)
	fmt.Fprintf(&b, "- Output: %s\n", s.OutputDir)
	fmt.Fprintf(&b, "- Started: %s\n", s.StartedAt.Format(time.RFC3339))
	if !s.FinishedAt.IsZero() {
		fmt.Fprintf(&b, "- Duration: %s\n", s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "- Discovered: %d, generated: %d, skipped: %d, failed: %d\n\n",
		len(s.Discovered), len(s.Generated), len(s.Skipped), len(s.Failed))

	b.WriteString("## Modules\n\n")
	if len(s.Modules) == 0 {
		b.WriteString("No new modules.\n\n")
	} else {
		b.WriteString("| Module | URL | Table | Form | Search | Tabs | Buttons | Inputs |\n")
		b.WriteString("|---|---|---|---|---|---|---|---|\n")
		for _, m := range s.Modules {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s | %s | %s | %s |\n",
				m.Name, m.URL, mark(m.HasTable), mark(m.HasForm), mark(m.HasSearch), mark(m.HasTabs),
				list(m.Buttons), list(m.Inputs))
		}
		b.WriteString("\n")
	}

	if len(s.Skipped) > 0 {
		b.WriteString("## Skipped\n\n")
		for _, sk := range s.Skipped {
			fmt.Fprintf(&b, "- %s (`%s`): %s\n", sk.Name, TestFileName(sk.Slug), sk.Reason)
		}
		b.WriteString("\n")
	}
	if len(s.Failed) > 0 {
		b.WriteString("## Failed\n\n")
		for _, f := range s.Failed {
			fmt.Fprintf(&b, "- %s: %s\n", f.Name, f.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}

package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aretw0/filedrop/pkg/domain"
	"github.com/charmbracelet/glamour"
)

// NewRenderer returns a function that renders markdown using glamour.
func NewRenderer() (func(string) (string, error), error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(), // Automatically detect light/dark background
	)
	if err != nil {
		return nil, err
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}, nil
}

// SessionMarkdown describes one stored session as a markdown document with a key/value table.
func SessionMarkdown(e domain.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session `%s`\n\n", e.ID)

	ttl := "none"
	if e.TTL > 0 {
		ttl = e.TTL.String()
	}
	fmt.Fprintf(&b, "- **TTL**: %s\n", ttl)
	if !e.TouchedAt.IsZero() {
		fmt.Fprintf(&b, "- **Touched**: %s\n", e.TouchedAt.UTC().Format(time.RFC3339))
	}
	if e.TTL > 0 && !e.TouchedAt.IsZero() {
		fmt.Fprintf(&b, "- **Expires**: %s\n", e.ExpiresAt().UTC().Format(time.RFC3339))
	}
	b.WriteString("\n")

	if len(e.State) == 0 {
		b.WriteString("_empty state_\n")
		return b.String()
	}

	keys := make([]string, 0, len(e.State))
	for k := range e.State {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString("| Key | Value |\n|---|---|\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "| %s | %s |\n", escapeCell(k), escapeCell(e.State[k]))
	}
	return b.String()
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	asciiIndent = "  "
	asciiStem   = "     "
	maxErrWidth = 48
)

// RenderASCII draws the model as a vertical column of boxes in run order.
// Guards are printed on the connector leading into the guarded step and
// authored links are listed after the column.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "=== %s ===\n\n", model.Title)
	}

	boxes := make(map[string][]string, len(model.Nodes))
	width := 0
	for _, n := range model.Nodes {
		if n.Terminal() {
			continue
		}
		lines := boxLines(n)
		for _, l := range lines {
			width = max(width, utf8.RuneCountInString(l))
		}
		boxes[n.ID] = lines
	}

	for i, n := range model.Nodes {
		if i > 0 {
			writeConnector(&b, n.Guard)
		}
		if n.Terminal() {
			fmt.Fprintf(&b, "%s( %s )\n", asciiIndent, n.Label)
			continue
		}
		writeBox(&b, boxes[n.ID], width)
	}

	var links []Edge
	for _, e := range model.Edges {
		if e.Link() {
			links = append(links, e)
		}
	}
	if len(links) > 0 {
		b.WriteString("\nlinks:\n")
		for _, e := range links {
			fmt.Fprintf(&b, "%s%s ─→ %s\n", asciiIndent, e.From, e.To)
		}
	}
	return b.String()
}

// boxLines returns the text rows of a step box.
func boxLines(n *Node) []string {
	lines := []string{fmt.Sprintf("%d. %s", n.Step, strings.ReplaceAll(n.Label, "\n", " "))}
	if n.Loop {
		lines = append(lines, "   loop")
	}
	if n.Status == nil {
		return lines
	}

	parts := []string{}
	if _, p, ok := paletteFor(n); ok {
		parts = append(parts, "["+p.tag+"]")
	}
	if n.Status.DurationMs > 0 {
		parts = append(parts, fmt.Sprintf("%dms", n.Status.DurationMs))
	}
	if n.Status.Dispatched {
		parts = append(parts, "dispatched")
	}
	if len(parts) > 0 {
		lines = append(lines, "   "+strings.Join(parts, " "))
	}
	if n.Status.Error != "" {
		lines = append(lines, "   "+truncate(n.Status.Error, maxErrWidth))
	}
	return lines
}

func writeBox(b *strings.Builder, lines []string, width int) {
	rule := strings.Repeat("─", width+2)
	fmt.Fprintf(b, "%s┌%s┐\n", asciiIndent, rule)
	for _, l := range lines {
		pad := strings.Repeat(" ", width-utf8.RuneCountInString(l))
		fmt.Fprintf(b, "%s│ %s%s │\n", asciiIndent, l, pad)
	}
	fmt.Fprintf(b, "%s└%s┘\n", asciiIndent, rule)
}

func writeConnector(b *strings.Builder, guard string) {
	b.WriteString(asciiStem + "│\n")
	if guard != "" {
		fmt.Fprintf(b, "%s│ if %s\n", asciiStem, guard)
	}
	b.WriteString(asciiStem + "▼\n")
}

// truncate shortens s to n runes on its first line.
func truncate(s string, n int) string {
	s = firstLine(s)
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// firstLine returns only the first line of a multi-line label.
func firstLine(s string) string {
	if i := strings.Index(s, "\n"); i >= 0 {
		return s[:i]
	}
	return s
}

package diagram

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// statusTag returns a short ASCII indicator for an overlay.
func statusTag(s *StatusOverlay) string {
	if s == nil {
		return ""
	}
	var tag string
	switch s.Status {
	case "completed":
		tag = "[OK]"
	case "failed":
		tag = "[FAIL]"
	case "running":
		tag = "[RUN]"
	case "skipped":
		tag = "[SKIP]"
	case "pending":
		tag = "[PEND]"
	}
	if s.Overdue && s.Status != "completed" && s.Status != "skipped" {
		tag += "[LATE]"
	}
	if s.Escalated {
		tag += "[ESC]"
	}
	return tag
}

// RenderASCII renders a DiagramModel as a vertical chain of boxes joined by
// arrows, followed by any declared dependencies.
func RenderASCII(model *DiagramModel) string {
	var b strings.Builder

	if model.Title != "" {
		b.WriteString(fmt.Sprintf("=== %s ===\n\n", model.Title))
	}

	chain := sequenceOrder(model)
	for i, node := range chain {
		for _, line := range makeBox(node) {
			b.WriteString(line)
			b.WriteByte('\n')
		}
		if i < len(chain)-1 {
			b.WriteString("     │\n")
			b.WriteString("     ▼\n")
		}
	}

	var deps []Edge
	for _, e := range model.Edges {
		if e.Kind == EdgeDependency {
			deps = append(deps, e)
		}
	}
	if len(deps) > 0 {
		b.WriteString("\n--- dependencies ---\n")
		for _, e := range deps {
			b.WriteString(fmt.Sprintf("  %s ─→ %s\n", e.From, e.To))
		}
	}

	return b.String()
}

// sequenceOrder walks the sequence edges from the start node.
func sequenceOrder(model *DiagramModel) []*Node {
	next := make(map[string]string, len(model.Edges))
	for _, e := range model.Edges {
		if e.Kind == EdgeSequence {
			next[e.From] = e.To
		}
	}
	var out []*Node
	seen := make(map[string]bool)
	for id := startID; id != "" && !seen[id]; id = next[id] {
		seen[id] = true
		if n := model.Node(id); n != nil {
			out = append(out, n)
		}
	}
	return out
}

// makeBox draws one node as box-drawing lines.
func makeBox(node *Node) []string {
	content := []string{node.Label}
	if node.Role != "" {
		content = append(content, "role: "+node.Role)
	}
	if s := node.Status; s != nil {
		line := statusTag(s)
		if s.AssignedTo != "" {
			line += " " + s.AssignedTo
		}
		content = append(content, strings.TrimSpace(line))
		if s.Attempts > 1 {
			content = append(content, fmt.Sprintf("attempts: %d", s.Attempts))
		}
		if s.Error != "" {
			content = append(content, "error: "+s.Error)
		}
	}

	maxLen := 0
	for _, line := range content {
		if n := utf8.RuneCountInString(line); n > maxLen {
			maxLen = n
		}
	}

	lines := make([]string, 0, len(content)+2)
	lines = append(lines, "┌"+strings.Repeat("─", maxLen+2)+"┐")
	for _, line := range content {
		pad := maxLen - utf8.RuneCountInString(line)
		lines = append(lines, "│ "+line+strings.Repeat(" ", pad)+" │")
	}
	lines = append(lines, "└"+strings.Repeat("─", maxLen+2)+"┘")
	return lines
}

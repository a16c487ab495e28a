package diagram

import (
	"fmt"
	"sort"
	"strings"
)

var mermaidIDReplacer = strings.NewReplacer(".", "_", "-", "_", " ", "_")

// RenderMermaid renders the model as a Mermaid flowchart. Overlaid steps get
// a class named after their status; only classes in use are defined.
func RenderMermaid(model *DiagramModel) string {
	var b strings.Builder
	if model.Title != "" {
		fmt.Fprintf(&b, "---\ntitle: %s\n---\n", model.Title)
	}
	b.WriteString("flowchart TD\n")

	used := make(map[string]palette)
	for _, n := range model.Nodes {
		def := mermaidNodeDef(n)
		if status, p, ok := paletteFor(n); ok {
			def += ":::" + status
			used[status] = p
		}
		fmt.Fprintf(&b, "    %s\n", def)
	}

	for _, e := range model.Edges {
		arrow := "-->"
		if e.Link() {
			arrow = "-.->|" + e.Label + "|"
		}
		fmt.Fprintf(&b, "    %s %s %s\n", mermaidSafeID(e.From), arrow, mermaidSafeID(e.To))
	}

	statuses := make([]string, 0, len(used))
	for s := range used {
		statuses = append(statuses, s)
	}
	sort.Strings(statuses)
	for _, s := range statuses {
		p := used[s]
		fmt.Fprintf(&b, "    classDef %s fill:%s,stroke:%s,color:%s\n", s, p.fill, p.stroke, p.font)
	}
	return b.String()
}

// mermaidNodeDef picks a shape: circles for start and end, a decision for
// guarded steps, a subroutine for loops.
func mermaidNodeDef(n *Node) string {
	id := mermaidSafeID(n.ID)
	label := firstLine(n.Label)
	if n.Step > 0 {
		label = fmt.Sprintf("%d. %s", n.Step, label)
	}

	switch {
	case n.Terminal():
		return fmt.Sprintf("%s((%q))", id, label)
	case n.Guard != "":
		return fmt.Sprintf("%s{%q}", id, label+" if "+n.Guard)
	case n.Loop:
		return fmt.Sprintf("%s[[%q]]", id, label)
	case n.Kind == NodeKindWait:
		return fmt.Sprintf("%s([%q])", id, label)
	case n.Kind == NodeKindExtract:
		return fmt.Sprintf("%s[/%q/]", id, label)
	default:
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

func mermaidSafeID(id string) string {
	return mermaidIDReplacer.Replace(id)
}

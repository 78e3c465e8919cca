package render

import (
	"context"
	"fmt"
	"strings"

	"archsync/internal/model"
)

// MermaidRenderer draws one view as a mermaid flowchart.
type MermaidRenderer struct{}

func (r *MermaidRenderer) Name() string { return "mermaid" }

func (r *MermaidRenderer) RenderView(ctx context.Context, m *model.Model, viewID string) (*Artifact, error) {
	view, ok := m.NodeByID(viewID)
	if !ok {
		return nil, fmt.Errorf("unknown view %q", viewID)
	}
	children := viewChildren(m, viewID)
	edges := viewEdges(m, viewID, children)

	// Short local aliases keep the diagram readable and the output stable.
	alias := make(map[string]string, len(children))
	for i, c := range children {
		alias[c.ID] = fmt.Sprintf("n%d", i)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "---\ntitle: %s\n---\n", displayName(&view))
	sb.WriteString("flowchart TD\n")
	for _, c := range children {
		label := displayName(c)
		if c.Degraded {
			label += " (degraded)"
		}
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", alias[c.ID], escapeMermaid(label))
	}
	for _, e := range edges {
		arrow := "-->"
		if e.kind == "interface" {
			arrow = "-.->"
		}
		if e.count > 1 {
			fmt.Fprintf(&sb, "    %s %s|x%d| %s\n", alias[e.src], arrow, e.count, alias[e.dst])
		} else {
			fmt.Fprintf(&sb, "    %s %s %s\n", alias[e.src], arrow, alias[e.dst])
		}
	}

	return &Artifact{
		Name:    viewFileName(&view, "mmd"),
		ViewID:  viewID,
		Type:    "text/vnd.mermaid",
		Content: []byte(sb.String()),
	}, nil
}

func escapeMermaid(s string) string {
	return strings.NewReplacer("\"", "#quot;", "\n", " ").Replace(s)
}

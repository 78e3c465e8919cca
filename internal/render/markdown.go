package render

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"archsync/internal/model"
)

// MarkdownRenderer writes one view as a markdown summary with a child
// listing, exposed ports, and the dependencies among children.
type MarkdownRenderer struct{}

func (r *MarkdownRenderer) Name() string { return "markdown" }

func (r *MarkdownRenderer) RenderView(ctx context.Context, m *model.Model, viewID string) (*Artifact, error) {
	view, ok := m.NodeByID(viewID)
	if !ok {
		return nil, fmt.Errorf("unknown view %q", viewID)
	}
	children := viewChildren(m, viewID)
	edges := viewEdges(m, viewID, children)

	names := make(map[string]string, len(children))
	for _, c := range children {
		names[c.ID] = displayName(c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "# %s\n\n", displayName(&view))
	if view.Summary != "" {
		sb.WriteString(view.Summary + "\n\n")
	}

	if len(children) > 0 {
		sb.WriteString("## Contains\n\n")
		for _, c := range children {
			line := "- **" + displayName(c) + "**"
			if c.Path != "" && c.Path != c.Name {
				line += " (`" + c.Path + "`)"
			}
			if c.Degraded {
				line += " *(degraded)*"
			}
			if c.Summary != "" {
				line += ": " + c.Summary
			}
			sb.WriteString(line + "\n")
		}
		sb.WriteString("\n")
	}

	if ports := viewPorts(m, viewID); len(ports) > 0 {
		sb.WriteString("## Ports\n\n")
		for _, p := range ports {
			fmt.Fprintf(&sb, "- `%s` (%s, %s)\n", p.Name, p.Protocol, p.Direction)
		}
		sb.WriteString("\n")
	}

	if len(edges) > 0 {
		sb.WriteString("## Dependencies\n\n")
		for _, e := range edges {
			fmt.Fprintf(&sb, "- %s → %s (%s, %d)\n", names[e.src], names[e.dst], e.kind, e.count)
		}
		sb.WriteString("\n")
	}

	return &Artifact{
		Name:    viewFileName(&view, "md"),
		ViewID:  viewID,
		Type:    "text/markdown",
		Content: []byte(sb.String()),
	}, nil
}

// viewPorts collects the ports owned by modules inside the view.
func viewPorts(m *model.Model, viewID string) []model.Port {
	inside := map[string]bool{viewID: true}
	for _, n := range m.Nodes {
		for _, anc := range m.Lineage(n.ID) {
			if anc == viewID {
				inside[n.ID] = true
				break
			}
		}
	}

	var ports []model.Port
	for _, p := range m.Ports {
		if inside[p.ModuleID] {
			ports = append(ports, p)
		}
	}
	sort.Slice(ports, func(i, j int) bool {
		if ports[i].Name != ports[j].Name {
			return ports[i].Name < ports[j].Name
		}
		return ports[i].ID < ports[j].ID
	})
	return ports
}

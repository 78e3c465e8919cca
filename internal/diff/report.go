package diff

import (
	"encoding/json"
	"fmt"
	"io"

	"archsync/internal/model"
	"archsync/internal/rules"
)

// reportPayload is the JSON shape of a full diff report with violations.
type reportPayload struct {
	Diff       *Report           `json:"diff"`
	Violations []rules.Violation `json:"violations"`
}

// WriteJSON writes the diff report and violations as indented JSON.
func WriteJSON(w io.Writer, r *Report, violations []rules.Violation) error {
	if violations == nil {
		violations = []rules.Violation{}
	}
	data, err := json.MarshalIndent(reportPayload{Diff: r, Violations: violations}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling diff report: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing diff report: %w", err)
	}
	return nil
}

// WriteMarkdown writes a human-readable diff report.
func WriteMarkdown(w io.Writer, r *Report, violations []rules.Violation) error {
	p := func(format string, args ...any) {
		fmt.Fprintf(w, format, args...)
	}

	p("# Architecture diff\n\n")
	p("Base: `%s`\nHead: `%s`\n\n", r.BaseHash, r.HeadHash)

	if r.Empty() {
		p("No structural changes.\n")
	}

	writeNodeSection(p, "Added modules", r.AddedModules)
	writeNodeSection(p, "Removed modules", r.RemovedModules)
	writeChangedSection(p, "Changed modules", r.ChangedModules)
	writePortSection(p, "Added ports", r.AddedPorts)
	writePortSection(p, "Removed ports", r.RemovedPorts)
	writeChangedSection(p, "Changed ports", r.ChangedPorts)
	writeEdgeSection(p, "Added edges", r.AddedEdges)
	writeEdgeSection(p, "Removed edges", r.RemovedEdges)
	writeChangedSection(p, "Changed edges", r.ChangedEdges)

	if len(r.APISurfaceChanges) > 0 {
		p("## API surface changes\n\n")
		for _, c := range r.APISurfaceChanges {
			if c.Detail != "" {
				p("- %s: `%s` (%s)\n", c.Kind, c.Name, c.Detail)
			} else {
				p("- %s: `%s`\n", c.Kind, c.Name)
			}
		}
		p("\n")
	}

	if len(violations) > 0 {
		p("## Violations\n\n")
		for _, v := range violations {
			p("- **%s** [%s] %s\n", v.Rule, v.Severity, v.Message)
		}
		p("\n")
	}

	return nil
}

func writeNodeSection(p func(string, ...any), title string, nodes []model.Node) {
	if len(nodes) == 0 {
		return
	}
	p("## %s\n\n", title)
	for _, n := range nodes {
		if n.Path != "" {
			p("- `%s` (%s, layer %s)\n", n.Path, n.Kind, n.Layer)
		} else {
			p("- `%s` (%s)\n", n.Name, n.Kind)
		}
	}
	p("\n")
}

func writePortSection(p func(string, ...any), title string, ports []model.Port) {
	if len(ports) == 0 {
		return
	}
	p("## %s\n\n", title)
	for _, port := range ports {
		p("- `%s` %s/%s\n", port.Name, port.Protocol, port.Direction)
	}
	p("\n")
}

func writeChangedSection(p func(string, ...any), title string, changes []Changed) {
	if len(changes) == 0 {
		return
	}
	p("## %s\n\n", title)
	for _, c := range changes {
		p("- `%s`:", c.Name)
		for _, f := range c.Fields {
			p(" %s %s -> %s;", f.Field, f.Before, f.After)
		}
		p("\n")
	}
	p("\n")
}

func writeEdgeSection(p func(string, ...any), title string, edges []model.Edge) {
	if len(edges) == 0 {
		return
	}
	p("## %s\n\n", title)
	for _, e := range edges {
		p("- `%s -> %s` (%s, count %d)\n", e.SrcID, e.DstID, e.Kind, e.Count)
	}
	p("\n")
}

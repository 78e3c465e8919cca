// Package rules evaluates structural constraints against an architecture
// model: layer ordering, forbidden dependencies and dependency cycles.
// Violations are data, never errors; evaluation always completes.
package rules

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"archsync/internal/config"
	"archsync/internal/model"
)

// Severity levels, lowest to highest.
const (
	SeverityNone     = "none"
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

var severityRank = map[string]int{
	SeverityNone:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank returns the numeric rank of a severity, 0 for unknown values.
func Rank(severity string) int {
	return severityRank[strings.ToLower(severity)]
}

// Rule names.
const (
	RuleLayerOrder = "layer_order"
	RuleForbidden  = "forbidden_dependency"
	RuleCycle      = "cycle"
)

// Violation is one detected constraint breach.
type Violation struct {
	Rule        string   `json:"rule"`
	Severity    string   `json:"severity"`
	Message     string   `json:"message"`
	NodeIDs     []string `json:"node_ids,omitempty"`
	EdgeIDs     []string `json:"edge_ids,omitempty"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
}

// Evaluate runs all configured rules against the model's group-level edges.
// An empty constraint set yields an empty violation list.
func Evaluate(m *model.Model, cfg *config.Config) []Violation {
	var violations []Violation
	violations = append(violations, evalLayerOrder(m, cfg)...)
	violations = append(violations, evalForbidden(m, cfg)...)
	violations = append(violations, evalCycles(m, cfg)...)

	sort.Slice(violations, func(i, j int) bool {
		a, b := violations[i], violations[j]
		if a.Rule != b.Rule {
			return a.Rule < b.Rule
		}
		return a.Message < b.Message
	})
	return violations
}

// MaxSeverity returns the highest severity among the violations.
func MaxSeverity(violations []Violation) string {
	max := SeverityNone
	for _, v := range violations {
		if Rank(v.Severity) > Rank(max) {
			max = v.Severity
		}
	}
	return max
}

// Gate reports whether the violations breach the fail-on threshold. A
// threshold of "" or "none" never gates.
func Gate(violations []Violation, failOn string) bool {
	threshold := Rank(failOn)
	if threshold == 0 {
		return false
	}
	return Rank(MaxSeverity(violations)) >= threshold
}

// evalLayerOrder flags edges that point from a later layer to an earlier one
// in the declared order. Layers absent from the order are unconstrained.
func evalLayerOrder(m *model.Model, cfg *config.Config) []Violation {
	order := cfg.Constraints.LayerOrder
	if len(order) == 0 {
		return nil
	}
	rank := make(map[string]int, len(order))
	for i, name := range order {
		rank[name] = i
	}
	severity := cfg.Constraints.LayerOrderSeverity
	if severity == "" {
		severity = SeverityMedium
	}
	if Rank(severity) == 0 {
		return nil
	}

	var violations []Violation
	for _, e := range m.Edges {
		src, okSrc := m.NodeByID(e.SrcID)
		dst, okDst := m.NodeByID(e.DstID)
		if !okSrc || !okDst {
			continue
		}
		srcRank, okSrc := rank[src.Layer]
		dstRank, okDst := rank[dst.Layer]
		if !okSrc || !okDst {
			continue
		}
		if srcRank > dstRank {
			violations = append(violations, Violation{
				Rule:     RuleLayerOrder,
				Severity: severity,
				Message: fmt.Sprintf("layer %s (%s) depends upward on layer %s (%s)",
					src.Layer, src.Name, dst.Layer, dst.Name),
				NodeIDs:     []string{e.SrcID, e.DstID},
				EdgeIDs:     []string{e.ID},
				EvidenceIDs: e.EvidenceIDs,
			})
		}
	}
	return violations
}

// evalForbidden flags edges whose endpoints match a forbidden from/to pair.
// Patterns are globs matched against node name, layer and path.
func evalForbidden(m *model.Model, cfg *config.Config) []Violation {
	if len(cfg.Constraints.ForbiddenDependencies) == 0 {
		return nil
	}
	var violations []Violation
	for _, fd := range cfg.Constraints.ForbiddenDependencies {
		severity := fd.Severity
		if severity == "" {
			severity = SeverityHigh
		}
		if Rank(severity) == 0 {
			continue
		}
		for _, e := range m.Edges {
			src, okSrc := m.NodeByID(e.SrcID)
			dst, okDst := m.NodeByID(e.DstID)
			if !okSrc || !okDst {
				continue
			}
			if nodeMatches(src, fd.From) && nodeMatches(dst, fd.To) {
				violations = append(violations, Violation{
					Rule:     RuleForbidden,
					Severity: severity,
					Message: fmt.Sprintf("forbidden dependency %s -> %s (rule %s -> %s)",
						src.Name, dst.Name, fd.From, fd.To),
					NodeIDs:     []string{e.SrcID, e.DstID},
					EdgeIDs:     []string{e.ID},
					EvidenceIDs: e.EvidenceIDs,
				})
			}
		}
	}
	return violations
}

func nodeMatches(n model.Node, pattern string) bool {
	for _, candidate := range []string{n.Name, n.Layer, n.Path} {
		if candidate == "" {
			continue
		}
		if ok, err := path.Match(pattern, candidate); err == nil && ok {
			return true
		}
	}
	return false
}

// evalCycles runs Tarjan SCC over the group-level edges and reports each
// component of size > 1 exactly once, members ordered lowest id first.
func evalCycles(m *model.Model, cfg *config.Config) []Violation {
	severity := cfg.Constraints.CycleSeverity
	if Rank(severity) == 0 {
		return nil
	}

	graph := make(map[string][]string)
	for _, e := range m.Edges {
		graph[e.SrcID] = append(graph[e.SrcID], e.DstID)
		if _, ok := graph[e.DstID]; !ok {
			graph[e.DstID] = nil
		}
	}

	var violations []Violation
	for _, scc := range tarjanSCC(graph) {
		if len(scc) <= 1 {
			continue
		}
		sort.Strings(scc)
		inSCC := make(map[string]bool, len(scc))
		for _, id := range scc {
			inSCC[id] = true
		}

		var names, edgeIDs, evidenceIDs []string
		for _, id := range scc {
			if n, ok := m.NodeByID(id); ok {
				names = append(names, n.Name)
			} else {
				names = append(names, id)
			}
		}
		for _, e := range m.Edges {
			if inSCC[e.SrcID] && inSCC[e.DstID] {
				edgeIDs = append(edgeIDs, e.ID)
				evidenceIDs = append(evidenceIDs, e.EvidenceIDs...)
			}
		}
		sort.Strings(edgeIDs)
		sort.Strings(evidenceIDs)

		violations = append(violations, Violation{
			Rule:     RuleCycle,
			Severity: severity,
			Message: fmt.Sprintf("dependency cycle among %d modules: %s",
				len(scc), strings.Join(names, " -> ")),
			NodeIDs:     scc,
			EdgeIDs:     edgeIDs,
			EvidenceIDs: dedupeStrings(evidenceIDs),
		})
	}
	return violations
}

// tarjanSCC computes strongly connected components. Roots are visited in
// sorted id order, so the component list is deterministic.
func tarjanSCC(graph map[string][]string) [][]string {
	var (
		index    int
		stack    []string
		onStack  = make(map[string]bool)
		indices  = make(map[string]int)
		lowlinks = make(map[string]int)
		sccs     [][]string
	)

	var strongConnect func(v string)
	strongConnect = func(v string) {
		indices[v] = index
		lowlinks[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range graph[v] {
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				if lowlinks[w] < lowlinks[v] {
					lowlinks[v] = lowlinks[w]
				}
			} else if onStack[w] {
				if indices[w] < lowlinks[v] {
					lowlinks[v] = indices[w]
				}
			}
		}

		if lowlinks[v] == indices[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sccs = append(sccs, scc)
		}
	}

	roots := make([]string, 0, len(graph))
	for v := range graph {
		roots = append(roots, v)
	}
	sort.Strings(roots)
	for _, v := range roots {
		if _, visited := indices[v]; !visited {
			strongConnect(v)
		}
	}
	return sccs
}

func dedupeStrings(sorted []string) []string {
	out := sorted[:0]
	var prev string
	for i, s := range sorted {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}

// Package pyextractor extracts facts from Python source files using
// line-based regex parsing.
package pyextractor

import (
	"bufio"
	"bytes"
	"context"
	"regexp"
	"strings"

	"archsync/internal/extractors"
	"archsync/internal/facts"
)

const parserName = "python-lines"

var (
	importRe     = regexp.MustCompile(`^import\s+([\w.]+(?:\s*,\s*[\w.]+)*)`)
	fromImportRe = regexp.MustCompile(`^from\s+(\.*)([\w.]*)\s+import\s+`)
	defRe        = regexp.MustCompile(`^(\s*)(?:async\s+)?def\s+(\w+)\s*\(`)
	classRe      = regexp.MustCompile(`^class\s+(\w+)\s*[(:]`)
	routeRe      = regexp.MustCompile(`^\s*@(?:\w+)\.(?:route|get|post|put|delete|patch)\(\s*["']([^"']+)["']`)
)

// PyExtractor parses single Python files.
type PyExtractor struct{}

// New creates a new PyExtractor.
func New() *PyExtractor {
	return &PyExtractor{}
}

func (e *PyExtractor) Name() string { return "python" }

func (e *PyExtractor) Language() string { return "python" }

// Match reports whether the file is a Python source file.
func (e *PyExtractor) Match(relPath string) bool {
	return strings.HasSuffix(relPath, ".py")
}

// ExtractFile scans one Python file line by line. Regex parsing never fails,
// so the only error is context cancellation.
func (e *PyExtractor) ExtractFile(ctx context.Context, res *extractors.Resolver, relPath string, src []byte) (*facts.FileFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ff := &facts.FileFacts{Module: extractors.NewFileModule(relPath, e.Language())}
	moduleID := ff.Module.ID

	var currentClass string
	var pendingRoute string
	var pendingRouteLine int

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()

		if m := importRe.FindStringSubmatch(text); m != nil {
			for _, dotted := range strings.Split(m[1], ",") {
				e.addImportEdge(ff, res, relPath, strings.TrimSpace(dotted), 0, line, text)
			}
			continue
		}
		if m := fromImportRe.FindStringSubmatch(text); m != nil {
			e.addImportEdge(ff, res, relPath, m[2], len(m[1]), line, text)
			continue
		}

		if m := routeRe.FindStringSubmatch(text); m != nil {
			pendingRoute = m[1]
			pendingRouteLine = line
			continue
		}

		if m := classRe.FindStringSubmatch(text); m != nil {
			currentClass = m[1]
			ff.Symbols = append(ff.Symbols, facts.SymbolFact{
				ID:         facts.StableID("symbol", moduleID, m[1], "class"),
				ModuleID:   moduleID,
				Name:       m[1],
				Kind:       "class",
				Visibility: pyVisibility(m[1]),
				Line:       line,
			})
			continue
		}

		if m := defRe.FindStringSubmatch(text); m != nil {
			indent, name := m[1], m[2]
			kind := "function"
			symbolName := name
			if indent != "" {
				if currentClass == "" {
					continue // nested function, not part of the surface
				}
				kind = "method"
				symbolName = currentClass + "." + name
			} else {
				currentClass = ""
			}
			ff.Symbols = append(ff.Symbols, facts.SymbolFact{
				ID:         facts.StableID("symbol", moduleID, symbolName, kind),
				ModuleID:   moduleID,
				Name:       symbolName,
				Kind:       kind,
				Visibility: pyVisibility(name),
				Line:       line,
			})

			if pendingRoute != "" {
				ev := extractors.NewEvidence(parserName, relPath, pendingRouteLine, line, pendingRoute)
				ff.Evidences = append(ff.Evidences, ev)
				ff.Interfaces = append(ff.Interfaces, facts.InterfaceFact{
					ID:         facts.StableID("interface", moduleID, pendingRoute, "HTTP", facts.DirectionIn),
					ModuleID:   moduleID,
					Name:       pendingRoute,
					Protocol:   "HTTP",
					Direction:  facts.DirectionIn,
					Details:    symbolName,
					EvidenceID: ev.ID,
				})
				pendingRoute = ""
			}
			continue
		}

		if text != "" && !strings.HasPrefix(text, " ") && !strings.HasPrefix(text, "\t") {
			currentClass = ""
		}
	}

	return ff, nil
}

func (e *PyExtractor) addImportEdge(ff *facts.FileFacts, res *extractors.Resolver, relPath, dotted string, relDots, line int, text string) {
	target, ok := res.ResolvePythonImport(relPath, dotted, relDots)
	if !ok || target == relPath {
		return
	}
	ev := extractors.NewEvidence(parserName, relPath, line, line, strings.TrimSpace(text))
	ff.Evidences = append(ff.Evidences, ev)
	dstID := facts.ModuleID(target)
	label := strings.Repeat(".", relDots) + dotted
	ff.Edges = append(ff.Edges, facts.EdgeFact{
		ID:          facts.StableID("edge", ff.Module.ID, dstID, facts.EdgeKindDependency, label),
		SrcModuleID: ff.Module.ID,
		DstModuleID: dstID,
		Kind:        facts.EdgeKindDependency,
		Label:       label,
		EvidenceID:  ev.ID,
	})
}

func pyVisibility(name string) string {
	if strings.HasPrefix(name, "_") {
		return "private"
	}
	return "public"
}

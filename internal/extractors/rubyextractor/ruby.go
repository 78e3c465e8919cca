// Package rubyextractor extracts facts from Ruby source files using
// line-based regex parsing. require_relative is resolved against the
// file set; plain require targets gems and is skipped.
package rubyextractor

import (
	"bufio"
	"bytes"
	"context"
	"path"
	"regexp"
	"strings"

	"archsync/internal/extractors"
	"archsync/internal/facts"
)

const parserName = "ruby-lines"

var (
	requireRelRe = regexp.MustCompile(`^\s*require_relative\s+["']([^"']+)["']`)
	moduleRe     = regexp.MustCompile(`^\s*module\s+([\w:]+)`)
	classRe      = regexp.MustCompile(`^\s*class\s+([\w:]+)(?:\s*<\s*[\w:]+)?`)
	defRe        = regexp.MustCompile(`^\s*def\s+(self\.)?([\w?!=]+)`)
	privateRe    = regexp.MustCompile(`^\s*private\s*$`)
	routeRe      = regexp.MustCompile(`^\s*(get|post|put|delete|patch)\s+["']([^"']+)["']`)
)

// RubyExtractor parses single Ruby files.
type RubyExtractor struct{}

// New creates a new RubyExtractor.
func New() *RubyExtractor {
	return &RubyExtractor{}
}

func (e *RubyExtractor) Name() string { return "ruby" }

func (e *RubyExtractor) Language() string { return "ruby" }

// Match reports whether the file is a Ruby source file.
func (e *RubyExtractor) Match(relPath string) bool {
	return strings.HasSuffix(relPath, ".rb")
}

// ExtractFile scans one Ruby file line by line. Visibility flips to
// private after a bare "private" and stays private until the enclosing
// class or module ends, which line-based parsing approximates by the
// next class or module keyword.
func (e *RubyExtractor) ExtractFile(ctx context.Context, res *extractors.Resolver, relPath string, src []byte) (*facts.FileFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ff := &facts.FileFacts{Module: extractors.NewFileModule(relPath, e.Language())}
	moduleID := ff.Module.ID

	isRoutesFile := strings.HasSuffix(relPath, "config/routes.rb")

	var currentClass string
	inPrivate := false

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()

		if m := requireRelRe.FindStringSubmatch(text); m != nil {
			e.addRequireEdge(ff, res, relPath, m[1], line, text)
			continue
		}

		if isRoutesFile {
			if m := routeRe.FindStringSubmatch(text); m != nil {
				routePath := m[2]
				ev := extractors.NewEvidence(parserName, relPath, line, line, strings.TrimSpace(text))
				ff.Evidences = append(ff.Evidences, ev)
				ff.Interfaces = append(ff.Interfaces, facts.InterfaceFact{
					ID:         facts.StableID("interface", moduleID, routePath, "HTTP", facts.DirectionIn),
					ModuleID:   moduleID,
					Name:       routePath,
					Protocol:   "HTTP",
					Direction:  facts.DirectionIn,
					Details:    strings.ToUpper(m[1]),
					EvidenceID: ev.ID,
				})
				continue
			}
		}

		if m := moduleRe.FindStringSubmatch(text); m != nil {
			currentClass = m[1]
			inPrivate = false
			ff.Symbols = append(ff.Symbols, facts.SymbolFact{
				ID:         facts.StableID("symbol", moduleID, m[1], "module"),
				ModuleID:   moduleID,
				Name:       m[1],
				Kind:       "module",
				Visibility: "public",
				Line:       line,
			})
			continue
		}

		if m := classRe.FindStringSubmatch(text); m != nil {
			currentClass = m[1]
			inPrivate = false
			ff.Symbols = append(ff.Symbols, facts.SymbolFact{
				ID:         facts.StableID("symbol", moduleID, m[1], "class"),
				ModuleID:   moduleID,
				Name:       m[1],
				Kind:       "class",
				Visibility: "public",
				Line:       line,
			})
			continue
		}

		if privateRe.MatchString(text) {
			inPrivate = true
			continue
		}

		if m := defRe.FindStringSubmatch(text); m != nil {
			name := m[2]
			kind := "method"
			symbolName := name
			if currentClass != "" {
				symbolName = currentClass + "#" + name
			}
			if m[1] != "" {
				kind = "class_method"
				if currentClass != "" {
					symbolName = currentClass + "." + name
				}
			}
			visibility := "public"
			if inPrivate {
				visibility = "private"
			}
			ff.Symbols = append(ff.Symbols, facts.SymbolFact{
				ID:         facts.StableID("symbol", moduleID, symbolName, kind),
				ModuleID:   moduleID,
				Name:       symbolName,
				Kind:       kind,
				Visibility: visibility,
				Line:       line,
			})
		}
	}

	return ff, nil
}

// addRequireEdge resolves a require_relative spec against the file set.
func (e *RubyExtractor) addRequireEdge(ff *facts.FileFacts, res *extractors.Resolver, relPath, spec string, line int, text string) {
	target := path.Clean(path.Join(path.Dir(relPath), spec))
	if !strings.HasSuffix(target, ".rb") {
		target += ".rb"
	}
	if !res.Has(target) || target == relPath {
		return
	}

	ev := extractors.NewEvidence(parserName, relPath, line, line, strings.TrimSpace(text))
	ff.Evidences = append(ff.Evidences, ev)
	dstID := facts.ModuleID(target)
	ff.Edges = append(ff.Edges, facts.EdgeFact{
		ID:          facts.StableID("edge", ff.Module.ID, dstID, facts.EdgeKindDependency, spec),
		SrcModuleID: ff.Module.ID,
		DstModuleID: dstID,
		Kind:        facts.EdgeKindDependency,
		Label:       spec,
		EvidenceID:  ev.ID,
	})
}

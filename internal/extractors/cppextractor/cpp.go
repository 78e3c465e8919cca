// Package cppextractor extracts facts from C and C++ source files using
// line-based regex parsing. Includes resolve against the scoped file set;
// system includes produce no edges.
package cppextractor

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

const parserName = "cpp-lines"

var (
	includeRe = regexp.MustCompile(`^\s*#\s*include\s+"([^"]+)"`)
	classRe   = regexp.MustCompile(`^\s*(?:class|struct)\s+(\w+)`)
	funcRe    = regexp.MustCompile(`^[\w:<>~&*\s]+?\b([\w:~]+)\s*\([^;]*\)\s*(?:const\s*)?\{?\s*$`)
)

var cppExts = map[string]bool{
	".c": true, ".cc": true, ".cpp": true, ".cxx": true,
	".h": true, ".hh": true, ".hpp": true,
}

// CppExtractor parses single C/C++ files.
type CppExtractor struct{}

// New creates a new CppExtractor.
func New() *CppExtractor {
	return &CppExtractor{}
}

func (e *CppExtractor) Name() string { return "cpp" }

func (e *CppExtractor) Language() string { return "cpp" }

// Match reports whether the file is a C/C++ source or header file.
func (e *CppExtractor) Match(relPath string) bool {
	return cppExts[strings.ToLower(path.Ext(relPath))]
}

// ExtractFile scans one C/C++ file line by line.
func (e *CppExtractor) ExtractFile(ctx context.Context, res *extractors.Resolver, relPath string, src []byte) (*facts.FileFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ff := &facts.FileFacts{Module: extractors.NewFileModule(relPath, e.Language())}
	moduleID := ff.Module.ID

	scanner := bufio.NewScanner(bytes.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()

		if m := includeRe.FindStringSubmatch(text); m != nil {
			target, ok := res.ResolveInclude(relPath, m[1])
			if !ok || target == relPath {
				continue
			}
			ev := extractors.NewEvidence(parserName, relPath, line, line, strings.TrimSpace(text))
			ff.Evidences = append(ff.Evidences, ev)
			dstID := facts.ModuleID(target)
			ff.Edges = append(ff.Edges, facts.EdgeFact{
				ID:          facts.StableID("edge", moduleID, dstID, facts.EdgeKindDependency, m[1]),
				SrcModuleID: moduleID,
				DstModuleID: dstID,
				Kind:        facts.EdgeKindDependency,
				Label:       m[1],
				EvidenceID:  ev.ID,
			})
			continue
		}

		if m := classRe.FindStringSubmatch(text); m != nil {
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

		if m := funcRe.FindStringSubmatch(text); m != nil {
			name := m[1]
			if isKeyword(name) {
				continue
			}
			ff.Symbols = append(ff.Symbols, facts.SymbolFact{
				ID:         facts.StableID("symbol", moduleID, name, "function"),
				ModuleID:   moduleID,
				Name:       name,
				Kind:       "function",
				Visibility: "public",
				Line:       line,
			})
		}
	}

	return ff, nil
}

// isKeyword filters control-flow statements the loose function regex can
// mistake for declarations.
func isKeyword(name string) bool {
	switch name {
	case "if", "else", "for", "while", "switch", "return", "sizeof", "catch", "do":
		return true
	}
	return false
}

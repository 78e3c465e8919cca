// Package tsextractor extracts facts from TypeScript/TSX source files using
// tree-sitter.
package tsextractor

import (
	"context"
	"path"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"archsync/internal/extractors"
	"archsync/internal/facts"
)

const parserName = "tree-sitter-typescript"

// TSExtractor parses single TypeScript/TSX files.
type TSExtractor struct{}

// New creates a new TSExtractor.
func New() *TSExtractor {
	return &TSExtractor{}
}

func (e *TSExtractor) Name() string { return "typescript" }

func (e *TSExtractor) Language() string { return "typescript" }

// Match reports whether the file is a TypeScript or TSX source file.
func (e *TSExtractor) Match(relPath string) bool {
	ext := strings.ToLower(path.Ext(relPath))
	return ext == ".ts" || ext == ".tsx"
}

// ExtractFile parses one TypeScript file into facts. tree-sitter always
// produces a tree, so parse problems degrade to fewer facts, not an error.
func (e *TSExtractor) ExtractFile(ctx context.Context, res *extractors.Resolver, relPath string, src []byte) (*facts.FileFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lang := typescript.LanguageTypescript()
	if strings.HasSuffix(relPath, ".tsx") {
		lang = typescript.LanguageTSX()
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(sitter.NewLanguage(lang))

	tree := parser.Parse(src, nil)
	defer tree.Close()
	root := tree.RootNode()

	ff := &facts.FileFacts{Module: extractors.NewFileModule(relPath, e.Language())}

	e.extractImports(root, src, res, relPath, ff)
	for i := range root.ChildCount() {
		e.extractNode(root.Child(i), src, ff, false)
	}
	e.extractFileRoute(relPath, ff)

	return ff, nil
}

func (e *TSExtractor) extractImports(root *sitter.Node, src []byte, res *extractors.Resolver, relPath string, ff *facts.FileFacts) {
	moduleID := ff.Module.ID
	for i := range root.ChildCount() {
		child := root.Child(i)
		if child.Kind() != "import_statement" && child.Kind() != "export_statement" {
			continue
		}
		source := findChildByKind(child, "string")
		if source == nil {
			continue
		}
		spec := strings.Trim(nodeText(source, src), `"'`)
		if !strings.HasPrefix(spec, ".") {
			// Bare specifiers are external packages; edges only cover
			// modules inside the snapshot.
			continue
		}
		target, ok := res.ResolveRelativeImport(relPath, spec)
		if !ok || target == relPath {
			continue
		}
		line := int(child.StartPosition().Row) + 1
		ev := extractors.NewEvidence(parserName, relPath, line, line, spec)
		ff.Evidences = append(ff.Evidences, ev)
		dstID := facts.ModuleID(target)
		ff.Edges = append(ff.Edges, facts.EdgeFact{
			ID:          facts.StableID("edge", moduleID, dstID, facts.EdgeKindDependency, spec),
			SrcModuleID: moduleID,
			DstModuleID: dstID,
			Kind:        facts.EdgeKindDependency,
			Label:       spec,
			EvidenceID:  ev.ID,
		})
	}
}

func (e *TSExtractor) extractNode(node *sitter.Node, src []byte, ff *facts.FileFacts, exported bool) {
	switch node.Kind() {
	case "export_statement":
		for _, kind := range []string{
			"function_declaration",
			"class_declaration",
			"interface_declaration",
			"type_alias_declaration",
			"lexical_declaration",
		} {
			if decl := findChildByKind(node, kind); decl != nil {
				e.extractNode(decl, src, ff, true)
				return
			}
		}

	case "function_declaration":
		if name := findChildByKind(node, "identifier"); name != nil {
			e.addSymbol(ff, nodeText(name, src), "function", exported, node)
		}

	case "class_declaration":
		if name := findChildByKind(node, "type_identifier"); name != nil {
			className := nodeText(name, src)
			e.addSymbol(ff, className, "class", exported, node)
			e.extractMethods(node, src, ff, className, exported)
		}

	case "interface_declaration":
		if name := findChildByKind(node, "type_identifier"); name != nil {
			e.addSymbol(ff, nodeText(name, src), "interface", exported, node)
		}

	case "type_alias_declaration":
		if name := findChildByKind(node, "type_identifier"); name != nil {
			e.addSymbol(ff, nodeText(name, src), "type", exported, node)
		}

	case "lexical_declaration":
		for j := range node.ChildCount() {
			decl := node.Child(j)
			if decl.Kind() != "variable_declarator" {
				continue
			}
			name := findChildByKind(decl, "identifier")
			if name == nil {
				continue
			}
			kind := "variable"
			if findChildByKind(decl, "arrow_function") != nil {
				kind = "function"
			}
			e.addSymbol(ff, nodeText(name, src), kind, exported, node)
		}
	}
}

func (e *TSExtractor) extractMethods(class *sitter.Node, src []byte, ff *facts.FileFacts, className string, exported bool) {
	body := findChildByKind(class, "class_body")
	if body == nil {
		return
	}
	for j := range body.ChildCount() {
		member := body.Child(j)
		if member.Kind() != "method_definition" {
			continue
		}
		name := findChildByKind(member, "property_identifier")
		if name == nil {
			continue
		}
		methodName := nodeText(name, src)
		if strings.HasPrefix(methodName, "#") || methodName == "constructor" {
			continue
		}
		private := false
		for k := range member.ChildCount() {
			c := member.Child(k)
			if c.Kind() == "accessibility_modifier" && nodeText(c, src) == "private" {
				private = true
				break
			}
		}
		e.addSymbol(ff, className+"."+methodName, "method", exported && !private, member)
	}
}

func (e *TSExtractor) addSymbol(ff *facts.FileFacts, name, kind string, exported bool, node *sitter.Node) {
	vis := "private"
	if exported {
		vis = "public"
	}
	ff.Symbols = append(ff.Symbols, facts.SymbolFact{
		ID:         facts.StableID("symbol", ff.Module.ID, name, kind),
		ModuleID:   ff.Module.ID,
		Name:       name,
		Kind:       kind,
		Visibility: vis,
		Line:       int(node.StartPosition().Row) + 1,
	})
}

// routeFiles are Next.js App Router entry file basenames.
var routeFiles = map[string]bool{"page": true, "route": true, "layout": true}

// extractFileRoute emits an inbound HTTP interface fact for files whose path
// shape marks them as framework routes (app/**/page.tsx, pages/**).
func (e *TSExtractor) extractFileRoute(relPath string, ff *facts.FileFacts) {
	parts := strings.Split(relPath, "/")
	base := path.Base(relPath)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".tsx"), ".ts")

	var route string
	for i, p := range parts {
		if p == "app" && i < len(parts)-1 && routeFiles[base] {
			route = "/" + strings.Join(parts[i+1:len(parts)-1], "/")
			break
		}
		if p == "pages" && i < len(parts)-1 && !strings.HasPrefix(base, "_") {
			segs := append([]string{}, parts[i+1:len(parts)-1]...)
			if base != "index" {
				segs = append(segs, base)
			}
			route = "/" + strings.Join(segs, "/")
			break
		}
	}
	if route == "" {
		return
	}

	ev := extractors.NewEvidence(parserName, relPath, 1, 1, route)
	ff.Evidences = append(ff.Evidences, ev)
	ff.Interfaces = append(ff.Interfaces, facts.InterfaceFact{
		ID:         facts.StableID("interface", ff.Module.ID, route, "HTTP", facts.DirectionIn),
		ModuleID:   ff.Module.ID,
		Name:       route,
		Protocol:   "HTTP",
		Direction:  facts.DirectionIn,
		Details:    base,
		EvidenceID: ev.ID,
	})
}

func findChildByKind(node *sitter.Node, kind string) *sitter.Node {
	for i := range node.ChildCount() {
		child := node.Child(i)
		if child.Kind() == kind {
			return child
		}
	}
	return nil
}

func nodeText(node *sitter.Node, src []byte) string {
	return string(src[node.StartByte():node.EndByte()])
}

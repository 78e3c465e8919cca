// Package goextractor extracts facts from Go source files using go/ast.
package goextractor

import (
	"context"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"

	"archsync/internal/extractors"
	"archsync/internal/facts"
)

const parserName = "go-ast"

// GoExtractor parses single Go files and emits module, symbol, edge and
// interface facts.
type GoExtractor struct{}

// New creates a new GoExtractor.
func New() *GoExtractor {
	return &GoExtractor{}
}

func (e *GoExtractor) Name() string { return "go" }

func (e *GoExtractor) Language() string { return "go" }

// Match reports whether the file is a Go source file.
func (e *GoExtractor) Match(relPath string) bool {
	return strings.HasSuffix(relPath, ".go")
}

// ExtractFile parses one Go file. A syntax error is returned to the caller,
// who degrades the file rather than aborting the run.
func (e *GoExtractor) ExtractFile(ctx context.Context, res *extractors.Resolver, relPath string, src []byte) (*facts.FileFacts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, relPath, src, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	ff := &facts.FileFacts{Module: extractors.NewFileModule(relPath, e.Language())}
	moduleID := ff.Module.ID

	for _, imp := range f.Imports {
		importPath := strings.Trim(imp.Path.Value, `"`)
		targets := res.ResolveGoImport(importPath)
		if len(targets) == 0 {
			continue
		}
		line := fset.Position(imp.Pos()).Line
		ev := extractors.NewEvidence(parserName, relPath, line, line, imp.Path.Value)
		ff.Evidences = append(ff.Evidences, ev)
		for _, target := range targets {
			if target == relPath {
				continue
			}
			dstID := facts.ModuleID(target)
			ff.Edges = append(ff.Edges, facts.EdgeFact{
				ID:          facts.StableID("edge", moduleID, dstID, facts.EdgeKindDependency, importPath),
				SrcModuleID: moduleID,
				DstModuleID: dstID,
				Kind:        facts.EdgeKindDependency,
				Label:       importPath,
				EvidenceID:  ev.ID,
			})
		}
	}

	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			ff.Symbols = append(ff.Symbols, e.funcSymbol(fset, d, moduleID, relPath))
		case *ast.GenDecl:
			for _, spec := range d.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					ff.Symbols = append(ff.Symbols, e.typeSymbol(fset, ts, moduleID, relPath))
				}
			}
		}
	}

	e.extractRoutes(fset, f, ff, relPath)

	return ff, nil
}

func (e *GoExtractor) funcSymbol(fset *token.FileSet, fn *ast.FuncDecl, moduleID, relPath string) facts.SymbolFact {
	name := fn.Name.Name
	kind := "function"
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		kind = "method"
		if recv := typeExprToString(fn.Recv.List[0].Type); recv != "" {
			name = recv + "." + name
		}
	}
	return facts.SymbolFact{
		ID:         facts.StableID("symbol", moduleID, name, kind),
		ModuleID:   moduleID,
		Name:       name,
		Kind:       kind,
		Visibility: visibility(fn.Name.IsExported()),
		Line:       fset.Position(fn.Pos()).Line,
	}
}

func (e *GoExtractor) typeSymbol(fset *token.FileSet, ts *ast.TypeSpec, moduleID, relPath string) facts.SymbolFact {
	var kind string
	switch ts.Type.(type) {
	case *ast.StructType:
		kind = "struct"
	case *ast.InterfaceType:
		kind = "interface"
	default:
		kind = "type"
	}
	return facts.SymbolFact{
		ID:         facts.StableID("symbol", moduleID, ts.Name.Name, kind),
		ModuleID:   moduleID,
		Name:       ts.Name.Name,
		Kind:       kind,
		Visibility: visibility(ts.Name.IsExported()),
		Line:       fset.Position(ts.Pos()).Line,
	}
}

// routeMethods are selector names treated as HTTP route registrations when
// called with a string literal path.
var routeMethods = map[string]bool{
	"HandleFunc": true,
	"Handle":     true,
	"GET":        true,
	"POST":       true,
	"PUT":        true,
	"DELETE":     true,
	"PATCH":      true,
	"Get":        true,
	"Post":       true,
	"Put":        true,
	"Delete":     true,
	"Patch":      true,
}

// extractRoutes emits an inbound HTTP interface fact for each route
// registration call found in the file.
func (e *GoExtractor) extractRoutes(fset *token.FileSet, f *ast.File, ff *facts.FileFacts, relPath string) {
	moduleID := ff.Module.ID
	ast.Inspect(f, func(n ast.Node) bool {
		ce, ok := n.(*ast.CallExpr)
		if !ok || len(ce.Args) == 0 {
			return true
		}
		sel, ok := ce.Fun.(*ast.SelectorExpr)
		if !ok || !routeMethods[sel.Sel.Name] {
			return true
		}
		lit, ok := ce.Args[0].(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			return true
		}
		route := strings.Trim(lit.Value, `"`)
		if !strings.HasPrefix(route, "/") {
			return true
		}
		line := fset.Position(ce.Pos()).Line
		ev := extractors.NewEvidence(parserName, relPath, line, line, sel.Sel.Name+" "+route)
		ff.Evidences = append(ff.Evidences, ev)
		ff.Interfaces = append(ff.Interfaces, facts.InterfaceFact{
			ID:         facts.StableID("interface", moduleID, route, "HTTP", facts.DirectionIn),
			ModuleID:   moduleID,
			Name:       route,
			Protocol:   "HTTP",
			Direction:  facts.DirectionIn,
			Details:    sel.Sel.Name,
			EvidenceID: ev.ID,
		})
		return true
	})
}

func visibility(exported bool) string {
	if exported {
		return "public"
	}
	return "private"
}

// typeExprToString converts a receiver type expression to its base name.
func typeExprToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return typeExprToString(t.X)
	case *ast.IndexExpr:
		return typeExprToString(t.X)
	case *ast.IndexListExpr:
		return typeExprToString(t.X)
	case *ast.SelectorExpr:
		if x, ok := t.X.(*ast.Ident); ok {
			return x.Name + "." + t.Sel.Name
		}
	}
	return ""
}

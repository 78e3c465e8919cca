// Package extractors defines the per-file fact extractors and the resolver
// they use to turn import text into module references. Extraction is
// deterministic: the same file bytes and resolver state always produce the
// same facts.
package extractors

import (
	"context"
	"path"
	"sort"
	"strconv"
	"strings"

	"archsync/internal/facts"
)

// Extractor parses a single source file and emits the facts it owns.
type Extractor interface {
	// Name returns the extractor identifier (e.g. "go", "typescript").
	Name() string
	// Language returns the language tag stamped on module facts.
	Language() string
	// Match reports whether this extractor handles the given file path.
	Match(relPath string) bool
	// ExtractFile parses one file. It must not touch the filesystem; all
	// cross-file knowledge comes from the resolver.
	ExtractFile(ctx context.Context, res *Resolver, relPath string, src []byte) (*facts.FileFacts, error)
}

// Registry holds registered extractors in registration order.
type Registry struct {
	extractors []Extractor
}

// NewRegistry creates a new extractor registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds an extractor to the registry.
func (r *Registry) Register(e Extractor) {
	r.extractors = append(r.extractors, e)
}

// ForFile returns the first extractor that matches the path, or nil.
func (r *Registry) ForFile(relPath string) Extractor {
	for _, e := range r.extractors {
		if e.Match(relPath) {
			return e
		}
	}
	return nil
}

// All returns all registered extractors.
func (r *Registry) All() []Extractor {
	return r.extractors
}

// Resolver maps import text to repo-relative paths. The engine builds one
// resolver over the full scoped file set before any extraction starts, so
// per-file workers resolve cross-file references without touching disk.
type Resolver struct {
	goModule string

	paths  map[string]bool
	byDir  map[string][]string
	python map[string]string // dotted module name -> relPath
}

// NewResolver indexes the scoped file set. goModule is the repository's Go
// module path from go.mod, or empty when the repo has none.
func NewResolver(files []string, goModule string) *Resolver {
	r := &Resolver{
		goModule: goModule,
		paths:    make(map[string]bool, len(files)),
		byDir:    make(map[string][]string),
		python:   make(map[string]string),
	}
	for _, f := range files {
		r.paths[f] = true
		dir := path.Dir(f)
		if dir == "." {
			dir = ""
		}
		r.byDir[dir] = append(r.byDir[dir], f)

		if strings.HasSuffix(f, ".py") {
			dotted := strings.TrimSuffix(f, ".py")
			if base := path.Base(dotted); base == "__init__" {
				dotted = path.Dir(dotted)
			}
			r.python[strings.ReplaceAll(dotted, "/", ".")] = f
		}
	}
	for dir := range r.byDir {
		sort.Strings(r.byDir[dir])
	}
	return r
}

// Has reports whether the path is part of the scoped file set.
func (r *Resolver) Has(relPath string) bool {
	return r.paths[relPath]
}

// jsExtensions are probed in order when a JS/TS import omits the extension.
var jsExtensions = []string{".ts", ".tsx", ".js", ".jsx"}

// ResolveRelativeImport resolves a JS/TS style relative import specifier
// against the importing file's directory, probing known extensions and
// index files.
func (r *Resolver) ResolveRelativeImport(fromFile, spec string) (string, bool) {
	base := path.Join(path.Dir(fromFile), spec)
	if r.paths[base] {
		return base, true
	}
	for _, ext := range jsExtensions {
		if r.paths[base+ext] {
			return base + ext, true
		}
	}
	for _, ext := range jsExtensions {
		idx := path.Join(base, "index"+ext)
		if r.paths[idx] {
			return idx, true
		}
	}
	return "", false
}

// ResolvePythonImport resolves a Python import. relDots is the number of
// leading dots for relative imports (0 for absolute).
func (r *Resolver) ResolvePythonImport(fromFile, dotted string, relDots int) (string, bool) {
	if relDots > 0 {
		dir := path.Dir(fromFile)
		for i := 1; i < relDots; i++ {
			dir = path.Dir(dir)
		}
		prefix := strings.ReplaceAll(dir, "/", ".")
		if dir == "." {
			prefix = ""
		}
		if prefix != "" && dotted != "" {
			dotted = prefix + "." + dotted
		} else if prefix != "" {
			dotted = prefix
		}
	}
	// Try the full dotted path, then progressively shorter prefixes so
	// "from pkg.mod import name" resolves when name is a symbol, not a module.
	for dotted != "" {
		if p, ok := r.python[dotted]; ok {
			return p, true
		}
		cut := strings.LastIndex(dotted, ".")
		if cut < 0 {
			break
		}
		dotted = dotted[:cut]
	}
	return "", false
}

// ResolveInclude resolves a C/C++ include: first relative to the including
// file, then by unique path suffix anywhere in the scoped set.
func (r *Resolver) ResolveInclude(fromFile, header string) (string, bool) {
	local := path.Join(path.Dir(fromFile), header)
	if r.paths[local] {
		return local, true
	}
	var matches []string
	for p := range r.paths {
		if p == header || strings.HasSuffix(p, "/"+header) {
			matches = append(matches, p)
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

// ResolveGoImport resolves an intra-repo Go import path to the Go files of
// the imported package. Imports outside the repo module resolve to nothing.
func (r *Resolver) ResolveGoImport(importPath string) []string {
	if r.goModule == "" {
		return nil
	}
	var dir string
	switch {
	case importPath == r.goModule:
		dir = ""
	case strings.HasPrefix(importPath, r.goModule+"/"):
		dir = strings.TrimPrefix(importPath, r.goModule+"/")
	default:
		return nil
	}
	var goFiles []string
	for _, f := range r.byDir[dir] {
		if strings.HasSuffix(f, ".go") {
			goFiles = append(goFiles, f)
		}
	}
	return goFiles
}

// NewFileModule builds the module fact for a source file.
func NewFileModule(relPath, language string) facts.ModuleFact {
	return facts.ModuleFact{
		ID:       facts.ModuleID(relPath),
		Name:     path.Base(relPath),
		Path:     relPath,
		Language: language,
		Kind:     facts.ModuleKindFile,
	}
}

// NewEvidence builds an evidence record over a line span of a file. The id is
// derived from the location so re-extraction of unchanged text reproduces it.
func NewEvidence(parser, file string, lineStart, lineEnd int, span string) facts.Evidence {
	if lineEnd < lineStart {
		lineEnd = lineStart
	}
	return facts.Evidence{
		ID:        facts.StableID("evidence", file, parser, strconv.Itoa(lineStart), strconv.Itoa(lineEnd)),
		File:      file,
		LineStart: lineStart,
		LineEnd:   lineEnd,
		Parser:    parser,
		Hash:      facts.StableID("span", span),
	}
}

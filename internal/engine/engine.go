// Package engine orchestrates fact extraction: repository walk, fingerprint
// filtering, parallel per-file extraction and the deterministic merge into an
// immutable snapshot.
package engine

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"archsync/internal/config"
	"archsync/internal/extractors"
	"archsync/internal/extractors/cppextractor"
	"archsync/internal/extractors/goextractor"
	"archsync/internal/extractors/pyextractor"
	"archsync/internal/extractors/rubyextractor"
	"archsync/internal/extractors/tsextractor"
	"archsync/internal/facts"
)

// Engine runs the extraction pipeline for one repository.
type Engine struct {
	cfg      *config.Config
	registry *extractors.Registry
	log      *zap.Logger
}

// New creates an Engine with an empty extractor registry.
func New(cfg *config.Config, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:      cfg,
		registry: extractors.NewRegistry(),
		log:      logger,
	}
}

// NewDefault creates an Engine with all built-in extractors registered.
func NewDefault(cfg *config.Config, logger *zap.Logger) *Engine {
	e := New(cfg, logger)
	e.RegisterExtractor(goextractor.New())
	e.RegisterExtractor(tsextractor.New())
	e.RegisterExtractor(pyextractor.New())
	e.RegisterExtractor(cppextractor.New())
	e.RegisterExtractor(rubyextractor.New())
	return e
}

// RegisterExtractor adds an extractor to the engine.
func (e *Engine) RegisterExtractor(ext extractors.Extractor) {
	e.registry.Register(ext)
}

// fileResult holds the outcome of extracting one file. Results are collected
// by file position and merged in sorted path order, so worker scheduling
// never leaks into the output.
type fileResult struct {
	facts       *facts.FileFacts
	fingerprint facts.Fingerprint
	reused      bool
	degraded    bool
}

// Extract walks the repository and produces a complete snapshot. When prev is
// non-nil, files whose fingerprints are unchanged reuse their prior facts
// verbatim instead of being re-parsed.
func (e *Engine) Extract(ctx context.Context, repoRoot, commitID string, prev *facts.Snapshot) (*facts.Snapshot, error) {
	start := time.Now()

	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving repo root: %w", err)
	}

	files, err := e.walk(absRoot)
	if err != nil {
		return nil, fmt.Errorf("walking %s: %w", absRoot, err)
	}
	e.log.Info("extraction scope resolved",
		zap.String("repo", absRoot),
		zap.Int("files", len(files)))

	resolver := extractors.NewResolver(files, readGoModulePath(absRoot))

	// Reuse is sound only while the scoped file set is unchanged: an added
	// file can resolve an unchanged file's import, and a removed file
	// invalidates edges and evidence the unchanged file still carries. When
	// membership differs every file is re-extracted against the new resolver.
	var (
		prevFP    map[string]facts.Fingerprint
		prevIndex *facts.FileIndex
	)
	if prev != nil {
		if sameScope(files, prev.Fingerprints) {
			prevFP = prev.Fingerprints
			prevIndex = facts.NewFileIndex(prev)
		} else {
			e.log.Info("file set changed, fact reuse disabled for this pass")
		}
	}

	results := make([]fileResult, len(files))
	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(runtime.GOMAXPROCS(0))
	for i, relPath := range files {
		grp.Go(func() error {
			res, err := e.extractOne(gctx, absRoot, relPath, resolver, prevFP, prevIndex)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := grp.Wait(); err != nil {
		return nil, err
	}

	snapshot := facts.NewSnapshot(commitID, absRoot)
	var reusedCount, degradedCount int
	var changedFiles []string
	for i, relPath := range files {
		res := results[i]
		snapshot.Fingerprints[relPath] = res.fingerprint
		if res.reused {
			reusedCount++
		} else {
			changedFiles = append(changedFiles, relPath)
		}
		if res.degraded {
			degradedCount++
		}
		ff := res.facts
		snapshot.Modules = append(snapshot.Modules, ff.Module)
		snapshot.Symbols = append(snapshot.Symbols, ff.Symbols...)
		snapshot.Interfaces = append(snapshot.Interfaces, ff.Interfaces...)
		snapshot.Edges = append(snapshot.Edges, ff.Edges...)
		snapshot.Evidences = append(snapshot.Evidences, ff.Evidences...)
		snapshot.Warnings = append(snapshot.Warnings, ff.Warnings...)
	}

	snapshot.Dedupe()
	snapshot.Metadata["files_total"] = len(files)
	snapshot.Metadata["files_reused"] = reusedCount
	snapshot.Metadata["files_degraded"] = degradedCount
	snapshot.Metadata["changed_files"] = changedFiles
	snapshot.Metadata["duration"] = time.Since(start).String()
	snapshot.ComputeContentHash()

	if err := snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("snapshot validation: %w", err)
	}

	e.log.Info("snapshot extracted",
		zap.String("content_hash", snapshot.ContentHash),
		zap.Int("modules", len(snapshot.Modules)),
		zap.Int("edges", len(snapshot.Edges)),
		zap.Int("reused", reusedCount),
		zap.Int("degraded", degradedCount),
		zap.Duration("took", time.Since(start)))
	return snapshot, nil
}

// extractOne fingerprints one file and either reuses its prior facts or
// parses it. Per-file failures degrade the file; they never abort the run.
// prevFP and prevIndex are nil when reuse is disabled for the pass.
func (e *Engine) extractOne(ctx context.Context, absRoot, relPath string, resolver *extractors.Resolver, prevFP map[string]facts.Fingerprint, prevIndex *facts.FileIndex) (fileResult, error) {
	absPath := filepath.Join(absRoot, relPath)

	info, statErr := os.Stat(absPath)
	if statErr != nil {
		return fileResult{
			facts:    degradedFacts(relPath, fmt.Sprintf("stat failed: %v", statErr)),
			degraded: true,
		}, nil
	}

	// Size and mtime are a cheap filter: when both match the previous
	// fingerprint the stored hash is trusted without re-reading the file.
	if prevIndex != nil {
		if pf, ok := prevFP[relPath]; ok &&
			pf.Size == info.Size() && pf.ModTime == info.ModTime().Unix() {
			if reused := prevIndex.Lookup(relPath); reused != nil {
				return fileResult{facts: reused, fingerprint: pf, reused: true}, nil
			}
		}
	}

	src, readErr := os.ReadFile(absPath)
	if readErr != nil {
		return fileResult{
			facts:    degradedFacts(relPath, fmt.Sprintf("read failed: %v", readErr)),
			degraded: true,
		}, nil
	}

	sum := sha256.Sum256(src)
	fp := facts.Fingerprint{
		Size:    info.Size(),
		ModTime: info.ModTime().Unix(),
		Hash:    hex.EncodeToString(sum[:]),
	}

	// mtime moved but content did not; still an unchanged file.
	if prevIndex != nil {
		if pf, ok := prevFP[relPath]; ok && pf.Hash == fp.Hash {
			if reused := prevIndex.Lookup(relPath); reused != nil {
				return fileResult{facts: reused, fingerprint: fp, reused: true}, nil
			}
		}
	}

	ext := e.registry.ForFile(relPath)
	if ext == nil {
		// Included by scope but no parser for it; record the module so the
		// file still appears in the architecture.
		return fileResult{
			facts:       &facts.FileFacts{Module: extractors.NewFileModule(relPath, "unknown")},
			fingerprint: fp,
		}, nil
	}

	ff, err := ext.ExtractFile(ctx, resolver, relPath, src)
	if err != nil {
		if ctx.Err() != nil {
			return fileResult{}, ctx.Err()
		}
		e.log.Warn("file degraded",
			zap.String("file", relPath),
			zap.String("extractor", ext.Name()),
			zap.Error(err))
		return fileResult{
			facts:       degradedFacts(relPath, fmt.Sprintf("%s: %v", ext.Name(), err)),
			fingerprint: fp,
			degraded:    true,
		}, nil
	}

	e.inferInterfaces(ff, relPath, src)

	return fileResult{facts: ff, fingerprint: fp}, nil
}

// inferInterfaces applies the configured interface patterns line by line and
// attaches a port fact for each first match per rule.
func (e *Engine) inferInterfaces(ff *facts.FileFacts, relPath string, src []byte) {
	if len(e.cfg.Interfaces) == 0 {
		return
	}
	lines := strings.Split(string(src), "\n")
	for i := range e.cfg.Interfaces {
		rule := &e.cfg.Interfaces[i]
		re := rule.Regexp()
		for lineNo, line := range lines {
			if !re.MatchString(line) {
				continue
			}
			ev := extractors.NewEvidence("interface-rules", relPath, lineNo+1, lineNo+1, strings.TrimSpace(line))
			ff.Evidences = append(ff.Evidences, ev)
			name := rule.Protocol + ":" + rule.Direction
			ff.Interfaces = append(ff.Interfaces, facts.InterfaceFact{
				ID:         facts.StableID("interface", ff.Module.ID, name, rule.Protocol, rule.Direction),
				ModuleID:   ff.Module.ID,
				Name:       name,
				Protocol:   rule.Protocol,
				Direction:  rule.Direction,
				Details:    rule.Pattern,
				EvidenceID: ev.ID,
			})
			break
		}
	}
}

// degradedFacts builds the minimal facts for a file that could not be read
// or parsed: a degraded module plus a warning, nothing else.
func degradedFacts(relPath, message string) *facts.FileFacts {
	module := extractors.NewFileModule(relPath, "unknown")
	module.Kind = facts.ModuleKindDegraded
	return &facts.FileFacts{
		Module:   module,
		Warnings: []facts.Warning{{File: relPath, Message: message}},
	}
}

// sameScope reports whether the scoped files are exactly the files the
// previous snapshot fingerprinted.
func sameScope(files []string, prevFP map[string]facts.Fingerprint) bool {
	if len(files) != len(prevFP) {
		return false
	}
	for _, f := range files {
		if _, ok := prevFP[f]; !ok {
			return false
		}
	}
	return true
}

// walk collects scoped files under the repo root in sorted order.
func (e *Engine) walk(absRoot string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(absRoot, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		relPath, err := filepath.Rel(absRoot, p)
		if err != nil {
			return err
		}
		relPath = filepath.ToSlash(relPath)
		if relPath == "." {
			return nil
		}
		if d.IsDir() {
			// Trailing slash lets directory patterns like **/vendor/** prune
			// the whole subtree.
			if config.PathMatches(relPath, e.cfg.Exclude) || config.PathMatches(relPath+"/", e.cfg.Exclude) {
				return filepath.SkipDir
			}
			return nil
		}
		if e.cfg.Included(relPath) {
			files = append(files, relPath)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// readGoModulePath reads the module path from go.mod at the repo root.
func readGoModulePath(absRoot string) string {
	data, err := os.ReadFile(filepath.Join(absRoot, "go.mod"))
	if err != nil {
		return ""
	}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := strings.CutPrefix(line, "module "); ok {
			return strings.TrimSpace(rest)
		}
	}
	return ""
}

// ChangedFiles reports which scoped files changed relative to the previous
// snapshot, plus files that disappeared. Used by the watch service to decide
// whether a recomputation pass is needed.
func (e *Engine) ChangedFiles(absRoot string, prev *facts.Snapshot) ([]string, error) {
	files, err := e.walk(absRoot)
	if err != nil {
		return nil, err
	}
	current := make(map[string]bool, len(files))
	var changed []string
	for _, relPath := range files {
		current[relPath] = true
		info, err := os.Stat(filepath.Join(absRoot, relPath))
		if err != nil {
			changed = append(changed, relPath)
			continue
		}
		pf, ok := prev.Fingerprints[relPath]
		if !ok {
			changed = append(changed, relPath)
			continue
		}
		if pf.Size == info.Size() && pf.ModTime == info.ModTime().Unix() {
			continue
		}
		src, err := os.ReadFile(filepath.Join(absRoot, relPath))
		if err != nil {
			changed = append(changed, relPath)
			continue
		}
		sum := sha256.Sum256(src)
		if hex.EncodeToString(sum[:]) != pf.Hash {
			changed = append(changed, relPath)
		}
	}
	for relPath := range prev.Fingerprints {
		if !current[relPath] {
			changed = append(changed, relPath)
		}
	}
	sort.Strings(changed)
	return changed, nil
}

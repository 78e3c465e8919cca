// Package facts defines the raw, evidence-backed observations extracted from
// source text, and the immutable snapshot that bundles them for one code state.
package facts

import (
	"crypto/sha1"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Evidence points a fact at the exact source location that justifies it.
// Evidence records are immutable and referenced by id, never duplicated.
type Evidence struct {
	ID        string `json:"id"`
	File      string `json:"file"`
	LineStart int    `json:"line_start"`
	LineEnd   int    `json:"line_end"`
	Parser    string `json:"parser"`
	Hash      string `json:"hash,omitempty"` // content hash of the evidenced span
}

// Module fact kinds.
const (
	ModuleKindFile     = "file"
	ModuleKindDegraded = "degraded" // file could not be read or parsed
)

// ModuleFact represents one physical unit of code, keyed by its repo-relative path.
type ModuleFact struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Path     string `json:"path"`
	Language string `json:"language"`
	Kind     string `json:"kind"`
}

// SymbolFact is a declared symbol inside a module.
type SymbolFact struct {
	ID         string `json:"id"`
	ModuleID   string `json:"module_id"`
	Name       string `json:"name"`
	Kind       string `json:"kind"` // function, class, struct, interface, type, variable
	Visibility string `json:"visibility"`
	Line       int    `json:"line"`
}

// Port directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// InterfaceFact is a declared in/out boundary point recognized in a module.
type InterfaceFact struct {
	ID         string `json:"id"`
	ModuleID   string `json:"module_id"`
	Name       string `json:"name"`
	Protocol   string `json:"protocol"`
	Direction  string `json:"direction"`
	Details    string `json:"details,omitempty"`
	EvidenceID string `json:"evidence_id"`
}

// Edge fact kinds.
const (
	EdgeKindDependency = "dependency"
	EdgeKindInterface  = "interface"
)

// EdgeFact is a raw dependency relation between two modules. Every edge must
// carry an evidence id; an edge without one is rejected during validation.
type EdgeFact struct {
	ID          string `json:"id"`
	SrcModuleID string `json:"src_module_id"`
	DstModuleID string `json:"dst_module_id"`
	Kind        string `json:"kind"`
	Label       string `json:"label,omitempty"`
	EvidenceID  string `json:"evidence_id"`
}

// Warning records a recoverable per-file failure that did not abort the run.
type Warning struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

// Fingerprint identifies one tracked file's content state. Size and mtime act
// as a cheap first filter; the sha256 hash is authoritative.
type Fingerprint struct {
	Size    int64  `json:"size"`
	ModTime int64  `json:"mtime_unix"`
	Hash    string `json:"hash"`
}

// Snapshot is the immutable bundle of all facts for one code state. It is
// produced atomically by the extraction engine and never partially visible.
type Snapshot struct {
	ID        string `json:"snapshot_id"`
	CommitID  string `json:"commit_id"`
	RepoRoot  string `json:"repo_root"`
	CreatedAt string `json:"created_at"`

	Modules    []ModuleFact    `json:"modules"`
	Symbols    []SymbolFact    `json:"symbols"`
	Interfaces []InterfaceFact `json:"interfaces"`
	Edges      []EdgeFact      `json:"edges"`
	Evidences  []Evidence      `json:"evidences"`

	Warnings     []Warning              `json:"warnings,omitempty"`
	Fingerprints map[string]Fingerprint `json:"fingerprints,omitempty"`
	Metadata     map[string]any         `json:"metadata,omitempty"`

	// ContentHash covers the canonicalized fact lists only, so two snapshots
	// over identical source states compare equal regardless of when they ran.
	ContentHash string `json:"content_hash"`
}

// StableID derives a deterministic short identifier from the given parts.
func StableID(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])[:16]
}

// ModuleID returns the stable id for a module at the given repo-relative path.
func ModuleID(relPath string) string {
	return StableID("module", relPath)
}

// NewSnapshot creates an empty snapshot stamped with the given commit id.
func NewSnapshot(commitID, repoRoot string) *Snapshot {
	createdAt := time.Now().UTC().Format(time.RFC3339)
	return &Snapshot{
		ID:           StableID(commitID, repoRoot, createdAt),
		CommitID:     commitID,
		RepoRoot:     repoRoot,
		CreatedAt:    createdAt,
		Fingerprints: make(map[string]Fingerprint),
		Metadata:     make(map[string]any),
	}
}

// Canonicalize sorts all fact lists into their canonical order. The order is
// fully defined by ids, never by discovery order, so hashing and diffing
// downstream are stable across runs and across worker scheduling.
func (s *Snapshot) Canonicalize() {
	sort.Slice(s.Modules, func(i, j int) bool {
		if s.Modules[i].Path != s.Modules[j].Path {
			return s.Modules[i].Path < s.Modules[j].Path
		}
		return s.Modules[i].ID < s.Modules[j].ID
	})
	sort.Slice(s.Symbols, func(i, j int) bool { return s.Symbols[i].ID < s.Symbols[j].ID })
	sort.Slice(s.Interfaces, func(i, j int) bool { return s.Interfaces[i].ID < s.Interfaces[j].ID })
	sort.Slice(s.Edges, func(i, j int) bool { return s.Edges[i].ID < s.Edges[j].ID })
	sort.Slice(s.Evidences, func(i, j int) bool { return s.Evidences[i].ID < s.Evidences[j].ID })
	sort.Slice(s.Warnings, func(i, j int) bool {
		if s.Warnings[i].File != s.Warnings[j].File {
			return s.Warnings[i].File < s.Warnings[j].File
		}
		return s.Warnings[i].Message < s.Warnings[j].Message
	})
}

// Dedupe removes duplicate facts, keeping the first occurrence in canonical
// order. Merging fact batches is a set union keyed by stable identity, never
// positional.
func (s *Snapshot) Dedupe() {
	s.Canonicalize()

	seenEv := make(map[string]bool, len(s.Evidences))
	evidences := s.Evidences[:0]
	for _, ev := range s.Evidences {
		if seenEv[ev.ID] {
			continue
		}
		seenEv[ev.ID] = true
		evidences = append(evidences, ev)
	}
	s.Evidences = evidences

	seenMod := make(map[string]bool, len(s.Modules))
	modules := s.Modules[:0]
	for _, m := range s.Modules {
		if seenMod[m.ID] {
			continue
		}
		seenMod[m.ID] = true
		modules = append(modules, m)
	}
	s.Modules = modules

	seenSym := make(map[string]bool, len(s.Symbols))
	symbols := s.Symbols[:0]
	for _, sym := range s.Symbols {
		if seenSym[sym.ID] {
			continue
		}
		seenSym[sym.ID] = true
		symbols = append(symbols, sym)
	}
	s.Symbols = symbols

	seenIface := make(map[[4]string]bool, len(s.Interfaces))
	interfaces := s.Interfaces[:0]
	for _, it := range s.Interfaces {
		key := [4]string{it.ModuleID, it.Name, it.Protocol, it.Direction}
		if seenIface[key] {
			continue
		}
		seenIface[key] = true
		interfaces = append(interfaces, it)
	}
	s.Interfaces = interfaces

	seenEdge := make(map[[4]string]bool, len(s.Edges))
	edges := s.Edges[:0]
	for _, e := range s.Edges {
		key := [4]string{e.SrcModuleID, e.DstModuleID, e.Kind, e.Label}
		if seenEdge[key] {
			continue
		}
		seenEdge[key] = true
		edges = append(edges, e)
	}
	s.Edges = edges
}

// Validate checks structural invariants: every edge carries an evidence id
// that resolves to a known evidence record, and every interface and symbol
// references a known module.
func (s *Snapshot) Validate() error {
	evidenceIDs := make(map[string]bool, len(s.Evidences))
	for _, ev := range s.Evidences {
		evidenceIDs[ev.ID] = true
	}
	moduleIDs := make(map[string]bool, len(s.Modules))
	for _, m := range s.Modules {
		moduleIDs[m.ID] = true
	}

	for _, e := range s.Edges {
		if e.EvidenceID == "" {
			return fmt.Errorf("edge %s (%s -> %s) has no evidence id", e.ID, e.SrcModuleID, e.DstModuleID)
		}
		if !evidenceIDs[e.EvidenceID] {
			return fmt.Errorf("edge %s references unknown evidence %s", e.ID, e.EvidenceID)
		}
		if !moduleIDs[e.SrcModuleID] || !moduleIDs[e.DstModuleID] {
			return fmt.Errorf("edge %s references unknown module", e.ID)
		}
	}
	for _, it := range s.Interfaces {
		if it.EvidenceID != "" && !evidenceIDs[it.EvidenceID] {
			return fmt.Errorf("interface %s references unknown evidence %s", it.ID, it.EvidenceID)
		}
		if !moduleIDs[it.ModuleID] {
			return fmt.Errorf("interface %s references unknown module %s", it.ID, it.ModuleID)
		}
	}
	for _, sym := range s.Symbols {
		if !moduleIDs[sym.ModuleID] {
			return fmt.Errorf("symbol %s references unknown module %s", sym.ID, sym.ModuleID)
		}
	}
	return nil
}

// hashPayload is the canonical serialization the content hash covers. It
// deliberately excludes snapshot id, commit id, timestamps, fingerprints and
// warnings so identical source states hash identically.
type hashPayload struct {
	Modules    []ModuleFact    `json:"modules"`
	Symbols    []SymbolFact    `json:"symbols"`
	Interfaces []InterfaceFact `json:"interfaces"`
	Edges      []EdgeFact      `json:"edges"`
	Evidences  []Evidence      `json:"evidences"`
}

// ComputeContentHash canonicalizes the snapshot and stamps its content hash.
func (s *Snapshot) ComputeContentHash() string {
	s.Canonicalize()
	payload, err := json.Marshal(hashPayload{
		Modules:    s.Modules,
		Symbols:    s.Symbols,
		Interfaces: s.Interfaces,
		Edges:      s.Edges,
		Evidences:  s.Evidences,
	})
	if err != nil {
		// Marshal of plain structs cannot fail; keep the hash stable anyway.
		payload = []byte(err.Error())
	}
	sum := sha256.Sum256(payload)
	s.ContentHash = hex.EncodeToString(sum[:])
	return s.ContentHash
}

// ModuleByPath returns the module fact at the given repo-relative path.
func (s *Snapshot) ModuleByPath(relPath string) (ModuleFact, bool) {
	for _, m := range s.Modules {
		if m.Path == relPath {
			return m, true
		}
	}
	return ModuleFact{}, false
}

// EvidenceByID resolves an evidence id.
func (s *Snapshot) EvidenceByID(id string) (Evidence, bool) {
	for _, ev := range s.Evidences {
		if ev.ID == id {
			return ev, true
		}
	}
	return Evidence{}, false
}

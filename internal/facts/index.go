package facts

// FileFacts groups every fact owned by a single source file: the module fact
// for the file itself plus the symbols, interfaces, edges and evidence
// extracted from it. Edges belong to the file they were parsed from (the
// source side), which is what makes per-file reuse during incremental
// extraction exact.
type FileFacts struct {
	Module     ModuleFact
	Symbols    []SymbolFact
	Interfaces []InterfaceFact
	Edges      []EdgeFact
	Evidences  []Evidence
	Warnings   []Warning
}

// FileIndex maps repo-relative paths to the facts owned by that file. It is a
// derived, read-only view over a snapshot used for O(1) incremental reuse.
type FileIndex struct {
	byPath map[string]*FileFacts
}

// NewFileIndex builds a per-file index over the snapshot's facts.
func NewFileIndex(s *Snapshot) *FileIndex {
	idx := &FileIndex{byPath: make(map[string]*FileFacts, len(s.Modules))}

	moduleToPath := make(map[string]string, len(s.Modules))
	for _, m := range s.Modules {
		moduleToPath[m.ID] = m.Path
		idx.byPath[m.Path] = &FileFacts{Module: m}
	}

	evidenceByID := make(map[string]Evidence, len(s.Evidences))
	for _, ev := range s.Evidences {
		evidenceByID[ev.ID] = ev
	}

	attachEvidence := func(ff *FileFacts, id string) {
		if ev, ok := evidenceByID[id]; ok {
			ff.Evidences = append(ff.Evidences, ev)
		}
	}

	for _, sym := range s.Symbols {
		if path, ok := moduleToPath[sym.ModuleID]; ok {
			idx.byPath[path].Symbols = append(idx.byPath[path].Symbols, sym)
		}
	}
	for _, it := range s.Interfaces {
		if path, ok := moduleToPath[it.ModuleID]; ok {
			ff := idx.byPath[path]
			ff.Interfaces = append(ff.Interfaces, it)
			attachEvidence(ff, it.EvidenceID)
		}
	}
	for _, e := range s.Edges {
		if path, ok := moduleToPath[e.SrcModuleID]; ok {
			ff := idx.byPath[path]
			ff.Edges = append(ff.Edges, e)
			attachEvidence(ff, e.EvidenceID)
		}
	}
	for _, w := range s.Warnings {
		if ff, ok := idx.byPath[w.File]; ok {
			ff.Warnings = append(ff.Warnings, w)
		}
	}

	return idx
}

// Lookup returns the facts owned by the given file, or nil if the file was
// not part of the snapshot.
func (idx *FileIndex) Lookup(relPath string) *FileFacts {
	return idx.byPath[relPath]
}

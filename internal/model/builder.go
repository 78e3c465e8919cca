package model

import (
	"path"
	"sort"
	"strings"
	"time"

	"archsync/internal/config"
	"archsync/internal/facts"
)

// Build derives an ArchitectureModel from a snapshot and the rules
// configuration. Build is a pure function: it never mutates the snapshot and
// identical (snapshot, rules) inputs produce byte-identical models apart from
// the creation timestamp.
func Build(snapshot *facts.Snapshot, cfg *config.Config) (*Model, error) {
	m := &Model{
		SnapshotID:   snapshot.ID,
		SnapshotHash: snapshot.ContentHash,
		RulesHash:    cfg.Hash(),
		SystemName:   cfg.SystemName,
		Depth:        cfg.ModuleDepth,
		CreatedAt:    time.Now().UTC().Format(time.RFC3339),
	}

	systemID := SystemNodeID(cfg.SystemName)
	m.Nodes = append(m.Nodes, Node{
		ID:    systemID,
		Name:  cfg.SystemName,
		Level: LevelSystem,
		Kind:  KindSystem,
	})

	// Classify every module into a layer and a group; unmatched modules land
	// in the default layer, never dropped.
	layerSeen := make(map[string]bool)
	groupSeen := make(map[string]bool)
	parentOf := make(map[string]string, len(snapshot.Modules))
	for _, mod := range snapshot.Modules {
		layerName := cfg.LayerFor(mod.Path)
		layerID := LayerNodeID(layerName)
		if !layerSeen[layerName] {
			layerSeen[layerName] = true
			m.Nodes = append(m.Nodes, Node{
				ID:       layerID,
				Name:     layerName,
				Level:    LevelLayer,
				Kind:     KindLayer,
				ParentID: systemID,
				Layer:    layerName,
			})
		}

		prefix := groupPrefix(mod.Path, cfg.ModuleDepth)
		groupID := GroupNodeID(layerName, prefix)
		groupKey := layerName + "\x00" + prefix
		if !groupSeen[groupKey] {
			groupSeen[groupKey] = true
			m.Nodes = append(m.Nodes, Node{
				ID:       groupID,
				Name:     prefix,
				Level:    LevelGroup,
				Kind:     KindGroup,
				ParentID: layerID,
				Layer:    layerName,
				Path:     prefix,
			})
		}

		m.Nodes = append(m.Nodes, Node{
			ID:       mod.ID,
			Name:     mod.Name,
			Level:    LevelFile,
			Kind:     KindFile,
			ParentID: groupID,
			Layer:    layerName,
			Path:     mod.Path,
			Language: mod.Language,
			Degraded: mod.Kind == facts.ModuleKindDegraded,
		})
		parentOf[mod.ID] = groupID
	}

	m.Ports = collapsePorts(snapshot.Interfaces)
	m.FileEdges = rollUp(snapshot.Edges, func(id string) string { return id })
	m.Edges = rollUp(snapshot.Edges, func(id string) string { return parentOf[id] })

	m.Canonicalize()
	m.ComputeContentHash()
	m.ID = facts.StableID("model", m.ContentHash)

	if err := m.ValidateContainment(); err != nil {
		return nil, err
	}
	return m, nil
}

// groupPrefix returns the first depth path segments of the file's directory.
// Files above the grouping depth fall into a root group.
func groupPrefix(relPath string, depth int) string {
	dir := path.Dir(relPath)
	if dir == "." {
		return "/"
	}
	segs := strings.Split(dir, "/")
	if len(segs) > depth {
		segs = segs[:depth]
	}
	return strings.Join(segs, "/")
}

// collapsePorts merges interface facts with the same owner and name into one
// port with unioned evidence. Facts are visited in canonical id order, so the
// surviving protocol and direction are deterministic.
func collapsePorts(interfaces []facts.InterfaceFact) []Port {
	sorted := append([]facts.InterfaceFact(nil), interfaces...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byKey := make(map[string]*Port)
	var order []string
	for _, it := range sorted {
		key := it.ModuleID + "\x00" + it.Name
		p, ok := byKey[key]
		if !ok {
			p = &Port{
				ID:        PortID(it.ModuleID, it.Name),
				ModuleID:  it.ModuleID,
				Name:      it.Name,
				Protocol:  it.Protocol,
				Direction: it.Direction,
			}
			byKey[key] = p
			order = append(order, key)
		}
		if it.EvidenceID != "" {
			p.EvidenceIDs = appendUnique(p.EvidenceIDs, it.EvidenceID)
		}
	}

	ports := make([]Port, 0, len(order))
	for _, key := range order {
		ports = append(ports, *byKey[key])
	}
	return ports
}

// rollUp aggregates edge facts after mapping both endpoints through resolve,
// grouping by (src, dst, kind), summing occurrence counts and unioning
// evidence ids. Self-edges after mapping are dropped: both endpoints live in
// the same ancestor, so nothing crosses a boundary.
func rollUp(edges []facts.EdgeFact, resolve func(moduleID string) string) []Edge {
	byKey := make(map[string]*Edge)
	var order []string
	for _, e := range edges {
		src := resolve(e.SrcModuleID)
		dst := resolve(e.DstModuleID)
		if src == "" || dst == "" || src == dst {
			continue
		}
		key := src + "\x00" + dst + "\x00" + e.Kind
		agg, ok := byKey[key]
		if !ok {
			agg = &Edge{
				ID:    EdgeID(src, dst, e.Kind),
				SrcID: src,
				DstID: dst,
				Kind:  e.Kind,
			}
			byKey[key] = agg
			order = append(order, key)
		}
		agg.Count++
		if e.EvidenceID != "" {
			agg.EvidenceIDs = appendUnique(agg.EvidenceIDs, e.EvidenceID)
		}
	}

	out := make([]Edge, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out
}

func appendUnique(list []string, item string) []string {
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

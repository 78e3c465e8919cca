// Package model defines the derived architecture graph: a layered module
// hierarchy with ports and aggregated edges, content-addressed so identical
// inputs always produce identical models.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"archsync/internal/facts"
)

// Hierarchy levels.
const (
	LevelSystem = 0
	LevelLayer  = 1
	LevelGroup  = 2
	LevelFile   = 3
)

// Node kinds.
const (
	KindSystem = "system"
	KindLayer  = "layer"
	KindGroup  = "group"
	KindFile   = "file"
)

// Node is one element of the module hierarchy. File nodes reuse the fact
// module id, so diffing and impacted-set computation key on the same ids the
// extraction layer produced.
type Node struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Level    int    `json:"level"`
	Kind     string `json:"kind"`
	ParentID string `json:"parent_id,omitempty"`
	Layer    string `json:"layer,omitempty"`
	Path     string `json:"path,omitempty"`
	Language string `json:"language,omitempty"`
	Degraded bool   `json:"degraded,omitempty"`

	// Enrichment metadata. Never part of the content hash and never allowed
	// to alter structure.
	Label   string `json:"label,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Port is a rule-resolved interface boundary attached to a file node.
type Port struct {
	ID          string   `json:"id"`
	ModuleID    string   `json:"module_id"`
	Name        string   `json:"name"`
	Protocol    string   `json:"protocol"`
	Direction   string   `json:"direction"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
}

// Edge is an aggregated dependency edge at one hierarchy level.
type Edge struct {
	ID          string   `json:"id"`
	SrcID       string   `json:"src_id"`
	DstID       string   `json:"dst_id"`
	Kind        string   `json:"kind"`
	Count       int      `json:"count"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
}

// Model is the full derived graph for one code state.
type Model struct {
	ID           string `json:"model_id"`
	SnapshotID   string `json:"snapshot_id"`
	SnapshotHash string `json:"snapshot_hash"`
	RulesHash    string `json:"rules_hash"`
	SystemName   string `json:"system_name"`
	Depth        int    `json:"depth"`
	CreatedAt    string `json:"created_at"`

	Nodes []Node `json:"nodes"`
	Ports []Port `json:"ports"`
	// Edges are rolled up to group level; FileEdges keep file granularity.
	Edges     []Edge `json:"edges"`
	FileEdges []Edge `json:"file_edges"`

	// ContentHash is a pure function of (snapshot hash, rules hash); it never
	// covers timestamps or enrichment metadata.
	ContentHash string `json:"content_hash"`
}

// ComputeContentHash derives and stamps the model's content hash.
func (m *Model) ComputeContentHash() string {
	sum := sha256.Sum256([]byte(m.SnapshotHash + "|" + m.RulesHash))
	m.ContentHash = hex.EncodeToString(sum[:])
	return m.ContentHash
}

// NodeByID returns the node with the given id.
func (m *Model) NodeByID(id string) (Node, bool) {
	for _, n := range m.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// Root returns the system node.
func (m *Model) Root() (Node, bool) {
	for _, n := range m.Nodes {
		if n.Level == LevelSystem {
			return n, true
		}
	}
	return Node{}, false
}

// Lineage returns the chain from the given node up to the system root,
// starting with the node itself. Unknown ids return nil.
func (m *Model) Lineage(id string) []string {
	byID := make(map[string]Node, len(m.Nodes))
	for _, n := range m.Nodes {
		byID[n.ID] = n
	}
	var chain []string
	for hops := 0; hops <= LevelFile+1; hops++ {
		n, ok := byID[id]
		if !ok {
			return nil
		}
		chain = append(chain, n.ID)
		if n.ParentID == "" {
			return chain
		}
		id = n.ParentID
	}
	return nil
}

// AncestorAt returns the ancestor of a node at the given level. A node at or
// above the requested level returns itself.
func (m *Model) AncestorAt(id string, level int) (Node, bool) {
	byID := make(map[string]Node, len(m.Nodes))
	for _, n := range m.Nodes {
		byID[n.ID] = n
	}
	for hops := 0; hops <= LevelFile+1; hops++ {
		n, ok := byID[id]
		if !ok {
			return Node{}, false
		}
		if n.Level <= level {
			return n, true
		}
		id = n.ParentID
	}
	return Node{}, false
}

// Canonicalize sorts nodes, ports and edges into their canonical order:
// nodes by (level, name, id), everything else by id.
func (m *Model) Canonicalize() {
	sort.Slice(m.Nodes, func(i, j int) bool {
		a, b := m.Nodes[i], m.Nodes[j]
		if a.Level != b.Level {
			return a.Level < b.Level
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
	sort.Slice(m.Ports, func(i, j int) bool { return m.Ports[i].ID < m.Ports[j].ID })
	sort.Slice(m.Edges, func(i, j int) bool { return m.Edges[i].ID < m.Edges[j].ID })
	sort.Slice(m.FileEdges, func(i, j int) bool { return m.FileEdges[i].ID < m.FileEdges[j].ID })
	for i := range m.Ports {
		sort.Strings(m.Ports[i].EvidenceIDs)
	}
	for i := range m.Edges {
		sort.Strings(m.Edges[i].EvidenceIDs)
	}
	for i := range m.FileEdges {
		sort.Strings(m.FileEdges[i].EvidenceIDs)
	}
}

// ValidateContainment checks that containment forms a tree: exactly one
// system root, every other node has a known parent exactly one level up, and
// every lineage terminates at the root.
func (m *Model) ValidateContainment() error {
	byID := make(map[string]Node, len(m.Nodes))
	roots := 0
	for _, n := range m.Nodes {
		byID[n.ID] = n
		if n.Level == LevelSystem {
			roots++
		}
	}
	if roots != 1 {
		return fmt.Errorf("model has %d system roots, want exactly 1", roots)
	}
	for _, n := range m.Nodes {
		if n.Level == LevelSystem {
			if n.ParentID != "" {
				return fmt.Errorf("system node %s has a parent", n.ID)
			}
			continue
		}
		parent, ok := byID[n.ParentID]
		if !ok {
			return fmt.Errorf("node %s (%s) has unknown parent %s", n.ID, n.Name, n.ParentID)
		}
		if parent.Level != n.Level-1 {
			return fmt.Errorf("node %s at level %d has parent at level %d", n.ID, n.Level, parent.Level)
		}
		if m.Lineage(n.ID) == nil {
			return fmt.Errorf("node %s lineage does not reach the root", n.ID)
		}
	}
	return nil
}

// NodeID derivation helpers. File nodes use the fact module id directly.

func SystemNodeID(systemName string) string {
	return facts.StableID("node", KindSystem, systemName)
}

func LayerNodeID(layerName string) string {
	return facts.StableID("node", KindLayer, layerName)
}

func GroupNodeID(layerName, prefix string) string {
	return facts.StableID("node", KindGroup, layerName, prefix)
}

func PortID(moduleID, name string) string {
	return facts.StableID("port", moduleID, name)
}

func EdgeID(srcID, dstID, kind string) string {
	return facts.StableID("aedge", srcID, dstID, kind)
}

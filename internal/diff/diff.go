// Package diff computes structural deltas between two architecture models.
// Diffing is read-only over immutable inputs and keyed entirely by stable
// ids, so the same pair always produces the same report.
package diff

import (
	"fmt"
	"sort"

	"archsync/internal/model"
)

// FieldChange records one attribute that drifted between base and head.
type FieldChange struct {
	Field  string `json:"field"`
	Before string `json:"before"`
	After  string `json:"after"`
}

// Changed is an element present in both models with differing attributes.
// It is reported as one entry, never as a remove+add pair.
type Changed struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Fields []FieldChange `json:"fields"`
}

// API surface change kinds.
const (
	APIPortAdded       = "port_added"
	APIPortRemoved     = "port_removed"
	APIProtocolChanged = "protocol_changed"
	APIDirectionChange = "direction_changed"
)

// APIChange tracks a port-level contract break.
type APIChange struct {
	Kind     string `json:"kind"`
	PortID   string `json:"port_id"`
	ModuleID string `json:"module_id"`
	Name     string `json:"name"`
	Detail   string `json:"detail,omitempty"`
}

// Report is the structural delta between a base and a head model.
type Report struct {
	BaseModelID string `json:"base_model_id"`
	HeadModelID string `json:"head_model_id"`
	BaseHash    string `json:"base_hash"`
	HeadHash    string `json:"head_hash"`

	AddedModules   []model.Node `json:"added_modules"`
	RemovedModules []model.Node `json:"removed_modules"`
	ChangedModules []Changed    `json:"changed_modules"`

	AddedPorts   []model.Port `json:"added_ports"`
	RemovedPorts []model.Port `json:"removed_ports"`
	ChangedPorts []Changed    `json:"changed_ports"`

	AddedEdges   []model.Edge `json:"added_edges"`
	RemovedEdges []model.Edge `json:"removed_edges"`
	ChangedEdges []Changed    `json:"changed_edges"`

	APISurfaceChanges []APIChange `json:"api_surface_changes"`
}

// Empty reports whether base and head are structurally identical.
func (r *Report) Empty() bool {
	return len(r.AddedModules) == 0 && len(r.RemovedModules) == 0 && len(r.ChangedModules) == 0 &&
		len(r.AddedPorts) == 0 && len(r.RemovedPorts) == 0 && len(r.ChangedPorts) == 0 &&
		len(r.AddedEdges) == 0 && len(r.RemovedEdges) == 0 && len(r.ChangedEdges) == 0
}

// Diff computes the structural delta from base to head. Enrichment metadata
// (labels, summaries) never participates, so an enriched and an unenriched
// model of the same code state diff as identical.
func Diff(base, head *model.Model) *Report {
	r := &Report{
		BaseModelID: base.ID,
		HeadModelID: head.ID,
		BaseHash:    base.ContentHash,
		HeadHash:    head.ContentHash,
	}

	diffNodes(r, base.Nodes, head.Nodes)
	diffPorts(r, base.Ports, head.Ports)
	diffEdges(r, base.Edges, head.Edges)

	sortReport(r)
	return r
}

func diffNodes(r *Report, base, head []model.Node) {
	baseByID := make(map[string]model.Node, len(base))
	for _, n := range base {
		baseByID[n.ID] = n
	}
	headSeen := make(map[string]bool, len(head))

	for _, h := range head {
		headSeen[h.ID] = true
		b, ok := baseByID[h.ID]
		if !ok {
			r.AddedModules = append(r.AddedModules, h)
			continue
		}
		var fields []FieldChange
		fields = appendChange(fields, "name", b.Name, h.Name)
		fields = appendChange(fields, "layer", b.Layer, h.Layer)
		fields = appendChange(fields, "parent", b.ParentID, h.ParentID)
		fields = appendChange(fields, "language", b.Language, h.Language)
		fields = appendChange(fields, "degraded", fmt.Sprint(b.Degraded), fmt.Sprint(h.Degraded))
		if len(fields) > 0 {
			r.ChangedModules = append(r.ChangedModules, Changed{ID: h.ID, Name: h.Name, Fields: fields})
		}
	}
	for _, b := range base {
		if !headSeen[b.ID] {
			r.RemovedModules = append(r.RemovedModules, b)
		}
	}
}

func diffPorts(r *Report, base, head []model.Port) {
	baseByID := make(map[string]model.Port, len(base))
	for _, p := range base {
		baseByID[p.ID] = p
	}
	headSeen := make(map[string]bool, len(head))

	for _, h := range head {
		headSeen[h.ID] = true
		b, ok := baseByID[h.ID]
		if !ok {
			r.AddedPorts = append(r.AddedPorts, h)
			r.APISurfaceChanges = append(r.APISurfaceChanges, APIChange{
				Kind: APIPortAdded, PortID: h.ID, ModuleID: h.ModuleID, Name: h.Name,
			})
			continue
		}
		var fields []FieldChange
		if b.Protocol != h.Protocol {
			fields = append(fields, FieldChange{Field: "protocol", Before: b.Protocol, After: h.Protocol})
			r.APISurfaceChanges = append(r.APISurfaceChanges, APIChange{
				Kind: APIProtocolChanged, PortID: h.ID, ModuleID: h.ModuleID, Name: h.Name,
				Detail: b.Protocol + " -> " + h.Protocol,
			})
		}
		if b.Direction != h.Direction {
			fields = append(fields, FieldChange{Field: "direction", Before: b.Direction, After: h.Direction})
			r.APISurfaceChanges = append(r.APISurfaceChanges, APIChange{
				Kind: APIDirectionChange, PortID: h.ID, ModuleID: h.ModuleID, Name: h.Name,
				Detail: b.Direction + " -> " + h.Direction,
			})
		}
		if len(fields) > 0 {
			r.ChangedPorts = append(r.ChangedPorts, Changed{ID: h.ID, Name: h.Name, Fields: fields})
		}
	}
	for _, b := range base {
		if !headSeen[b.ID] {
			r.RemovedPorts = append(r.RemovedPorts, b)
			r.APISurfaceChanges = append(r.APISurfaceChanges, APIChange{
				Kind: APIPortRemoved, PortID: b.ID, ModuleID: b.ModuleID, Name: b.Name,
			})
		}
	}
}

func diffEdges(r *Report, base, head []model.Edge) {
	baseByID := make(map[string]model.Edge, len(base))
	for _, e := range base {
		baseByID[e.ID] = e
	}
	headSeen := make(map[string]bool, len(head))

	for _, h := range head {
		headSeen[h.ID] = true
		b, ok := baseByID[h.ID]
		if !ok {
			r.AddedEdges = append(r.AddedEdges, h)
			continue
		}
		if b.Count != h.Count {
			r.ChangedEdges = append(r.ChangedEdges, Changed{
				ID:   h.ID,
				Name: h.SrcID + " -> " + h.DstID,
				Fields: []FieldChange{{
					Field:  "count",
					Before: fmt.Sprint(b.Count),
					After:  fmt.Sprint(h.Count),
				}},
			})
		}
	}
	for _, b := range base {
		if !headSeen[b.ID] {
			r.RemovedEdges = append(r.RemovedEdges, b)
		}
	}
}

func appendChange(fields []FieldChange, name, before, after string) []FieldChange {
	if before == after {
		return fields
	}
	return append(fields, FieldChange{Field: name, Before: before, After: after})
}

func sortReport(r *Report) {
	nodeLess := func(s []model.Node) func(i, j int) bool {
		return func(i, j int) bool { return s[i].ID < s[j].ID }
	}
	portLess := func(s []model.Port) func(i, j int) bool {
		return func(i, j int) bool { return s[i].ID < s[j].ID }
	}
	edgeLess := func(s []model.Edge) func(i, j int) bool {
		return func(i, j int) bool { return s[i].ID < s[j].ID }
	}
	changedLess := func(s []Changed) func(i, j int) bool {
		return func(i, j int) bool { return s[i].ID < s[j].ID }
	}

	sort.Slice(r.AddedModules, nodeLess(r.AddedModules))
	sort.Slice(r.RemovedModules, nodeLess(r.RemovedModules))
	sort.Slice(r.ChangedModules, changedLess(r.ChangedModules))
	sort.Slice(r.AddedPorts, portLess(r.AddedPorts))
	sort.Slice(r.RemovedPorts, portLess(r.RemovedPorts))
	sort.Slice(r.ChangedPorts, changedLess(r.ChangedPorts))
	sort.Slice(r.AddedEdges, edgeLess(r.AddedEdges))
	sort.Slice(r.RemovedEdges, edgeLess(r.RemovedEdges))
	sort.Slice(r.ChangedEdges, changedLess(r.ChangedEdges))
	sort.Slice(r.APISurfaceChanges, func(i, j int) bool {
		a, b := r.APISurfaceChanges[i], r.APISurfaceChanges[j]
		if a.PortID != b.PortID {
			return a.PortID < b.PortID
		}
		return a.Kind < b.Kind
	})
}

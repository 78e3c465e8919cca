package diff

import (
	"bytes"
	"strings"
	"testing"

	"archsync/internal/config"
	"archsync/internal/facts"
	"archsync/internal/model"
	"archsync/internal/rules"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
system_name: Shop
module_depth: 1
`), "test")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func buildModel(t *testing.T, paths []string, edges [][2]string, ports map[string][2]string) *model.Model {
	t.Helper()
	s := facts.NewSnapshot("working-tree", "/repo")
	for _, p := range paths {
		s.Modules = append(s.Modules, facts.ModuleFact{
			ID: facts.ModuleID(p), Name: p, Path: p, Language: "python", Kind: facts.ModuleKindFile,
		})
	}
	for i, pair := range edges {
		ev := facts.Evidence{ID: facts.StableID("ev", pair[0], pair[1]), File: pair[0], LineStart: i + 1, LineEnd: i + 1, Parser: "test"}
		s.Evidences = append(s.Evidences, ev)
		s.Edges = append(s.Edges, facts.EdgeFact{
			ID:          facts.StableID("edge", pair[0], pair[1]),
			SrcModuleID: facts.ModuleID(pair[0]),
			DstModuleID: facts.ModuleID(pair[1]),
			Kind:        facts.EdgeKindDependency,
			EvidenceID:  ev.ID,
		})
	}
	for owner, port := range ports {
		s.Interfaces = append(s.Interfaces, facts.InterfaceFact{
			ID:       facts.StableID("if", owner, port[0]),
			ModuleID: facts.ModuleID(owner),
			Name:     port[0], Protocol: port[1], Direction: facts.DirectionIn,
		})
	}
	s.ComputeContentHash()

	m, err := model.Build(s, testConfig(t))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return m
}

func TestDiffIdenticalModelsEmpty(t *testing.T) {
	paths := []string{"api/users.py", "domain/pricing.py"}
	edges := [][2]string{{"api/users.py", "domain/pricing.py"}}
	base := buildModel(t, paths, edges, nil)
	head := buildModel(t, paths, edges, nil)

	r := Diff(base, head)
	if !r.Empty() {
		t.Errorf("diff of identical models not empty: %+v", r)
	}
}

func TestDiffAddedAndRemoved(t *testing.T) {
	base := buildModel(t,
		[]string{"api/users.py", "domain/pricing.py"},
		[][2]string{{"api/users.py", "domain/pricing.py"}},
		nil)
	head := buildModel(t,
		[]string{"api/users.py", "infra/db.py"},
		[][2]string{{"api/users.py", "infra/db.py"}},
		nil)

	r := Diff(base, head)

	hasNode := func(nodes []model.Node, path string) bool {
		for _, n := range nodes {
			if n.Path == path {
				return true
			}
		}
		return false
	}
	if !hasNode(r.AddedModules, "infra/db.py") {
		t.Error("infra/db.py not reported as added")
	}
	if !hasNode(r.RemovedModules, "domain/pricing.py") {
		t.Error("domain/pricing.py not reported as removed")
	}
	if len(r.AddedEdges) != 1 || len(r.RemovedEdges) != 1 {
		t.Errorf("edge delta = +%d -%d, want +1 -1", len(r.AddedEdges), len(r.RemovedEdges))
	}
}

func TestDiffSymmetry(t *testing.T) {
	base := buildModel(t, []string{"a/x.py"}, nil, nil)
	head := buildModel(t, []string{"a/x.py", "b/y.py"}, nil, nil)

	forward := Diff(base, head)
	backward := Diff(head, base)

	if len(forward.AddedModules) != len(backward.RemovedModules) {
		t.Error("added in forward diff must equal removed in backward diff")
	}
	for i := range forward.AddedModules {
		if forward.AddedModules[i].ID != backward.RemovedModules[i].ID {
			t.Error("diff symmetry broken")
		}
	}
}

func TestDiffAPISurfaceChanges(t *testing.T) {
	base := buildModel(t, []string{"api/users.py"}, nil,
		map[string][2]string{"api/users.py": {"/users", "HTTP"}})
	head := buildModel(t, []string{"api/users.py"}, nil,
		map[string][2]string{"api/users.py": {"/users", "gRPC"}})

	r := Diff(base, head)

	if len(r.ChangedPorts) != 1 {
		t.Fatalf("changed ports = %d, want 1 (changed entry, not remove+add)", len(r.ChangedPorts))
	}
	if len(r.AddedPorts) != 0 || len(r.RemovedPorts) != 0 {
		t.Error("protocol change reported as remove+add pair")
	}
	if len(r.APISurfaceChanges) != 1 || r.APISurfaceChanges[0].Kind != APIProtocolChanged {
		t.Errorf("api surface changes = %+v", r.APISurfaceChanges)
	}
}

func TestDiffIgnoresEnrichmentMetadata(t *testing.T) {
	paths := []string{"api/users.py"}
	base := buildModel(t, paths, nil, nil)
	head := buildModel(t, paths, nil, nil)
	for i := range head.Nodes {
		head.Nodes[i].Label = "Fancy Name"
		head.Nodes[i].Summary = "Does things."
	}

	if r := Diff(base, head); !r.Empty() {
		t.Error("enrichment metadata leaked into structural diff")
	}
}

func TestDiffDoesNotMutateInputs(t *testing.T) {
	base := buildModel(t, []string{"a/x.py"}, nil, nil)
	head := buildModel(t, []string{"b/y.py"}, nil, nil)
	baseNodes := len(base.Nodes)
	headNodes := len(head.Nodes)

	_ = Diff(base, head)

	if len(base.Nodes) != baseNodes || len(head.Nodes) != headNodes {
		t.Error("diff mutated its inputs")
	}
}

func TestWriteReports(t *testing.T) {
	base := buildModel(t, []string{"a/x.py"}, nil, nil)
	head := buildModel(t, []string{"a/x.py", "b/y.py"}, nil, nil)
	r := Diff(base, head)
	violations := []rules.Violation{
		{Rule: rules.RuleCycle, Severity: rules.SeverityCritical, Message: "dependency cycle among 2 modules: a -> b"},
	}

	var md bytes.Buffer
	if err := WriteMarkdown(&md, r, violations); err != nil {
		t.Fatalf("WriteMarkdown: %v", err)
	}
	out := md.String()
	for _, want := range []string{"# Architecture diff", "Added modules", "b/y.py", "Violations", "critical"} {
		if !strings.Contains(out, want) {
			t.Errorf("markdown missing %q", want)
		}
	}

	var js bytes.Buffer
	if err := WriteJSON(&js, r, violations); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if !strings.Contains(js.String(), `"violations"`) || !strings.Contains(js.String(), `"diff"`) {
		t.Error("json report missing sections")
	}
}

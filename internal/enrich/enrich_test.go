package enrich

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"archsync/internal/model"
)

func fixtureModel() *model.Model {
	m := &model.Model{SystemName: "Shop"}
	sysID := model.SystemNodeID("Shop")
	layerID := model.LayerNodeID("Domain")
	groupID := model.GroupNodeID("Domain", "services")
	fileA := "file-a"
	fileB := "file-b"

	m.Nodes = []model.Node{
		{ID: sysID, Name: "Shop", Level: model.LevelSystem, Kind: model.KindSystem},
		{ID: layerID, Name: "Domain", Level: model.LevelLayer, Kind: model.KindLayer, ParentID: sysID, Layer: "Domain"},
		{ID: groupID, Name: "services", Level: model.LevelGroup, Kind: model.KindGroup, ParentID: layerID, Layer: "Domain", Path: "services"},
		{ID: fileA, Name: "pricing.py", Level: model.LevelFile, Kind: model.KindFile, ParentID: groupID, Layer: "Domain", Path: "services/pricing.py"},
		{ID: fileB, Name: "tax.py", Level: model.LevelFile, Kind: model.KindFile, ParentID: groupID, Layer: "Domain", Path: "services/tax.py"},
	}
	m.Edges = []model.Edge{
		{ID: model.EdgeID(fileA, fileB, "dependency"), SrcID: fileA, DstID: fileB, Kind: "dependency", Count: 1},
	}
	m.Ports = []model.Port{
		{ID: model.PortID(fileA, "HTTP:in"), ModuleID: fileA, Name: "HTTP:in", Protocol: "HTTP", Direction: "in"},
	}
	m.Canonicalize()
	return m
}

func TestDraftsCoverLayersAndGroups(t *testing.T) {
	m := fixtureModel()
	drafts := Drafts(m)

	if len(drafts) != 2 {
		t.Fatalf("drafts = %d, want 2", len(drafts))
	}
	byName := map[string]Draft{}
	for _, d := range drafts {
		byName[d.Name] = d
	}
	if _, ok := byName["Domain"]; !ok {
		t.Error("missing draft for layer Domain")
	}
	group, ok := byName["services"]
	if !ok {
		t.Fatal("missing draft for group services")
	}
	want := []string{"services/pricing.py", "services/tax.py"}
	if !reflect.DeepEqual(group.Children, want) {
		t.Errorf("group children = %v, want %v", group.Children, want)
	}
}

func TestApplyAttachesMetadataOnly(t *testing.T) {
	m := fixtureModel()
	groupID := model.GroupNodeID("Domain", "services")

	applied, err := Apply(m, []Suggestion{
		{NodeID: groupID, Label: "Domain Services", Summary: "Pricing and tax computation."},
	})
	if err != nil {
		t.Fatal(err)
	}
	if applied != 1 {
		t.Fatalf("applied = %d, want 1", applied)
	}
	node, ok := m.NodeByID(groupID)
	if !ok {
		t.Fatal("group node missing")
	}
	if node.Label != "Domain Services" || node.Summary == "" {
		t.Errorf("metadata not attached: %+v", node)
	}
	if node.Name != "services" {
		t.Errorf("name changed to %q", node.Name)
	}
}

func TestApplyRejectsUnknownNode(t *testing.T) {
	m := fixtureModel()
	_, err := Apply(m, []Suggestion{{NodeID: "nope", Label: "X"}})
	if err == nil {
		t.Fatal("expected error for unknown node id")
	}
}

// garbageProvider labels every draft and throws in an unknown id, the
// worst a misbehaving model can do within the response schema.
type garbageProvider struct{}

func (garbageProvider) Name() string { return "garbage" }

func (garbageProvider) Suggest(ctx context.Context, drafts []Draft) ([]Suggestion, error) {
	out := []Suggestion{}
	for _, d := range drafts {
		out = append(out, Suggestion{NodeID: d.NodeID, Label: "!!!", Summary: "???"})
	}
	out = append(out, Suggestion{NodeID: "hallucinated", Label: "Ghost"})
	return out, nil
}

func TestEnrichmentNeverAltersStructure(t *testing.T) {
	m := fixtureModel()

	var nodeIDs []string
	for _, n := range m.Nodes {
		nodeIDs = append(nodeIDs, n.ID)
	}
	portsBefore := append([]model.Port(nil), m.Ports...)
	edgesBefore := append([]model.Edge(nil), m.Edges...)

	err := New(garbageProvider{}, nil).Enrich(context.Background(), m)
	if err == nil {
		t.Fatal("expected error for hallucinated node id")
	}

	var after []string
	for _, n := range m.Nodes {
		after = append(after, n.ID)
	}
	if !reflect.DeepEqual(nodeIDs, after) {
		t.Errorf("node set changed: %v != %v", nodeIDs, after)
	}
	if !reflect.DeepEqual(portsBefore, m.Ports) {
		t.Error("port set changed")
	}
	if !reflect.DeepEqual(edgesBefore, m.Edges) {
		t.Error("edge set changed")
	}
}

type failingProvider struct{}

func (failingProvider) Name() string { return "failing" }

func (failingProvider) Suggest(ctx context.Context, drafts []Draft) ([]Suggestion, error) {
	return nil, errors.New("quota exceeded")
}

func TestProviderFailureLeavesModelUsable(t *testing.T) {
	m := fixtureModel()
	if err := New(failingProvider{}, nil).Enrich(context.Background(), m); err == nil {
		t.Fatal("expected provider error to surface")
	}
	for _, n := range m.Nodes {
		if n.Label != "" || n.Summary != "" {
			t.Errorf("node %s got metadata from failed provider", n.ID)
		}
	}
}

func TestAuditLogAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "enrich.jsonl")
	log, err := NewAuditLog(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := log.Append(AuditRecord{Provider: "test", Request: "first"}); err != nil {
		t.Fatal(err)
	}
	if err := log.Append(AuditRecord{Provider: "test", Request: "second", Error: "boom"}); err != nil {
		t.Fatal(err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var recs []AuditRecord
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var rec AuditRecord
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("bad audit line: %v", err)
		}
		recs = append(recs, rec)
	}
	if len(recs) != 2 {
		t.Fatalf("records = %d, want 2", len(recs))
	}
	if recs[0].PromptHash != PromptHash("first") {
		t.Errorf("prompt hash = %q", recs[0].PromptHash)
	}
	if recs[0].Timestamp.IsZero() {
		t.Error("timestamp not set")
	}
	if recs[1].Error != "boom" {
		t.Errorf("error = %q", recs[1].Error)
	}
}

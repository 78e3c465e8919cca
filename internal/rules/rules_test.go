package rules

import (
	"reflect"
	"testing"

	"archsync/internal/config"
	"archsync/internal/model"
)

// groupModel builds a minimal model whose group-level nodes and edges are
// given directly.
func groupModel(layers map[string]string, edges [][2]string) *model.Model {
	m := &model.Model{SystemName: "Test"}
	sysID := model.SystemNodeID("Test")
	m.Nodes = append(m.Nodes, model.Node{ID: sysID, Name: "Test", Level: model.LevelSystem, Kind: model.KindSystem})

	layerSeen := map[string]bool{}
	for name, layer := range layers {
		layerID := model.LayerNodeID(layer)
		if !layerSeen[layer] {
			layerSeen[layer] = true
			m.Nodes = append(m.Nodes, model.Node{
				ID: layerID, Name: layer, Level: model.LevelLayer, Kind: model.KindLayer,
				ParentID: sysID, Layer: layer,
			})
		}
		m.Nodes = append(m.Nodes, model.Node{
			ID: model.GroupNodeID(layer, name), Name: name, Level: model.LevelGroup,
			Kind: model.KindGroup, ParentID: layerID, Layer: layer, Path: name,
		})
	}
	for _, pair := range edges {
		src := model.GroupNodeID(layers[pair[0]], pair[0])
		dst := model.GroupNodeID(layers[pair[1]], pair[1])
		m.Edges = append(m.Edges, model.Edge{
			ID: model.EdgeID(src, dst, "dependency"), SrcID: src, DstID: dst,
			Kind: "dependency", Count: 1,
		})
	}
	m.Canonicalize()
	return m
}

func testConfig(t *testing.T, yaml string) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(yaml), "test")
	if err != nil {
		t.Fatal(err)
	}
	return cfg
}

func TestLayerOrderRule(t *testing.T) {
	cfg := testConfig(t, `
layers:
  - name: API
    match: ["api/**"]
  - name: Domain
    match: ["domain/**"]
constraints:
  layer_order: [API, Domain]
  layer_order_severity: medium
  cycle_severity: none
`)
	m := groupModel(
		map[string]string{"api": "API", "domain": "Domain"},
		[][2]string{{"api", "domain"}, {"domain", "api"}},
	)

	violations := Evaluate(m, cfg)
	if len(violations) != 1 {
		t.Fatalf("violations = %d, want 1 (only the upward edge)", len(violations))
	}
	v := violations[0]
	if v.Rule != RuleLayerOrder || v.Severity != SeverityMedium {
		t.Errorf("violation = %+v", v)
	}
	if len(v.EdgeIDs) != 1 {
		t.Errorf("edge ids = %v, want exactly the offending edge", v.EdgeIDs)
	}
}

func TestForbiddenDependencyRule(t *testing.T) {
	cfg := testConfig(t, `
layers:
  - name: Domain
    match: ["domain/**"]
  - name: Infra
    match: ["infra/**"]
constraints:
  forbidden_dependencies:
    - from: Domain
      to: Infra
      severity: high
  cycle_severity: none
`)
	m := groupModel(
		map[string]string{"domain/core": "Domain", "infra/db": "Infra"},
		[][2]string{{"domain/core", "infra/db"}},
	)

	violations := Evaluate(m, cfg)
	if len(violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(violations))
	}
	if violations[0].Rule != RuleForbidden || violations[0].Severity != SeverityHigh {
		t.Errorf("violation = %+v", violations[0])
	}
}

func TestSeverityNoneDisablesRule(t *testing.T) {
	cfg := testConfig(t, `
layers:
  - name: API
    match: ["api/**"]
  - name: Domain
    match: ["domain/**"]
constraints:
  layer_order: [API, Domain]
  layer_order_severity: none
  forbidden_dependencies:
    - from: Domain
      to: API
      severity: none
  cycle_severity: none
`)
	m := groupModel(
		map[string]string{"api": "API", "domain": "Domain"},
		[][2]string{{"api", "domain"}, {"domain", "api"}},
	)

	if violations := Evaluate(m, cfg); len(violations) != 0 {
		t.Errorf("violations = %v, want none with every rule disabled", violations)
	}
}

func TestCycleRuleSingleViolationPerComponent(t *testing.T) {
	cfg := testConfig(t, `
constraints:
  cycle_severity: critical
`)
	m := groupModel(
		map[string]string{"a": "Misc", "b": "Misc", "c": "Misc", "d": "Misc"},
		[][2]string{{"a", "b"}, {"b", "c"}, {"c", "a"}, {"a", "d"}},
	)

	violations := Evaluate(m, cfg)
	if len(violations) != 1 {
		t.Fatalf("violations = %d, want exactly 1 for the A->B->C->A component", len(violations))
	}
	v := violations[0]
	if v.Rule != RuleCycle || v.Severity != SeverityCritical {
		t.Errorf("violation = %+v", v)
	}
	if len(v.NodeIDs) != 3 {
		t.Errorf("cycle members = %d, want 3", len(v.NodeIDs))
	}
	if len(v.EdgeIDs) != 3 {
		t.Errorf("cycle edges = %d, want all 3 member edges", len(v.EdgeIDs))
	}
	for i := 1; i < len(v.NodeIDs); i++ {
		if v.NodeIDs[i-1] >= v.NodeIDs[i] {
			t.Error("cycle members not in canonical lowest-id-first order")
		}
	}
}

func TestEmptyRuleSet(t *testing.T) {
	cfg := testConfig(t, `
constraints:
  cycle_severity: none
  layer_order_severity: none
`)
	m := groupModel(
		map[string]string{"a": "Misc", "b": "Misc"},
		[][2]string{{"a", "b"}, {"b", "a"}},
	)
	if violations := Evaluate(m, cfg); len(violations) != 0 {
		t.Errorf("violations = %v, want none for empty rule set", violations)
	}
}

func TestEvaluateDeterministic(t *testing.T) {
	cfg := testConfig(t, `
layers:
  - name: API
    match: ["api/**"]
  - name: Domain
    match: ["domain/**"]
constraints:
  layer_order: [API, Domain]
`)
	m := groupModel(
		map[string]string{"api": "API", "domain": "Domain", "x": "Misc", "y": "Misc"},
		[][2]string{{"domain", "api"}, {"x", "y"}, {"y", "x"}},
	)

	first := Evaluate(m, cfg)
	second := Evaluate(m, cfg)
	if !reflect.DeepEqual(first, second) {
		t.Error("evaluation order not deterministic")
	}
}

func TestSeverityGate(t *testing.T) {
	violations := []Violation{
		{Rule: RuleLayerOrder, Severity: SeverityMedium},
		{Rule: RuleCycle, Severity: SeverityCritical},
	}

	if got := MaxSeverity(violations); got != SeverityCritical {
		t.Errorf("MaxSeverity = %q, want critical", got)
	}

	tests := []struct {
		failOn string
		want   bool
	}{
		{"none", false},
		{"", false},
		{"low", true},
		{"critical", true},
	}
	for _, tt := range tests {
		if got := Gate(violations, tt.failOn); got != tt.want {
			t.Errorf("Gate(failOn=%q) = %v, want %v", tt.failOn, got, tt.want)
		}
	}
	if Gate(nil, "low") {
		t.Error("Gate with no violations should not fire")
	}
}

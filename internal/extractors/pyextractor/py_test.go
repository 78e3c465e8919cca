package pyextractor

import (
	"context"
	"testing"

	"archsync/internal/extractors"
	"archsync/internal/facts"
)

func extract(t *testing.T, res *extractors.Resolver, relPath, src string) *facts.FileFacts {
	t.Helper()
	ff, err := New().ExtractFile(context.Background(), res, relPath, []byte(src))
	if err != nil {
		t.Fatalf("ExtractFile(%s): %v", relPath, err)
	}
	return ff
}

func TestExtractSymbols(t *testing.T) {
	src := `import os

class OrderService:
    def place(self, order):
        pass

    def _validate(self, order):
        pass

def list_orders():
    return []

def _helper():
    pass
`
	res := extractors.NewResolver([]string{"services/orders.py"}, "")
	ff := extract(t, res, "services/orders.py", src)

	want := map[string][2]string{
		"OrderService":           {"class", "public"},
		"OrderService.place":     {"method", "public"},
		"OrderService._validate": {"method", "private"},
		"list_orders":            {"function", "public"},
		"_helper":                {"function", "private"},
	}
	got := make(map[string][2]string, len(ff.Symbols))
	for _, s := range ff.Symbols {
		got[s.Name] = [2]string{s.Kind, s.Visibility}
	}
	for name, kv := range want {
		if got[name] != kv {
			t.Errorf("symbol %q = %v, want %v", name, got[name], kv)
		}
	}
}

func TestExtractImportEdges(t *testing.T) {
	files := []string{
		"services/orders.py",
		"services/db.py",
		"services/pricing/engine.py",
		"shared/util.py",
	}
	res := extractors.NewResolver(files, "")

	src := `import shared.util
from services.db import open_connection
from .pricing.engine import quote
from services.pricing import engine
`
	ff := extract(t, res, "services/orders.py", src)

	wantTargets := map[string]bool{
		facts.ModuleID("shared/util.py"):             false,
		facts.ModuleID("services/db.py"):             false,
		facts.ModuleID("services/pricing/engine.py"): false,
	}
	for _, e := range ff.Edges {
		if _, ok := wantTargets[e.DstModuleID]; ok {
			wantTargets[e.DstModuleID] = true
		}
		if e.EvidenceID == "" {
			t.Errorf("edge %s has no evidence", e.ID)
		}
	}
	for id, seen := range wantTargets {
		if !seen {
			t.Errorf("no edge to module %s", id)
		}
	}
}

func TestExtractPackageInitImport(t *testing.T) {
	files := []string{"app.py", "services/__init__.py"}
	res := extractors.NewResolver(files, "")

	ff := extract(t, res, "app.py", "import services\n")

	if len(ff.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(ff.Edges))
	}
	if ff.Edges[0].DstModuleID != facts.ModuleID("services/__init__.py") {
		t.Errorf("edge dst = %s, want __init__ module", ff.Edges[0].DstModuleID)
	}
}

func TestExtractRouteDecorator(t *testing.T) {
	src := `from fastapi import APIRouter

router = APIRouter()

@router.get("/orders/{id}")
def get_order(id: str):
    return {}
`
	res := extractors.NewResolver([]string{"api/orders.py"}, "")
	ff := extract(t, res, "api/orders.py", src)

	if len(ff.Interfaces) != 1 {
		t.Fatalf("interfaces = %d, want 1", len(ff.Interfaces))
	}
	it := ff.Interfaces[0]
	if it.Name != "/orders/{id}" || it.Protocol != "HTTP" || it.Direction != facts.DirectionIn {
		t.Errorf("interface = %+v", it)
	}
	if it.Details != "get_order" {
		t.Errorf("interface handler = %q, want get_order", it.Details)
	}
}

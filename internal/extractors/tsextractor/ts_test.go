package tsextractor

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

func symbolNames(ff *facts.FileFacts) map[string]string {
	out := make(map[string]string, len(ff.Symbols))
	for _, s := range ff.Symbols {
		out[s.Name] = s.Kind
	}
	return out
}

func TestExtractDeclarations(t *testing.T) {
	src := `
import { helper } from "./helper";

export interface User {
  id: string;
}

export type UserID = string;

export class UserService {
  find(id: UserID): User { return helper(id); }
  private cache(): void {}
}

export const listUsers = async () => [];

function internalOnly() {}
`
	files := []string{"src/users/service.ts", "src/users/helper.ts"}
	res := extractors.NewResolver(files, "")
	ff := extract(t, res, "src/users/service.ts", src)

	syms := symbolNames(ff)
	want := map[string]string{
		"User":              "interface",
		"UserID":            "type",
		"UserService":       "class",
		"UserService.find":  "method",
		"UserService.cache": "method",
		"listUsers":         "function",
		"internalOnly":      "function",
	}
	for name, kind := range want {
		if got, ok := syms[name]; !ok {
			t.Errorf("symbol %q not found", name)
		} else if got != kind {
			t.Errorf("symbol %q kind = %q, want %q", name, got, kind)
		}
	}
}

func TestExtractRelativeImportEdge(t *testing.T) {
	files := []string{"src/app.ts", "src/lib/db.ts"}
	res := extractors.NewResolver(files, "")

	ff := extract(t, res, "src/app.ts", `import { open } from "./lib/db";`)

	if len(ff.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(ff.Edges))
	}
	edge := ff.Edges[0]
	if edge.DstModuleID != facts.ModuleID("src/lib/db.ts") {
		t.Errorf("edge dst = %s, want src/lib/db.ts module", edge.DstModuleID)
	}
	if edge.EvidenceID == "" {
		t.Error("edge carries no evidence id")
	}
}

func TestExternalImportsProduceNoEdges(t *testing.T) {
	res := extractors.NewResolver([]string{"src/app.ts"}, "")
	ff := extract(t, res, "src/app.ts", `import React from "react";`)
	if len(ff.Edges) != 0 {
		t.Errorf("edges = %d, want 0 for external import", len(ff.Edges))
	}
}

func TestExtractIndexImport(t *testing.T) {
	files := []string{"src/app.ts", "src/lib/index.ts"}
	res := extractors.NewResolver(files, "")

	ff := extract(t, res, "src/app.ts", `import { x } from "./lib";`)

	if len(ff.Edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(ff.Edges))
	}
	if ff.Edges[0].DstModuleID != facts.ModuleID("src/lib/index.ts") {
		t.Errorf("edge dst = %s, want index module", ff.Edges[0].DstModuleID)
	}
}

func TestAppRouterRouteInterface(t *testing.T) {
	res := extractors.NewResolver([]string{"app/users/page.tsx"}, "")
	ff := extract(t, res, "app/users/page.tsx", `export default function Page() { return null; }`)

	if len(ff.Interfaces) != 1 {
		t.Fatalf("interfaces = %d, want 1", len(ff.Interfaces))
	}
	it := ff.Interfaces[0]
	if it.Name != "/users" || it.Protocol != "HTTP" || it.Direction != facts.DirectionIn {
		t.Errorf("interface = %+v", it)
	}
	if it.EvidenceID == "" {
		t.Error("route interface has no evidence")
	}
}

func TestPagesRouterRouteInterface(t *testing.T) {
	res := extractors.NewResolver([]string{"pages/api/orders.ts"}, "")
	ff := extract(t, res, "pages/api/orders.ts", `export default function handler() {}`)

	if len(ff.Interfaces) != 1 {
		t.Fatalf("interfaces = %d, want 1", len(ff.Interfaces))
	}
	if got := ff.Interfaces[0].Name; got != "/api/orders" {
		t.Errorf("route = %q, want /api/orders", got)
	}
}

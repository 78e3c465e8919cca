package cppextractor

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

func TestExtractIncludes(t *testing.T) {
	files := []string{"src/engine.cpp", "src/engine.h", "include/util/log.h"}
	res := extractors.NewResolver(files, "")

	src := `#include "engine.h"
#include "util/log.h"
#include <vector>

void run() {
}
`
	ff := extract(t, res, "src/engine.cpp", src)

	if len(ff.Edges) != 2 {
		t.Fatalf("edges = %d, want 2 (system include produces none)", len(ff.Edges))
	}
	targets := map[string]bool{}
	for _, e := range ff.Edges {
		targets[e.DstModuleID] = true
		if e.EvidenceID == "" {
			t.Errorf("edge %s has no evidence", e.ID)
		}
	}
	if !targets[facts.ModuleID("src/engine.h")] {
		t.Error("no edge for local include engine.h")
	}
	if !targets[facts.ModuleID("include/util/log.h")] {
		t.Error("no edge for suffix-resolved include util/log.h")
	}
}

func TestExtractSymbols(t *testing.T) {
	src := `class Renderer {
public:
	void draw();
};

struct Vec2 { float x, y; };

int add(int a, int b) {
	return a + b;
}

if (x) {
`
	res := extractors.NewResolver([]string{"src/render.h"}, "")
	ff := extract(t, res, "src/render.h", src)

	got := map[string]string{}
	for _, s := range ff.Symbols {
		got[s.Name] = s.Kind
	}
	if got["Renderer"] != "class" || got["Vec2"] != "class" {
		t.Errorf("class symbols = %v", got)
	}
	if got["add"] != "function" {
		t.Errorf("function add missing: %v", got)
	}
	if _, ok := got["if"]; ok {
		t.Error("control flow keyword extracted as function")
	}
}

package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"archsync/internal/config"
	"archsync/internal/facts"
	"archsync/internal/model"
	"archsync/internal/render"
)

func setupRepo(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for relPath, content := range files {
		absPath := filepath.Join(dir, relPath)
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

var sampleRepo = map[string]string{
	"go.mod": "module example.com/shop\n\ngo 1.22\n",
	"cmd/api/main.go": `package main

import "example.com/shop/internal/store"

func main() { store.Open() }
`,
	"internal/store/store.go": `package store

func Open() {}
`,
}

func touch(t *testing.T, path string, offset time.Duration) {
	t.Helper()
	at := time.Now().Add(offset)
	if err := os.Chtimes(path, at, at); err != nil {
		t.Fatal(err)
	}
}

func TestRunOnceFullThenNoChange(t *testing.T) {
	dir := setupRepo(t, sampleRepo)
	svc := New(config.Default(), dir, nil, nil, nil, Options{})
	ctx := context.Background()

	first, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if first.NoChange {
		t.Fatal("first pass reported no change")
	}
	if first.Snapshot == nil || first.Model == nil {
		t.Fatal("first pass missing snapshot or model")
	}
	if first.Diff != nil {
		t.Error("first pass has a diff without a previous model")
	}

	second, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !second.NoChange {
		t.Errorf("unchanged repo triggered a rebuild: %v", second.ChangedFiles)
	}
	if svc.State() != StateIdle {
		t.Errorf("state = %s, want idle", svc.State())
	}
}

func TestRunOnceIncrementalPass(t *testing.T) {
	dir := setupRepo(t, sampleRepo)
	svc := New(config.Default(), dir, nil, nil, nil, Options{})
	ctx := context.Background()

	if _, err := svc.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	storePath := filepath.Join(dir, "internal/store/store.go")
	content := "package store\n\nfunc Open() {}\n\nfunc Close() {}\n"
	if err := os.WriteFile(storePath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	touch(t, storePath, 2*time.Second)

	result, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if result.NoChange {
		t.Fatal("modified file not detected")
	}
	if len(result.ChangedFiles) != 1 || result.ChangedFiles[0] != "internal/store/store.go" {
		t.Fatalf("changed files = %v", result.ChangedFiles)
	}
	if result.Diff == nil || result.Diff.Empty() {
		t.Error("expected a non-empty diff for the new symbol")
	}

	// Every ancestor of the changed file must be impacted.
	moduleID := facts.ModuleID("internal/store/store.go")
	lineage := result.Model.Lineage(moduleID)
	if len(lineage) != 4 {
		t.Fatalf("lineage = %v", lineage)
	}
	impacted := map[string]bool{}
	for _, id := range result.ImpactedViews {
		impacted[id] = true
	}
	for _, anc := range lineage[1:] {
		if !impacted[anc] {
			t.Errorf("ancestor %s not in impacted views %v", anc, result.ImpactedViews)
		}
	}
	if impacted[moduleID] {
		t.Error("file node listed as a view")
	}
}

func TestImpactedViewsCoverDeletedFiles(t *testing.T) {
	mk := func(withFile bool) *model.Model {
		m := &model.Model{SystemName: "S"}
		sysID := model.SystemNodeID("S")
		layerID := model.LayerNodeID("Domain")
		groupID := model.GroupNodeID("Domain", "services")
		m.Nodes = []model.Node{
			{ID: sysID, Name: "S", Level: model.LevelSystem, Kind: model.KindSystem},
			{ID: layerID, Name: "Domain", Level: model.LevelLayer, Kind: model.KindLayer, ParentID: sysID, Layer: "Domain"},
			{ID: groupID, Name: "services", Level: model.LevelGroup, Kind: model.KindGroup, ParentID: layerID, Layer: "Domain"},
		}
		if withFile {
			m.Nodes = append(m.Nodes, model.Node{
				ID: facts.ModuleID("services/tax.py"), Name: "tax.py",
				Level: model.LevelFile, Kind: model.KindFile, ParentID: groupID, Layer: "Domain",
			})
		}
		m.Canonicalize()
		return m
	}

	// tax.py exists only in the previous model: it was deleted.
	views := ImpactedViews(mk(false), mk(true), []string{"services/tax.py"})
	if len(views) != 3 {
		t.Fatalf("views = %v, want system, layer, group", views)
	}
}

func TestRenderingUsesImpactedSet(t *testing.T) {
	dir := setupRepo(t, sampleRepo)
	renderer := render.NewDefaultService(nil)
	svc := New(config.Default(), dir, nil, renderer, nil, Options{})
	ctx := context.Background()

	first, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, art := range first.Artifacts {
		if art.Cached {
			t.Errorf("initial render served %s from cache", art.Name)
		}
	}

	mainPath := filepath.Join(dir, "cmd/api/main.go")
	if err := os.WriteFile(mainPath, []byte("package main\n\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	touch(t, mainPath, 2*time.Second)

	second, err := svc.RunOnce(ctx)
	if err != nil {
		t.Fatal(err)
	}
	cached := 0
	for _, art := range second.Artifacts {
		if art.Cached {
			cached++
		}
	}
	if cached == 0 {
		t.Error("no view served from cache on an incremental pass")
	}
	if len(second.Artifacts) != len(first.Artifacts) {
		t.Errorf("artifact count changed: %d != %d", len(second.Artifacts), len(first.Artifacts))
	}
}

func TestWatchLoopDebouncesBurst(t *testing.T) {
	dir := setupRepo(t, sampleRepo)

	passes := make(chan *PassResult, 16)
	svc := New(config.Default(), dir, nil, nil, nil, Options{
		Debounce: 200 * time.Millisecond,
		Poll:     -1,
		OnPass:   func(r *PassResult) { passes <- r },
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	// A burst of writes to the same file within the settle window.
	storePath := filepath.Join(dir, "internal/store/store.go")
	for i := 0; i < 3; i++ {
		content := "package store\n\nfunc Open() {}\n\n// rev\n"
		if err := os.WriteFile(storePath, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case result := <-passes:
		if result.Snapshot == nil {
			t.Error("pass without snapshot")
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no pass after file changes")
	}

	// The burst coalesced into a single pass.
	select {
	case <-passes:
		t.Error("burst produced more than one pass")
	case <-time.After(time.Second):
	}
}

func TestConfigReloadErrorState(t *testing.T) {
	dir := setupRepo(t, sampleRepo)
	cfgPath := filepath.Join(dir, ".archsync", "rules.yaml")
	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfgPath, []byte("system_name: Shop\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	svc := New(config.Default(), dir, nil, nil, nil, Options{
		Debounce:   100 * time.Millisecond,
		Poll:       -1,
		ConfigPath: cfgPath,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := svc.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer svc.Stop()

	// Duplicate layer_order entries are a fatal configuration error.
	bad := "constraints:\n  layer_order: [API, API]\n"
	if err := os.WriteFile(cfgPath, []byte(bad), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(10 * time.Second)
	for svc.State() != StateError {
		select {
		case <-deadline:
			t.Fatal("service never entered the error state")
		case <-time.After(20 * time.Millisecond):
		}
	}

	// A valid configuration revives it.
	if err := os.WriteFile(cfgPath, []byte("system_name: Shop\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	deadline = time.After(10 * time.Second)
	for svc.State() == StateError {
		select {
		case <-deadline:
			t.Fatal("service stuck in the error state after fix")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

package gitutil

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
)

// initRepo creates a repository with two commits and returns its path
// plus both commit hashes.
func initRepo(t *testing.T) (dir, first, second string) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	dir = t.TempDir()
	ctx := context.Background()

	run := func(args ...string) {
		t.Helper()
		if _, err := RunGit(ctx, dir, args...); err != nil {
			t.Fatal(err)
		}
	}
	write := func(rel, content string) {
		t.Helper()
		path := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	run("init", "-q")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")

	write("a.go", "package a\n")
	write("sub/b.go", "package sub\n")
	run("add", ".")
	run("commit", "-q", "-m", "first")
	first, _ = RunGit(ctx, dir, "rev-parse", "HEAD")

	write("a.go", "package a\n\nvar X = 1\n")
	write("c.go", "package a\n")
	run("add", ".")
	run("commit", "-q", "-m", "second")
	second, _ = RunGit(ctx, dir, "rev-parse", "HEAD")
	return dir, first, second
}

func TestResolveRefAndCurrentCommit(t *testing.T) {
	dir, _, second := initRepo(t)
	ctx := context.Background()

	head, err := ResolveRef(ctx, dir, "HEAD")
	if err != nil {
		t.Fatal(err)
	}
	if head != second {
		t.Errorf("HEAD = %s, want %s", head, second)
	}
	if got := CurrentCommit(ctx, dir); got != second {
		t.Errorf("CurrentCommit = %s, want %s", got, second)
	}

	if _, err := ResolveRef(ctx, dir, "no-such-ref"); err == nil {
		t.Error("expected error for unknown ref")
	}
}

func TestCurrentCommitFallsBackOnDirtyTree(t *testing.T) {
	dir, _, _ := initRepo(t)
	ctx := context.Background()

	if err := os.WriteFile(filepath.Join(dir, "a.go"), []byte("package a // dirty\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if got := CurrentCommit(ctx, dir); got != WorkingTree {
		t.Errorf("CurrentCommit on dirty tree = %s, want %s", got, WorkingTree)
	}
}

func TestCurrentCommitOutsideRepo(t *testing.T) {
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	if got := CurrentCommit(context.Background(), t.TempDir()); got != WorkingTree {
		t.Errorf("CurrentCommit = %s, want %s", got, WorkingTree)
	}
}

func TestChangedFilesBetweenRefs(t *testing.T) {
	dir, first, second := initRepo(t)

	files, err := ChangedFiles(context.Background(), dir, first, second)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]bool{"a.go": true, "c.go": true}
	if len(files) != len(want) {
		t.Fatalf("changed files = %v", files)
	}
	for _, f := range files {
		if !want[f] {
			t.Errorf("unexpected changed file %s", f)
		}
	}
}

func TestMaterializeRef(t *testing.T) {
	dir, first, _ := initRepo(t)
	scratch := t.TempDir()

	dest, err := MaterializeRef(context.Background(), dir, first, scratch)
	if err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(filepath.Join(dest, "a.go"))
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "package a\n" {
		t.Errorf("materialized content = %q", data)
	}
	if _, err := os.Stat(filepath.Join(dest, "sub", "b.go")); err != nil {
		t.Errorf("nested file missing: %v", err)
	}
	// c.go arrived in the second commit only.
	if _, err := os.Stat(filepath.Join(dest, "c.go")); err == nil {
		t.Error("c.go should not exist at the first commit")
	}
}

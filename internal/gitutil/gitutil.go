// Package gitutil shells out to git for the small set of operations the
// pipeline needs: resolving refs, listing changed files between two
// commits, and materializing a ref into a scratch directory so two
// revisions of a tree can be extracted side by side.
package gitutil

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// WorkingTree is the commit id recorded when a snapshot is taken from an
// unversioned or dirty checkout.
const WorkingTree = "working-tree"

// RunGit executes one git command in dir and returns its trimmed stdout.
func RunGit(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git %s: %s", strings.Join(args, " "), msg)
	}
	return strings.TrimSpace(string(out)), nil
}

// IsRepo reports whether dir is inside a git work tree.
func IsRepo(ctx context.Context, dir string) bool {
	_, err := RunGit(ctx, dir, "rev-parse", "--is-inside-work-tree")
	return err == nil
}

// ResolveRef turns a ref name into a full commit hash.
func ResolveRef(ctx context.Context, dir, ref string) (string, error) {
	return RunGit(ctx, dir, "rev-parse", "--verify", ref+"^{commit}")
}

// CurrentCommit returns the HEAD commit hash, or WorkingTree when dir is
// not a repository or has uncommitted changes to tracked files.
func CurrentCommit(ctx context.Context, dir string) string {
	if !IsRepo(ctx, dir) {
		return WorkingTree
	}
	status, err := RunGit(ctx, dir, "status", "--porcelain", "--untracked-files=no")
	if err != nil || status != "" {
		return WorkingTree
	}
	head, err := RunGit(ctx, dir, "rev-parse", "HEAD")
	if err != nil {
		return WorkingTree
	}
	return head
}

// ChangedFiles lists the paths that differ between two refs, relative to
// the repository root with forward slashes.
func ChangedFiles(ctx context.Context, dir, baseRef, headRef string) ([]string, error) {
	out, err := RunGit(ctx, dir, "diff", "--name-only", baseRef, headRef)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// MaterializeRef checks the tree of ref out into a fresh directory under
// scratchDir and returns its path. The caller owns the directory.
func MaterializeRef(ctx context.Context, dir, ref, scratchDir string) (string, error) {
	commit, err := ResolveRef(ctx, dir, ref)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(scratchDir, shortHash(commit))
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return "", fmt.Errorf("materialize %s: %w", ref, err)
	}

	cmd := exec.CommandContext(ctx, "git", "archive", "--format=tar", commit)
	cmd.Dir = dir
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("git archive %s: %s", ref, strings.TrimSpace(stderr.String()))
	}

	if err := untar(bytes.NewReader(out), dest); err != nil {
		return "", fmt.Errorf("materialize %s: %w", ref, err)
	}
	return dest, nil
}

func shortHash(commit string) string {
	if len(commit) > 12 {
		return commit[:12]
	}
	return commit
}

func untar(r io.Reader, dest string) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		// Reject entries that would escape dest.
		target := filepath.Join(dest, filepath.FromSlash(hdr.Name))
		if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) && target != filepath.Clean(dest) {
			return fmt.Errorf("tar entry escapes destination: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			// Symlinks are skipped, extraction is for analysis only.
		}
	}
}

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"archsync/internal/facts"
	"archsync/internal/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleSnapshot(commitID string) *facts.Snapshot {
	s := facts.NewSnapshot(commitID, "/repo")
	s.Modules = []facts.ModuleFact{{
		ID: facts.ModuleID("a.py"), Name: "a.py", Path: "a.py", Language: "python", Kind: facts.ModuleKindFile,
	}}
	s.Fingerprints["a.py"] = facts.Fingerprint{Size: 10, ModTime: 1700000000, Hash: "abc"}
	s.ComputeContentHash()
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()
	snap := sampleSnapshot("c0ffee")

	require.NoError(t, store.SaveSnapshot(ctx, snap))

	loaded, err := store.LoadSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	require.Equal(t, snap.ContentHash, loaded.ContentHash)
	require.Equal(t, snap.Modules, loaded.Modules)
	require.Equal(t, snap.Fingerprints["a.py"], loaded.Fingerprints["a.py"])

	byCommit, err := store.SnapshotByCommit(ctx, "c0ffee")
	require.NoError(t, err)
	require.Equal(t, snap.ID, byCommit.ID)
}

func TestLatestSnapshot(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	first := sampleSnapshot("one")
	first.CreatedAt = "2026-08-01T00:00:00Z"
	second := sampleSnapshot("two")
	second.CreatedAt = "2026-08-02T00:00:00Z"

	require.NoError(t, store.SaveSnapshot(ctx, first))
	require.NoError(t, store.SaveSnapshot(ctx, second))

	latest, err := store.LatestSnapshot(ctx)
	require.NoError(t, err)
	require.Equal(t, "two", latest.CommitID)

	infos, err := store.ListSnapshots(ctx, 10)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	require.Equal(t, "two", infos[0].CommitID)
}

func TestModelRoundTrip(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	m := &model.Model{
		SnapshotID:   "snap1",
		SnapshotHash: "hash1",
		RulesHash:    "rules1",
		SystemName:   "Shop",
		CreatedAt:    "2026-08-01T00:00:00Z",
		Nodes: []model.Node{{
			ID: model.SystemNodeID("Shop"), Name: "Shop", Level: model.LevelSystem, Kind: model.KindSystem,
		}},
	}
	m.ComputeContentHash()
	m.ID = facts.StableID("model", m.ContentHash)

	require.NoError(t, store.SaveModel(ctx, m))

	loaded, err := store.LoadModel(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, m.ContentHash, loaded.ContentHash)
	require.Equal(t, m.Nodes, loaded.Nodes)

	bySnap, err := store.ModelBySnapshot(ctx, "snap1")
	require.NoError(t, err)
	require.Equal(t, m.ID, bySnap.ID)

	latest, err := store.LatestModel(ctx)
	require.NoError(t, err)
	require.Equal(t, m.ID, latest.ID)
}

func TestNotFound(t *testing.T) {
	store := openStore(t)
	ctx := context.Background()

	_, err := store.LoadSnapshot(ctx, "missing")
	require.True(t, errors.Is(err, ErrNotFound))

	_, err = store.LatestModel(ctx)
	require.True(t, errors.Is(err, ErrNotFound))
}

// Package storage persists snapshots and models in a local SQLite database,
// so the watch service warm-starts from the latest snapshot and the diff and
// CI commands can address any previously recorded state.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"

	"archsync/internal/facts"
	"archsync/internal/model"
)

// ErrNotFound is returned when no matching snapshot or model exists.
var ErrNotFound = errors.New("storage: not found")

// Store is a SQLite-backed archive of snapshots and models.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open initializes the database at the given path, creating tables on first
// use.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS snapshots (
		snapshot_id  TEXT PRIMARY KEY,
		commit_id    TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		payload      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_snapshots_commit ON snapshots(commit_id);
	CREATE INDEX IF NOT EXISTS idx_snapshots_hash ON snapshots(content_hash);

	CREATE TABLE IF NOT EXISTS models (
		model_id     TEXT PRIMARY KEY,
		snapshot_id  TEXT NOT NULL,
		content_hash TEXT NOT NULL,
		rules_hash   TEXT NOT NULL,
		created_at   TEXT NOT NULL,
		payload      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_models_snapshot ON models(snapshot_id);
	CREATE INDEX IF NOT EXISTS idx_models_hash ON models(content_hash);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSnapshot stores a snapshot, replacing any previous row with the same
// id.
func (s *Store) SaveSnapshot(ctx context.Context, snap *facts.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshaling snapshot %s: %w", snap.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (snapshot_id, commit_id, content_hash, created_at, payload)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.ID, snap.CommitID, snap.ContentHash, snap.CreatedAt, string(payload))
	if err != nil {
		return fmt.Errorf("saving snapshot %s: %w", snap.ID, err)
	}
	return nil
}

// LoadSnapshot returns the snapshot with the given id.
func (s *Store) LoadSnapshot(ctx context.Context, id string) (*facts.Snapshot, error) {
	return s.querySnapshot(ctx,
		`SELECT payload FROM snapshots WHERE snapshot_id = ?`, id)
}

// SnapshotByCommit returns the most recent snapshot recorded for a commit.
func (s *Store) SnapshotByCommit(ctx context.Context, commitID string) (*facts.Snapshot, error) {
	return s.querySnapshot(ctx,
		`SELECT payload FROM snapshots WHERE commit_id = ? ORDER BY created_at DESC, snapshot_id DESC LIMIT 1`,
		commitID)
}

// LatestSnapshot returns the most recently created snapshot.
func (s *Store) LatestSnapshot(ctx context.Context) (*facts.Snapshot, error) {
	return s.querySnapshot(ctx,
		`SELECT payload FROM snapshots ORDER BY created_at DESC, snapshot_id DESC LIMIT 1`)
}

func (s *Store) querySnapshot(ctx context.Context, query string, args ...any) (*facts.Snapshot, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying snapshot: %w", err)
	}
	var snap facts.Snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, fmt.Errorf("decoding snapshot payload: %w", err)
	}
	return &snap, nil
}

// SaveModel stores a model, replacing any previous row with the same id.
func (s *Store) SaveModel(ctx context.Context, m *model.Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshaling model %s: %w", m.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO models (model_id, snapshot_id, content_hash, rules_hash, created_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.SnapshotID, m.ContentHash, m.RulesHash, m.CreatedAt, string(payload))
	if err != nil {
		return fmt.Errorf("saving model %s: %w", m.ID, err)
	}
	return nil
}

// LoadModel returns the model with the given id.
func (s *Store) LoadModel(ctx context.Context, id string) (*model.Model, error) {
	return s.queryModel(ctx, `SELECT payload FROM models WHERE model_id = ?`, id)
}

// ModelBySnapshot returns the most recent model built from a snapshot.
func (s *Store) ModelBySnapshot(ctx context.Context, snapshotID string) (*model.Model, error) {
	return s.queryModel(ctx,
		`SELECT payload FROM models WHERE snapshot_id = ? ORDER BY created_at DESC, model_id DESC LIMIT 1`,
		snapshotID)
}

// LatestModel returns the most recently created model.
func (s *Store) LatestModel(ctx context.Context) (*model.Model, error) {
	return s.queryModel(ctx,
		`SELECT payload FROM models ORDER BY created_at DESC, model_id DESC LIMIT 1`)
}

func (s *Store) queryModel(ctx context.Context, query string, args ...any) (*model.Model, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying model: %w", err)
	}
	var m model.Model
	if err := json.Unmarshal([]byte(payload), &m); err != nil {
		return nil, fmt.Errorf("decoding model payload: %w", err)
	}
	return &m, nil
}

// SnapshotInfo is one row of the snapshot listing.
type SnapshotInfo struct {
	ID          string `json:"snapshot_id"`
	CommitID    string `json:"commit_id"`
	ContentHash string `json:"content_hash"`
	CreatedAt   string `json:"created_at"`
}

// ListSnapshots returns up to limit snapshot descriptors, newest first.
func (s *Store) ListSnapshots(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT snapshot_id, commit_id, content_hash, created_at
		 FROM snapshots ORDER BY created_at DESC, snapshot_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var info SnapshotInfo
		if err := rows.Scan(&info.ID, &info.CommitID, &info.ContentHash, &info.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot row: %w", err)
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

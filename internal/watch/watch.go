// Package watch keeps the architecture model in sync with a source tree.
// It runs one pipeline pass at a time through a fixed state machine
// (idle, scanning, extracting, modeling, diffing, rendering) and reaches
// the error state only when the rules configuration itself goes bad.
// Filesystem bursts are debounced into a single pass.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"archsync/internal/config"
	"archsync/internal/diff"
	"archsync/internal/engine"
	"archsync/internal/facts"
	"archsync/internal/model"
	"archsync/internal/render"
	"archsync/internal/rules"
	"archsync/internal/storage"
)

// State names the watch service's position in the pipeline.
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateExtracting State = "extracting"
	StateModeling   State = "modeling"
	StateDiffing    State = "diffing"
	StateRendering  State = "rendering"
	StateError      State = "error"
)

// PassResult is the outcome of one pipeline pass.
type PassResult struct {
	NoChange      bool
	ChangedFiles  []string
	Snapshot      *facts.Snapshot
	Model         *model.Model
	Diff          *diff.Report
	Violations    []rules.Violation
	ImpactedViews []string
	Artifacts     []render.Artifact
}

// Options tunes a watch Service. Zero values get sensible defaults.
type Options struct {
	Debounce   time.Duration // settle window for bursts, default 500ms
	Poll       time.Duration // fallback rescan interval, default 30s, <0 disables
	OutputDir  string        // where rendered views land, empty skips writing
	ConfigPath string        // rules file to hot-reload, empty disables
	CommitID   string        // recorded on snapshots, default "working-tree"
	OnPass     func(*PassResult)
}

// Service owns the watch loop over one repository.
type Service struct {
	repoRoot string
	opts     Options
	log      *zap.Logger

	engine   *engine.Engine
	store    *storage.Store  // optional
	renderer *render.Service // optional

	mu       sync.Mutex
	cfg      *config.Config
	state    State
	prevSnap *facts.Snapshot
	prevMdl  *model.Model
	force    bool // rebuild even when no file changed (config reload)

	pendingMu sync.Mutex
	pending   map[string]time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// New builds a watch service. store and renderer may be nil; logger may
// be nil.
func New(cfg *config.Config, repoRoot string, store *storage.Store, renderer *render.Service, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	if opts.Poll == 0 {
		opts.Poll = 30 * time.Second
	}
	if opts.CommitID == "" {
		opts.CommitID = "working-tree"
	}
	return &Service{
		repoRoot: repoRoot,
		opts:     opts,
		log:      logger,
		engine:   engine.NewDefault(cfg, logger),
		store:    store,
		renderer: renderer,
		cfg:      cfg,
		state:    StateIdle,
		pending:  map[string]time.Time{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// State reports the current pipeline state.
func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.log.Debug("watch state", zap.String("state", string(st)))
}

// WarmStart seeds the previous snapshot and model from storage so the
// first pass after a restart is incremental.
func (s *Service) WarmStart(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	snap, err := s.store.LatestSnapshot(ctx)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}
	s.mu.Lock()
	s.prevSnap = snap
	s.mu.Unlock()

	mdl, err := s.store.LatestModel(ctx)
	if err != nil {
		if err == storage.ErrNotFound {
			return nil
		}
		return err
	}
	s.mu.Lock()
	s.prevMdl = mdl
	s.mu.Unlock()
	s.log.Info("warm start", zap.String("snapshot", snap.ID), zap.String("model", mdl.ID))
	return nil
}

// RunOnce executes a single pipeline pass: scan, extract, model, diff,
// evaluate, render. It is the unit the watch loop repeats and is also
// usable standalone for one-shot builds.
func (s *Service) RunOnce(ctx context.Context) (*PassResult, error) {
	s.mu.Lock()
	cfg := s.cfg
	eng := s.engine
	prevSnap := s.prevSnap
	prevMdl := s.prevMdl
	force := s.force
	s.force = false
	s.mu.Unlock()

	defer s.setState(StateIdle)

	s.setState(StateScanning)
	var changed []string
	if prevSnap != nil {
		var err error
		changed, err = eng.ChangedFiles(s.repoRoot, prevSnap)
		if err != nil {
			return nil, fmt.Errorf("watch scan: %w", err)
		}
		if len(changed) == 0 && !force {
			return &PassResult{NoChange: true, Snapshot: prevSnap, Model: prevMdl}, nil
		}
	}

	s.setState(StateExtracting)
	snap, err := eng.Extract(ctx, s.repoRoot, s.opts.CommitID, prevSnap)
	if err != nil {
		return nil, fmt.Errorf("watch extract: %w", err)
	}

	s.setState(StateModeling)
	mdl, err := model.Build(snap, cfg)
	if err != nil {
		return nil, fmt.Errorf("watch model: %w", err)
	}

	result := &PassResult{ChangedFiles: changed, Snapshot: snap, Model: mdl}

	if prevMdl != nil {
		s.setState(StateDiffing)
		result.Diff = diff.Diff(prevMdl, mdl)
	}
	result.Violations = rules.Evaluate(mdl, cfg)

	s.setState(StateRendering)
	if prevMdl != nil {
		result.ImpactedViews = ImpactedViews(mdl, prevMdl, changed)
	}
	if s.renderer != nil {
		arts, err := s.renderer.Render(ctx, mdl, result.ImpactedViews, s.opts.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("watch render: %w", err)
		}
		result.Artifacts = arts
	}

	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			return nil, fmt.Errorf("watch persist snapshot: %w", err)
		}
		if err := s.store.SaveModel(ctx, mdl); err != nil {
			return nil, fmt.Errorf("watch persist model: %w", err)
		}
	}

	// Publish only after the whole pass succeeded.
	s.mu.Lock()
	s.prevSnap = snap
	s.prevMdl = mdl
	s.mu.Unlock()

	s.log.Info("pass complete",
		zap.String("snapshot", snap.ID),
		zap.String("model", mdl.ID),
		zap.Int("changed_files", len(changed)),
		zap.Int("violations", len(result.Violations)),
		zap.Int("impacted_views", len(result.ImpactedViews)))
	return result, nil
}

// ImpactedViews is the union of the full ancestor lineages of every
// changed module, looked up in both the new and the previous model so
// deleted files still impact the views that used to contain them.
func ImpactedViews(current, previous *model.Model, changedFiles []string) []string {
	seen := map[string]bool{}
	for _, relPath := range changedFiles {
		id := facts.ModuleID(relPath)
		for _, mdl := range []*model.Model{current, previous} {
			if mdl == nil {
				continue
			}
			for _, anc := range mdl.Lineage(id) {
				if anc == id {
					continue // files are not views
				}
				seen[anc] = true
			}
		}
	}
	views := make([]string, 0, len(seen))
	for id := range seen {
		views = append(views, id)
	}
	sort.Strings(views)
	return views
}

// Start launches the watch loop in a goroutine. The loop runs until Stop
// is called or ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if err := s.addDirs(watcher); err != nil {
		watcher.Close()
		return err
	}
	if s.opts.ConfigPath != "" {
		if err := watcher.Add(filepath.Dir(s.opts.ConfigPath)); err != nil {
			s.log.Warn("cannot watch rules file", zap.Error(err))
		}
	}
	go s.run(ctx, watcher)
	return nil
}

// Stop shuts the loop down and waits for it to finish.
func (s *Service) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Service) run(ctx context.Context, watcher *fsnotify.Watcher) {
	defer close(s.doneCh)
	defer watcher.Close()

	settle := time.NewTicker(100 * time.Millisecond)
	defer settle.Stop()

	var poll <-chan time.Time
	if s.opts.Poll > 0 {
		ticker := time.NewTicker(s.opts.Poll)
		defer ticker.Stop()
		poll = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			s.handleEvent(watcher, event)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.log.Warn("watcher error", zap.Error(err))

		case <-poll:
			s.runPass(ctx)

		case <-settle.C:
			if s.takeSettled() {
				s.runPass(ctx)
			}
		}
	}
}

// handleEvent records a filesystem event for debounced processing and
// keeps the directory watch set current.
func (s *Service) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(s.repoRoot, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)

	if s.opts.ConfigPath != "" && sameFile(event.Name, s.opts.ConfigPath) {
		s.reloadConfig()
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if s.includedDir(rel) {
				_ = watcher.Add(event.Name)
			}
			return
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	s.mu.Lock()
	included := s.cfg.Included(rel)
	s.mu.Unlock()
	if !included {
		return
	}

	s.pendingMu.Lock()
	s.pending[rel] = time.Now()
	s.pendingMu.Unlock()
}

// takeSettled reports whether pending events have been quiet for the
// debounce window, clearing them when so. Events still arriving keep the
// whole batch pending, so a burst of saves yields one pass.
func (s *Service) takeSettled() bool {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	if len(s.pending) == 0 {
		return false
	}
	now := time.Now()
	for _, at := range s.pending {
		if now.Sub(at) < s.opts.Debounce {
			return false
		}
	}
	s.pending = map[string]time.Time{}
	return true
}

func (s *Service) runPass(ctx context.Context) {
	if s.State() == StateError {
		return // stay down until the configuration is fixed
	}
	result, err := s.RunOnce(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.Error("pass failed", zap.Error(err))
		return
	}
	if s.opts.OnPass != nil && !result.NoChange {
		s.opts.OnPass(result)
	}
}

// reloadConfig re-reads the rules file. A broken configuration parks the
// service in the error state; the next valid reload revives it.
func (s *Service) reloadConfig() {
	cfg, err := config.Load(s.opts.ConfigPath)
	if err != nil {
		s.log.Error("configuration invalid", zap.String("path", s.opts.ConfigPath), zap.Error(err))
		s.setState(StateError)
		return
	}
	s.mu.Lock()
	s.cfg = cfg
	s.engine = engine.NewDefault(cfg, s.log)
	s.force = true
	s.mu.Unlock()
	if s.renderer != nil {
		s.renderer.Invalidate()
	}
	s.setState(StateIdle)
	s.log.Info("configuration reloaded", zap.String("path", s.opts.ConfigPath))
	// Layer rules may classify differently now, schedule a pass.
	s.pendingMu.Lock()
	s.pending[s.opts.ConfigPath] = time.Now().Add(-s.opts.Debounce)
	s.pendingMu.Unlock()
}

// addDirs registers every included directory under the repo root.
func (s *Service) addDirs(watcher *fsnotify.Watcher) error {
	return filepath.WalkDir(s.repoRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(s.repoRoot, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if rel != "." && !s.includedDir(rel) {
			return fs.SkipDir
		}
		if err := watcher.Add(path); err != nil {
			return fmt.Errorf("watch %s: %w", path, err)
		}
		return nil
	})
}

func (s *Service) includedDir(rel string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !config.PathMatches(rel+"/", s.cfg.Exclude)
}

func sameFile(a, b string) bool {
	aa, err1 := filepath.Abs(a)
	bb, err2 := filepath.Abs(b)
	if err1 != nil || err2 != nil {
		return a == b
	}
	return aa == bb
}

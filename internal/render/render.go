// Package render turns a finalized architecture model into per-view
// artifacts. A view is one non-file node: the system, each layer, and
// each group get a diagram of their direct children and the dependencies
// among them. Untouched views are served from cache on incremental runs.
package render

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"archsync/internal/model"
)

// Artifact is one rendered view file.
type Artifact struct {
	Name    string `json:"name"`
	ViewID  string `json:"view_id"`
	Type    string `json:"type"`
	Content []byte `json:"-"`
	Cached  bool   `json:"cached"`
}

// Renderer produces one artifact for one view of a model.
type Renderer interface {
	// Name returns the renderer identifier (e.g. "mermaid").
	Name() string
	// RenderView produces the artifact for the given view node.
	RenderView(ctx context.Context, m *model.Model, viewID string) (*Artifact, error)
}

// Registry holds registered renderers.
type Registry struct {
	renderers []Renderer
}

// NewRegistry creates a new renderer registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a renderer to the registry.
func (r *Registry) Register(rnd Renderer) {
	r.renderers = append(r.renderers, rnd)
}

// Get returns the renderer with the given name, or nil if not found.
func (r *Registry) Get(name string) Renderer {
	for _, rnd := range r.renderers {
		if rnd.Name() == name {
			return rnd
		}
	}
	return nil
}

// All returns all registered renderers.
func (r *Registry) All() []Renderer {
	return r.renderers
}

// ViewIDs returns the ids of every view node of m, sorted.
func ViewIDs(m *model.Model) []string {
	var ids []string
	for _, n := range m.Nodes {
		if n.Level != model.LevelFile {
			ids = append(ids, n.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// Service renders views through all registered renderers, keeping a
// cache of artifacts so views outside the impacted set are not rebuilt.
type Service struct {
	registry *Registry
	log      *zap.Logger

	mu    sync.Mutex
	cache map[string]*Artifact // renderer name + "\x00" + view id
}

// NewService builds a render service. logger may be nil.
func NewService(registry *Registry, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{registry: registry, log: logger, cache: map[string]*Artifact{}}
}

// NewDefaultService returns a Service with the mermaid and markdown
// renderers registered.
func NewDefaultService(logger *zap.Logger) *Service {
	reg := NewRegistry()
	reg.Register(&MermaidRenderer{})
	reg.Register(&MarkdownRenderer{})
	return NewService(reg, logger)
}

// Render produces artifacts for every view of m. When impacted is
// non-nil, only views in that set are re-rendered and the rest come from
// cache (views never seen before are rendered regardless). A nil
// impacted set means a full render. Artifacts are written under outDir
// when it is non-empty.
func (s *Service) Render(ctx context.Context, m *model.Model, impacted []string, outDir string) ([]Artifact, error) {
	impactedSet := map[string]bool{}
	for _, id := range impacted {
		impactedSet[id] = true
	}
	full := impacted == nil

	var artifacts []Artifact
	rendered, fromCache := 0, 0

	for _, viewID := range ViewIDs(m) {
		for _, rnd := range s.registry.All() {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			key := rnd.Name() + "\x00" + viewID

			if !full && !impactedSet[viewID] {
				s.mu.Lock()
				cached, ok := s.cache[key]
				s.mu.Unlock()
				if ok {
					art := *cached
					art.Cached = true
					artifacts = append(artifacts, art)
					fromCache++
					continue
				}
			}

			art, err := rnd.RenderView(ctx, m, viewID)
			if err != nil {
				return nil, fmt.Errorf("render %s view %s: %w", rnd.Name(), viewID, err)
			}
			s.mu.Lock()
			s.cache[key] = art
			s.mu.Unlock()
			artifacts = append(artifacts, *art)
			rendered++
		}
	}

	if outDir != "" {
		if err := writeArtifacts(outDir, artifacts); err != nil {
			return nil, err
		}
	}
	s.log.Info("views rendered",
		zap.Int("rendered", rendered),
		zap.Int("cached", fromCache),
		zap.String("model", m.ID))
	return artifacts, nil
}

// Invalidate drops the whole cache, forcing the next render to rebuild
// every view. Used when the model is replaced wholesale.
func (s *Service) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = map[string]*Artifact{}
}

func writeArtifacts(dir string, artifacts []Artifact) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("render output dir: %w", err)
	}
	for _, art := range artifacts {
		path := filepath.Join(dir, art.Name)
		if err := os.WriteFile(path, art.Content, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", art.Name, err)
		}
	}
	return nil
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// viewFileName derives a stable file name for a view node.
func viewFileName(n *model.Node, ext string) string {
	var base string
	switch n.Level {
	case model.LevelSystem:
		base = "system"
	case model.LevelLayer:
		base = "layer-" + slug(n.Name)
	default:
		base = "group-" + slug(n.Layer) + "-" + slug(n.Name)
	}
	return base + "." + ext
}

func slug(s string) string {
	s = slugRe.ReplaceAllString(strings.ToLower(s), "-")
	return strings.Trim(s, "-")
}

// viewChildren returns the direct children of the view node, sorted by
// name then id.
func viewChildren(m *model.Model, viewID string) []*model.Node {
	var kids []*model.Node
	for i := range m.Nodes {
		if m.Nodes[i].ParentID == viewID {
			kids = append(kids, &m.Nodes[i])
		}
	}
	sort.Slice(kids, func(i, j int) bool {
		if kids[i].Name != kids[j].Name {
			return kids[i].Name < kids[j].Name
		}
		return kids[i].ID < kids[j].ID
	})
	return kids
}

// childEdge is a dependency between two children of the same view,
// rolled up from the model's group-level edges.
type childEdge struct {
	src, dst string
	kind     string
	count    int
}

// viewEdges rolls the model's edges up to the view's child level and
// keeps those whose both ends are children of the view.
func viewEdges(m *model.Model, viewID string, children []*model.Node) []childEdge {
	if len(children) == 0 {
		return nil
	}
	childLevel := children[0].Level
	member := map[string]bool{}
	for _, c := range children {
		member[c.ID] = true
	}

	// Group views roll from file edges, everything above from group edges.
	source := m.Edges
	if childLevel == model.LevelFile {
		source = m.FileEdges
	}

	agg := map[string]*childEdge{}
	for _, e := range source {
		src, okSrc := m.AncestorAt(e.SrcID, childLevel)
		dst, okDst := m.AncestorAt(e.DstID, childLevel)
		if !okSrc || !okDst || src.ID == dst.ID {
			continue
		}
		if !member[src.ID] || !member[dst.ID] {
			continue
		}
		key := src.ID + "\x00" + dst.ID + "\x00" + e.Kind
		if existing, ok := agg[key]; ok {
			existing.count += e.Count
			continue
		}
		agg[key] = &childEdge{src: src.ID, dst: dst.ID, kind: e.Kind, count: e.Count}
	}

	var out []childEdge
	for _, e := range agg {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].src != out[j].src {
			return out[i].src < out[j].src
		}
		if out[i].dst != out[j].dst {
			return out[i].dst < out[j].dst
		}
		return out[i].kind < out[j].kind
	})
	return out
}

func displayName(n *model.Node) string {
	if n.Label != "" {
		return n.Label
	}
	return n.Name
}

// Package enrich attaches human-readable labels and summaries to model
// nodes using an optional language-model provider. Enrichment is strictly
// additive metadata: it never changes the module, port, or edge sets, and
// a failing provider degrades to an unenriched model.
package enrich

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"archsync/internal/model"
)

// Draft is the material handed to a provider for one node.
type Draft struct {
	NodeID      string   `json:"node_id"`
	Name        string   `json:"name"`
	Kind        string   `json:"kind"`
	Layer       string   `json:"layer,omitempty"`
	Path        string   `json:"path,omitempty"`
	Children    []string `json:"children,omitempty"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
}

// Suggestion is a provider's proposed metadata for one node.
type Suggestion struct {
	NodeID  string `json:"node_id"`
	Label   string `json:"label,omitempty"`
	Summary string `json:"summary,omitempty"`
}

// Provider produces naming suggestions for a batch of drafts.
type Provider interface {
	Name() string
	Suggest(ctx context.Context, drafts []Draft) ([]Suggestion, error)
}

// NoopProvider returns no suggestions. Used when enrichment is disabled.
type NoopProvider struct{}

func (NoopProvider) Name() string { return "noop" }

func (NoopProvider) Suggest(ctx context.Context, drafts []Draft) ([]Suggestion, error) {
	return nil, nil
}

// Enricher drives one enrichment pass over a model. Call auditing lives in
// the provider, which sees the actual request and response payloads.
type Enricher struct {
	provider Provider
	log      *zap.Logger
}

// New builds an Enricher. logger may be nil.
func New(provider Provider, logger *zap.Logger) *Enricher {
	if provider == nil {
		provider = NoopProvider{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{provider: provider, log: logger}
}

// Enrich asks the provider for labels and summaries for the model's layer
// and group nodes and applies the valid suggestions in place. The returned
// error reports provider or application trouble; callers should log it and
// keep going, the model is usable either way.
func (e *Enricher) Enrich(ctx context.Context, m *model.Model) error {
	drafts := Drafts(m)
	if len(drafts) == 0 {
		return nil
	}

	suggestions, err := e.provider.Suggest(ctx, drafts)
	if err != nil {
		e.log.Warn("enrichment provider failed",
			zap.String("provider", e.provider.Name()),
			zap.Error(err))
		return fmt.Errorf("enrich: provider %s: %w", e.provider.Name(), err)
	}

	applied, err := Apply(m, suggestions)
	if err != nil {
		e.log.Warn("enrichment rejected", zap.Error(err))
		return err
	}
	e.log.Info("model enriched",
		zap.String("provider", e.provider.Name()),
		zap.Int("drafts", len(drafts)),
		zap.Int("applied", applied))
	return nil
}

// Drafts assembles enrichment drafts for the layer and group nodes of m.
// File nodes keep their extracted names and are listed as children of
// their group so the provider sees what each group contains.
func Drafts(m *model.Model) []Draft {
	children := make(map[string][]string)
	for _, n := range m.Nodes {
		if n.Level == model.LevelFile {
			children[n.ParentID] = append(children[n.ParentID], n.Path)
		}
	}

	var drafts []Draft
	for _, n := range m.Nodes {
		if n.Level != model.LevelLayer && n.Level != model.LevelGroup {
			continue
		}
		d := Draft{
			NodeID: n.ID,
			Name:   n.Name,
			Kind:   n.Kind,
			Layer:  n.Layer,
			Path:   n.Path,
		}
		if kids := children[n.ID]; len(kids) > 0 {
			sort.Strings(kids)
			d.Children = kids
		}
		drafts = append(drafts, d)
	}
	sort.Slice(drafts, func(i, j int) bool { return drafts[i].NodeID < drafts[j].NodeID })
	return drafts
}

// Apply attaches suggestions to m. A suggestion naming a node id that does
// not exist in the model is an error and nothing from that batch after it
// is applied. Only Label and Summary are touched.
func Apply(m *model.Model, suggestions []Suggestion) (int, error) {
	byID := make(map[string]*model.Node, len(m.Nodes))
	for i := range m.Nodes {
		byID[m.Nodes[i].ID] = &m.Nodes[i]
	}

	applied := 0
	for _, s := range suggestions {
		node, ok := byID[s.NodeID]
		if !ok {
			return applied, fmt.Errorf("enrich: suggestion for unknown node %q", s.NodeID)
		}
		if s.Label == "" && s.Summary == "" {
			continue
		}
		if s.Label != "" {
			node.Label = s.Label
		}
		if s.Summary != "" {
			node.Summary = s.Summary
		}
		applied++
	}
	return applied, nil
}

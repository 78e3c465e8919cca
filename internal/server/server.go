// Package server exposes the pipeline over MCP stdio so editors can
// extract snapshots, build models, diff revisions, and evaluate rules
// without shelling out to the CLI.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"archsync/internal/config"
	"archsync/internal/diff"
	"archsync/internal/engine"
	"archsync/internal/facts"
	"archsync/internal/gitutil"
	"archsync/internal/model"
	"archsync/internal/rules"
	"archsync/internal/storage"
)

// Server wraps the MCP server around the extraction and modeling pipeline.
type Server struct {
	mcp      *mcp.Server
	cfg      *config.Config
	repoRoot string
	store    *storage.Store // optional
	log      *zap.Logger

	mu         sync.Mutex
	snapshot   *facts.Snapshot
	model      *model.Model
	prevModel  *model.Model
	lastDiff   *diff.Report
	violations []rules.Violation
}

// New creates an MCP server for the given repository. store and logger
// may be nil.
func New(cfg *config.Config, repoRoot string, store *storage.Store, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	absRoot, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:      cfg,
		repoRoot: absRoot,
		store:    store,
		log:      logger,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{
		Name:    "archsync",
		Version: "0.1.0",
	}, nil)
	s.registerResources()
	s.registerTools()
	return s, nil
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("mcp server listening on stdio")
	return s.mcp.Run(ctx, &mcp.StdioTransport{})
}

// registerResources exposes the latest pipeline artifacts.
func (s *Server) registerResources() {
	s.mcp.AddResource(&mcp.Resource{
		URI:         "arch://snapshot/facts",
		Name:        "Snapshot Facts",
		Description: "Extracted facts of the latest snapshot in JSONL format",
		MIMEType:    "application/jsonl",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		s.mu.Lock()
		snap := s.snapshot
		s.mu.Unlock()
		if snap == nil {
			return nil, fmt.Errorf("no snapshot available, run the extract tool first")
		}
		var buf bytes.Buffer
		if err := snap.WriteJSONL(&buf); err != nil {
			return nil, err
		}
		return resourceText(req, buf.String(), "application/jsonl"), nil
	})

	s.mcp.AddResource(&mcp.Resource{
		URI:         "arch://model",
		Name:        "Architecture Model",
		Description: "Latest layered architecture model as JSON",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		s.mu.Lock()
		mdl := s.model
		s.mu.Unlock()
		if mdl == nil {
			return nil, fmt.Errorf("no model available, run the build_model tool first")
		}
		return jsonResource(req, mdl)
	})

	s.mcp.AddResource(&mcp.Resource{
		URI:         "arch://diff",
		Name:        "Model Diff",
		Description: "Structural diff between the two most recent models",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		s.mu.Lock()
		report := s.lastDiff
		s.mu.Unlock()
		if report == nil {
			return nil, fmt.Errorf("no diff available, run the diff_models tool first")
		}
		return jsonResource(req, report)
	})

	s.mcp.AddResource(&mcp.Resource{
		URI:         "arch://violations",
		Name:        "Rule Violations",
		Description: "Violations found by the last rule evaluation",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		s.mu.Lock()
		violations := s.violations
		s.mu.Unlock()
		if violations == nil {
			return nil, fmt.Errorf("no evaluation available, run the evaluate_rules tool first")
		}
		return jsonResource(req, violations)
	})
}

type extractArgs struct {
	RepoPath string `json:"repo_path,omitempty" jsonschema:"Repository to analyze. Defaults to the server's configured root."`
}

type diffArgs struct {
	BaseRef string `json:"base_ref,omitempty" jsonschema:"Git ref to diff the working tree against. Defaults to the previously built model."`
}

type evaluateArgs struct {
	FailOn string `json:"fail_on,omitempty" jsonschema:"Severity threshold for the gate verdict: low, medium, high, or critical"`
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "extract",
		Description: "Extract architectural facts from the repository into a content-addressed snapshot. Incremental when a previous snapshot exists.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args extractArgs) (*mcp.CallToolResult, any, error) {
		return s.handleExtract(ctx, args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "build_model",
		Description: "Build the layered architecture model (system, layers, groups, files) from the latest snapshot.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, any, error) {
		return s.handleBuild(ctx), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "diff_models",
		Description: "Diff the current model against the previous one, or against a git ref when base_ref is given.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args diffArgs) (*mcp.CallToolResult, any, error) {
		return s.handleDiff(ctx, args), nil, nil
	})

	mcp.AddTool(s.mcp, &mcp.Tool{
		Name:        "evaluate_rules",
		Description: "Evaluate layer-order, forbidden-dependency, and cycle rules against the current model and report the gate verdict.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, args evaluateArgs) (*mcp.CallToolResult, any, error) {
		return s.handleEvaluate(args), nil, nil
	})
}

func (s *Server) handleExtract(ctx context.Context, args extractArgs) *mcp.CallToolResult {
	root := s.repoRoot
	if args.RepoPath != "" {
		abs, err := filepath.Abs(args.RepoPath)
		if err != nil {
			return errorResult(fmt.Sprintf("invalid repo path: %v", err))
		}
		root = abs
	}

	s.mu.Lock()
	prev := s.snapshot
	s.mu.Unlock()

	eng := engine.NewDefault(s.cfg, s.log)
	snap, err := eng.Extract(ctx, root, gitutil.CurrentCommit(ctx, root), prev)
	if err != nil {
		return errorResult(fmt.Sprintf("extraction failed: %v", err))
	}

	s.mu.Lock()
	s.snapshot = snap
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			s.log.Warn("cannot persist snapshot", zap.Error(err))
		}
	}

	return textResult(fmt.Sprintf(
		"Snapshot %s extracted.\n\n- Commit: %s\n- Modules: %d\n- Edges: %d\n- Warnings: %d\n- Content hash: %s\n\nRead arch://snapshot/facts for the full fact set.",
		snap.ID, snap.CommitID, len(snap.Modules), len(snap.Edges), len(snap.Warnings), snap.ContentHash,
	))
}

func (s *Server) handleBuild(ctx context.Context) *mcp.CallToolResult {
	s.mu.Lock()
	snap := s.snapshot
	s.mu.Unlock()
	if snap == nil {
		return errorResult("No snapshot available. Run extract first.")
	}

	mdl, err := model.Build(snap, s.cfg)
	if err != nil {
		return errorResult(fmt.Sprintf("model build failed: %v", err))
	}

	s.mu.Lock()
	s.prevModel = s.model
	s.model = mdl
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.SaveModel(ctx, mdl); err != nil {
			s.log.Warn("cannot persist model", zap.Error(err))
		}
	}

	return textResult(fmt.Sprintf(
		"Model %s built from snapshot %s.\n\n- Nodes: %d\n- Ports: %d\n- Edges: %d (group), %d (file)\n- Content hash: %s\n\nRead arch://model for the full model.",
		mdl.ID, mdl.SnapshotID, len(mdl.Nodes), len(mdl.Ports), len(mdl.Edges), len(mdl.FileEdges), mdl.ContentHash,
	))
}

func (s *Server) handleDiff(ctx context.Context, args diffArgs) *mcp.CallToolResult {
	s.mu.Lock()
	head := s.model
	base := s.prevModel
	s.mu.Unlock()
	if head == nil {
		return errorResult("No model available. Run build_model first.")
	}

	if args.BaseRef != "" {
		var err error
		base, err = s.modelAtRef(ctx, args.BaseRef)
		if err != nil {
			return errorResult(fmt.Sprintf("cannot build base model at %s: %v", args.BaseRef, err))
		}
	}
	if base == nil {
		return errorResult("No base model. Build twice or pass base_ref.")
	}

	report := diff.Diff(base, head)
	s.mu.Lock()
	s.lastDiff = report
	s.mu.Unlock()

	if report.Empty() {
		return textResult("No structural changes between the two models.")
	}
	var buf bytes.Buffer
	if err := diff.WriteMarkdown(&buf, report, nil); err != nil {
		return errorResult(err.Error())
	}
	return textResult(buf.String())
}

func (s *Server) handleEvaluate(args evaluateArgs) *mcp.CallToolResult {
	s.mu.Lock()
	mdl := s.model
	s.mu.Unlock()
	if mdl == nil {
		return errorResult("No model available. Run build_model first.")
	}

	violations := rules.Evaluate(mdl, s.cfg)
	s.mu.Lock()
	s.violations = violations
	s.mu.Unlock()

	failOn := args.FailOn
	if failOn == "" {
		failOn = s.cfg.FailOn
	}

	var sb strings.Builder
	if len(violations) == 0 {
		sb.WriteString("No violations.\n")
	} else {
		fmt.Fprintf(&sb, "%d violation(s), highest severity %s.\n\n", len(violations), rules.MaxSeverity(violations))
		for _, v := range violations {
			fmt.Fprintf(&sb, "- **%s** [%s] %s\n", v.Rule, v.Severity, v.Message)
		}
	}
	if rules.Gate(violations, failOn) {
		fmt.Fprintf(&sb, "\nGate: FAIL (threshold %s)\n", failOn)
	} else {
		fmt.Fprintf(&sb, "\nGate: PASS (threshold %s)\n", failOn)
	}
	return textResult(sb.String())
}

// modelAtRef materializes a git ref into a scratch directory and runs a
// full extract and build over it.
func (s *Server) modelAtRef(ctx context.Context, ref string) (*model.Model, error) {
	scratch, err := scratchDir()
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(scratch)
	tree, err := gitutil.MaterializeRef(ctx, s.repoRoot, ref, scratch)
	if err != nil {
		return nil, err
	}

	commit, err := gitutil.ResolveRef(ctx, s.repoRoot, ref)
	if err != nil {
		return nil, err
	}
	eng := engine.NewDefault(s.cfg, s.log)
	snap, err := eng.Extract(ctx, tree, commit, nil)
	if err != nil {
		return nil, err
	}
	return model.Build(snap, s.cfg)
}

func scratchDir() (string, error) {
	return os.MkdirTemp("", "archsync-ref-")
}

func resourceText(req *mcp.ReadResourceRequest, text, mime string) *mcp.ReadResourceResult {
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{URI: req.Params.URI, Text: text, MIMEType: mime},
		},
	}
}

func jsonResource(req *mcp.ReadResourceRequest, v any) (*mcp.ReadResourceResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return resourceText(req, string(data), "application/json"), nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: msg},
		},
		IsError: true,
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"archsync/internal/config"
	"archsync/internal/engine"
	"archsync/internal/enrich"
	"archsync/internal/gitutil"
	"archsync/internal/model"
	"archsync/internal/render"
)

var (
	buildEnrich bool
	buildRender bool
	buildOut    string
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Extract and build the layered architecture model",
	Long: `Build runs extraction and assembles the layered model: system, layers,
module groups, and files, with collapsed ports and rolled-up dependency
edges. With --enrich, an LLM proposes labels and summaries for layers
and groups; enrichment never changes the model's structure.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root, err := absRepo()
		if err != nil {
			return err
		}
		store, err := openStore()
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
		}

		prev := previousSnapshot(cmd, store)
		eng := engine.NewDefault(cfg, logger)
		snap, err := eng.Extract(ctx, root, gitutil.CurrentCommit(ctx, root), prev)
		if err != nil {
			return err
		}
		mdl, err := model.Build(snap, cfg)
		if err != nil {
			return err
		}

		if buildEnrich || cfg.LLM.Enabled {
			if err := enrichModel(cmd, cfg, root, mdl); err != nil {
				logger.Warn("enrichment skipped", zap.Error(err))
			}
		}

		if store != nil {
			if err := store.SaveSnapshot(ctx, snap); err != nil {
				return err
			}
			if err := store.SaveModel(ctx, mdl); err != nil {
				return err
			}
		}

		if buildOut != "" {
			out := buildOut
			if !filepath.IsAbs(out) {
				out = filepath.Join(root, out)
			}
			if err := writeModelJSON(out, mdl); err != nil {
				return err
			}
			logger.Info("model written", zap.String("path", out))
		}
		if buildRender {
			outDir := filepath.Join(root, cfg.Output.Dir, "views")
			if _, err := render.NewDefaultService(logger).Render(ctx, mdl, nil, outDir); err != nil {
				return err
			}
			logger.Info("views rendered", zap.String("dir", outDir))
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"model %s\nnodes %d, ports %d, edges %d\ncontent hash %s\n",
			mdl.ID, len(mdl.Nodes), len(mdl.Ports), len(mdl.Edges), mdl.ContentHash)
		return nil
	},
}

// enrichModel wires the configured LLM provider with an audit log under
// the output directory.
func enrichModel(cmd *cobra.Command, cfg *config.Config, root string, mdl *model.Model) error {
	apiKey := cfg.LLM.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		return fmt.Errorf("no API key configured (set llm.api_key or GEMINI_API_KEY)")
	}

	audit, err := enrich.NewAuditLog(filepath.Join(root, cfg.Output.Dir, "enrich.audit.jsonl"))
	if err != nil {
		return err
	}
	provider, err := enrich.NewGenAIProvider(cmd.Context(), apiKey, cfg.LLM.Model, cfg.LLM.Temperature, audit)
	if err != nil {
		return err
	}
	return enrich.New(provider, logger).Enrich(cmd.Context(), mdl)
}

func writeModelJSON(path string, mdl *model.Model) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(mdl, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

func init() {
	buildCmd.Flags().BoolVar(&buildEnrich, "enrich", false, "attach LLM labels and summaries")
	buildCmd.Flags().BoolVar(&buildRender, "render", false, "write mermaid and markdown views")
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", filepath.Join(".archsync", "model.json"), "model JSON output path (empty disables)")
	rootCmd.AddCommand(buildCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"archsync/internal/config"
	"archsync/internal/diff"
	"archsync/internal/engine"
	"archsync/internal/gitutil"
	"archsync/internal/model"
	"archsync/internal/rules"
)

var (
	diffBase   string
	diffFormat string
)

var diffCmd = &cobra.Command{
	Use:   "diff",
	Short: "Diff the working tree's model against a git ref",
	Long: `Diff materializes the base ref into a scratch directory, builds a model
for it and for the working tree, and reports added, removed, and changed
modules, ports, and edges, including API surface changes. Rule
violations of the head model are included in the report.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root, err := absRepo()
		if err != nil {
			return err
		}

		report, violations, err := diffAgainstRef(cmd, cfg, root, diffBase)
		if err != nil {
			return err
		}

		switch diffFormat {
		case "json":
			return diff.WriteJSON(cmd.OutOrStdout(), report, violations)
		case "markdown", "md":
			return diff.WriteMarkdown(cmd.OutOrStdout(), report, violations)
		default:
			return fmt.Errorf("unknown format %q (want json or markdown)", diffFormat)
		}
	},
}

// diffAgainstRef builds models for baseRef and the working tree and
// returns their structural diff plus the head model's violations.
func diffAgainstRef(cmd *cobra.Command, cfg *config.Config, root, baseRef string) (*diff.Report, []rules.Violation, error) {
	ctx := cmd.Context()

	scratch, err := os.MkdirTemp("", "archsync-base-")
	if err != nil {
		return nil, nil, err
	}
	defer os.RemoveAll(scratch)

	baseTree, err := gitutil.MaterializeRef(ctx, root, baseRef, scratch)
	if err != nil {
		return nil, nil, err
	}
	baseCommit, err := gitutil.ResolveRef(ctx, root, baseRef)
	if err != nil {
		return nil, nil, err
	}

	eng := engine.NewDefault(cfg, logger)
	baseSnap, err := eng.Extract(ctx, baseTree, baseCommit, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("extract %s: %w", baseRef, err)
	}
	baseMdl, err := model.Build(baseSnap, cfg)
	if err != nil {
		return nil, nil, err
	}

	headSnap, err := eng.Extract(ctx, root, gitutil.CurrentCommit(ctx, root), nil)
	if err != nil {
		return nil, nil, fmt.Errorf("extract working tree: %w", err)
	}
	headMdl, err := model.Build(headSnap, cfg)
	if err != nil {
		return nil, nil, err
	}

	return diff.Diff(baseMdl, headMdl), rules.Evaluate(headMdl, cfg), nil
}

func init() {
	diffCmd.Flags().StringVar(&diffBase, "base", "HEAD", "git ref to diff against")
	diffCmd.Flags().StringVarP(&diffFormat, "format", "f", "markdown", "output format: markdown or json")
	rootCmd.AddCommand(diffCmd)
}

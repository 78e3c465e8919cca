package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"archsync/internal/engine"
	"archsync/internal/facts"
	"archsync/internal/gitutil"
	"archsync/internal/storage"
)

var extractOut string

var extractCmd = &cobra.Command{
	Use:   "extract",
	Short: "Extract architectural facts into a content-addressed snapshot",
	Long: `Extract walks the repository, runs the per-language extractors, and
produces a snapshot of modules, symbols, interfaces, and dependency edges.
When a previous snapshot exists in the database, unchanged files are
reused instead of re-parsed.`,
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

		if store != nil {
			if err := store.SaveSnapshot(ctx, snap); err != nil {
				return err
			}
		}
		if extractOut != "" {
			out := extractOut
			if !filepath.IsAbs(out) {
				out = filepath.Join(root, out)
			}
			if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
				return err
			}
			if err := snap.WriteJSONLFile(out); err != nil {
				return err
			}
			logger.Info("facts written", zap.String("path", out))
		}

		fmt.Fprintf(cmd.OutOrStdout(),
			"snapshot %s\ncommit %s\nmodules %d, edges %d, warnings %d\ncontent hash %s\n",
			snap.ID, snap.CommitID, len(snap.Modules), len(snap.Edges), len(snap.Warnings), snap.ContentHash)
		return nil
	},
}

// previousSnapshot loads the latest stored snapshot for incremental
// extraction, tolerating an empty database.
func previousSnapshot(cmd *cobra.Command, store *storage.Store) *facts.Snapshot {
	if store == nil {
		return nil
	}
	prev, err := store.LatestSnapshot(cmd.Context())
	if err != nil {
		if err != storage.ErrNotFound {
			logger.Warn("cannot load previous snapshot", zap.Error(err))
		}
		return nil
	}
	return prev
}

func init() {
	extractCmd.Flags().StringVarP(&extractOut, "out", "o", filepath.Join(".archsync", "facts.jsonl"), "facts JSONL output path (empty disables)")
	rootCmd.AddCommand(extractCmd)
}

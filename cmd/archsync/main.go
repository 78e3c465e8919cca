package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"archsync/internal/config"
	"archsync/internal/storage"
)

var (
	cfgPath  string
	repoPath string
	dbPath   string
	verbose  bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "archsync",
	Short: "archsync keeps a verifiable architecture model in sync with your source tree",
	Long: `archsync extracts architectural facts from a source tree, builds a
layered model out of them, and checks the model against dependency rules.
Snapshots are content addressed, extraction is incremental, and the watch
command keeps rendered views fresh as files change.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		zcfg.OutputPaths = []string{"stderr"}
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", filepath.Join(".archsync", "rules.yaml"), "rules file")
	rootCmd.PersistentFlags().StringVarP(&repoPath, "repo", "r", ".", "repository root")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "snapshot database (default <repo>/.archsync/archsync.db, \"none\" disables)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}

// loadConfig reads the rules file, falling back to defaults when it does
// not exist. A file that exists but fails to parse is fatal.
func loadConfig() (*config.Config, error) {
	path := cfgPath
	if !filepath.IsAbs(path) {
		path = filepath.Join(repoPath, cfgPath)
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Debug("no rules file, using defaults", zap.String("path", path))
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// openStore opens the snapshot database unless persistence is disabled.
func openStore() (*storage.Store, error) {
	path := dbPath
	switch path {
	case "none":
		return nil, nil
	case "":
		path = filepath.Join(repoPath, ".archsync", "archsync.db")
	}
	return storage.Open(path)
}

func absRepo() (string, error) {
	return filepath.Abs(repoPath)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

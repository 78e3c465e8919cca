package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"archsync/internal/render"
	"archsync/internal/watch"
)

var (
	watchDebounce time.Duration
	watchPoll     time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Keep the model and rendered views in sync with the source tree",
	Long: `Watch runs the extract, build, diff, evaluate, render pipeline once and
then repeats it whenever tracked files change. Changed files are
fingerprinted so unchanged facts are reused, and only the views whose
subtrees were touched are re-rendered. Editing the rules file reloads it
live; an invalid rules file parks the service until it is fixed.`,
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

		configPath := cfgPath
		if !filepath.IsAbs(configPath) {
			configPath = filepath.Join(root, cfgPath)
		}
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = ""
		}

		renderer := render.NewDefaultService(logger)
		svc := watch.New(cfg, root, store, renderer, logger, watch.Options{
			Debounce:   watchDebounce,
			Poll:       watchPoll,
			OutputDir:  filepath.Join(root, cfg.Output.Dir, "views"),
			ConfigPath: configPath,
			OnPass: func(r *watch.PassResult) {
				for _, v := range r.Violations {
					fmt.Fprintf(cmd.ErrOrStderr(), "violation [%s] %s: %s\n", v.Severity, v.Rule, v.Message)
				}
			},
		})

		if err := svc.WarmStart(ctx); err != nil {
			return err
		}
		// Initial pass before entering the loop.
		if _, err := svc.RunOnce(ctx); err != nil {
			return err
		}
		if err := svc.Start(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "watching", root, "(ctrl-c to stop)")

		<-ctx.Done()
		svc.Stop()
		return nil
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 500*time.Millisecond, "settle window for change bursts")
	watchCmd.Flags().DurationVar(&watchPoll, "poll", 30*time.Second, "fallback rescan interval (negative disables)")
	rootCmd.AddCommand(watchCmd)
}

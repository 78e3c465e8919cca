package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"archsync/internal/diff"
	"archsync/internal/rules"
)

var (
	ciBase   string
	ciFailOn string
	ciReport string
)

var ciCmd = &cobra.Command{
	Use:   "ci",
	Short: "Gate a change: diff against a base ref and fail on rule violations",
	Long: `Ci is the pipeline entry point for continuous integration. It diffs the
working tree against the base ref, evaluates the rules, writes a
markdown report, and exits non-zero when any violation reaches the
fail-on severity threshold.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		root, err := absRepo()
		if err != nil {
			return err
		}
		failOn := ciFailOn
		if failOn == "" {
			failOn = cfg.FailOn
		}

		report, violations, err := diffAgainstRef(cmd, cfg, root, ciBase)
		if err != nil {
			return err
		}

		if ciReport != "" {
			f, err := os.Create(ciReport)
			if err != nil {
				return err
			}
			defer f.Close()
			if err := diff.WriteMarkdown(f, report, violations); err != nil {
				return err
			}
		}

		out := cmd.OutOrStdout()
		if report.Empty() {
			fmt.Fprintln(out, "no structural changes")
		} else {
			fmt.Fprintf(out, "modules +%d -%d ~%d, ports +%d -%d, edges +%d -%d, api changes %d\n",
				len(report.AddedModules), len(report.RemovedModules), len(report.ChangedModules),
				len(report.AddedPorts), len(report.RemovedPorts),
				len(report.AddedEdges), len(report.RemovedEdges),
				len(report.APISurfaceChanges))
		}
		for _, v := range violations {
			fmt.Fprintf(out, "violation [%s] %s: %s\n", v.Severity, v.Rule, v.Message)
		}

		if rules.Gate(violations, failOn) {
			return fmt.Errorf("gate failed: severity %s reached threshold %s",
				rules.MaxSeverity(violations), failOn)
		}
		fmt.Fprintf(out, "gate passed (threshold %s)\n", failOn)
		return nil
	},
}

func init() {
	ciCmd.Flags().StringVar(&ciBase, "base", "HEAD", "git ref to diff against")
	ciCmd.Flags().StringVar(&ciFailOn, "fail-on", "", "severity threshold (default from rules file)")
	ciCmd.Flags().StringVar(&ciReport, "report", "", "write a markdown report to this path")
	rootCmd.AddCommand(ciCmd)
}

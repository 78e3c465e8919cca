package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const defaultRules = `# archsync rules
system_name: System
module_depth: 2

# layers:
#   - name: API
#     match: ["cmd/**", "api/**"]
#   - name: Domain
#     match: ["internal/**", "services/**"]
# default_layer: Misc

constraints:
  layer_order: []
  forbidden_dependencies: []
  cycle_severity: critical

fail_on: high
`

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter rules file into .archsync/",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := absRepo()
		if err != nil {
			return err
		}
		path := filepath.Join(root, ".archsync", "rules.yaml")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(path, []byte(defaultRules), 0o644); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "wrote", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

package main

import (
	"github.com/spf13/cobra"

	"archsync/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the pipeline over MCP stdio",
	Long: `Serve exposes extract, build_model, diff_models, and evaluate_rules as
MCP tools on the stdio transport, with the latest snapshot, model, diff,
and violations available as resources. Logs go to stderr; stdout is
reserved for the protocol.`,
	RunE: func(cmd *cobra.Command, args []string) error {
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

		srv, err := server.New(cfg, root, store, logger)
		if err != nil {
			return err
		}
		return srv.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

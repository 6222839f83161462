package main

import (
	"github.com/spf13/cobra"

	"github.com/DreamCats/ctxportal/cmd/ctxportal/internal"
	"github.com/DreamCats/ctxportal/internal/logging"
	"github.com/DreamCats/ctxportal/internal/mcpserver"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the MCP stdio server",
	Long: `Run an MCP server over stdio exposing the workspace as tools
(ctxportal_log_decision, ctxportal_semantic_search, ctxportal_rag_assist, ...).

Logs go to the log file only; stdio carries the protocol.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	logging.Info("MCP server starting", map[string]interface{}{
		"workspace": workspace,
		"provider":  p.Provider().Identity(),
	})
	return mcpserver.New(p, internal.Version).Run(cmd.Context())
}

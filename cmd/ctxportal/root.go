package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DreamCats/ctxportal/cmd/ctxportal/internal"
	"github.com/DreamCats/ctxportal/internal/config"
	"github.com/DreamCats/ctxportal/internal/logging"
	"github.com/DreamCats/ctxportal/internal/portal"
)

var (
	cfgFile      string
	workspaceDir string
	jsonOutput   bool

	cfg       *config.Config
	workspace string
	logger    *logging.Logger
)

var rootCmd = &cobra.Command{
	Use:   "ctxportal",
	Short: "Project memory with semantic retrieval",
	Long: `ctxportal records a project's decisions, progress, system patterns and
custom data in a workspace SQLite database, tags each with the current
lifecycle phase, and retrieves them by meaning.

Example usage:
  ctxportal decision log -s "Use SQLite" -r "single file deployment" -t storage
  ctxportal search "how do we store data"
  ctxportal rag "add login" --mode sparc-code-implementer
  ctxportal serve                        # MCP stdio server`,
	Version:       internal.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		workspace, err = internal.ResolveWorkspace(workspaceDir)
		if err != nil {
			return fmt.Errorf("failed to resolve workspace: %w", err)
		}

		if cmd.Name() == "init" {
			return nil
		}

		cfg, err = internal.LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		// stdout and stdin carry JSON-RPC under serve.
		logger, err = internal.SetupLogging(cfg, cmd.Name(), cmd.Name() != "serve")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to initialize log file: %v\n", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			logger.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ~/.ctxportal/config/ctxportal.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "workspace root (default is the enclosing git repository or current directory)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
}

// openPortal opens the workspace portal for the current command.
func openPortal(ctx context.Context) (*portal.Portal, error) {
	p, err := portal.Open(ctx, cfg, workspace)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// warnRefresh reports a stale embedding on stderr. The record itself was
// saved, so the command still succeeds.
func warnRefresh(err error) error {
	var refreshErr *portal.RefreshError
	if errors.As(err, &refreshErr) {
		fmt.Fprintf(os.Stderr, "Warning: %v\nRun `ctxportal rebuild` once the provider is reachable.\n", refreshErr)
		return nil
	}
	return err
}

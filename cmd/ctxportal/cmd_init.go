package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/DreamCats/ctxportal/cmd/ctxportal/internal"
	"github.com/DreamCats/ctxportal/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config template and create the workspace database",
	Long: `Write the default configuration file if none exists, then create the
workspace database and seed the lifecycle phases.`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	path, err := internal.ConfigPath(cfgFile)
	if err != nil {
		return err
	}
	created, err := config.WriteDefaultTemplate(path)
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(os.Stderr, "Created default config at %s\n", path)
	}

	cfg, err = config.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	phase, err := p.CurrentPhase(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("Workspace: %s\n", workspace)
	fmt.Printf("Database:  %s\n", p.DB().Path())
	fmt.Printf("Phase:     %s\n", phase)
	if created {
		internal.PrintConfigHint(path)
	}
	return nil
}

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/DreamCats/ctxportal/internal/progress"
)

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Import a markdown memory bank",
	Long: `Import decisions, progress, patterns and custom data from a memory-bank
directory (default: memory_bank.dir from the config, relative to the workspace).

Layout:
  context/*-decisions.md    - summary; rationale; (tag, tag)
  context/*-patterns.md     ## name, then the description
  context/**/*.json         one record per top-level key, category = file name
  phases/*-status.md        - [status] description`,
	Args: cobra.MaximumNArgs(1),
	RunE: runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export [dir]",
	Short: "Export the workspace to a markdown memory bank",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(importCmd, exportCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	stop := progress.StartSpinner(!jsonOutput && progress.DefaultEnabled(), "Importing memory bank")
	report, err := p.ImportMemoryBank(cmd.Context(), dirArg(args))
	stop()
	if err := warnRefresh(err); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(report)
	}
	fmt.Printf("Imported %d records: %d decisions, %d progress, %d patterns, %d custom data\n",
		report.Total(), len(report.Decisions), len(report.Progress), len(report.Patterns), len(report.CustomData))
	for _, f := range report.Skipped {
		fmt.Printf("  skipped %s\n", f)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	stop := progress.StartSpinner(!jsonOutput && progress.DefaultEnabled(), "Exporting memory bank")
	report, err := p.ExportMemoryBank(cmd.Context(), dirArg(args))
	stop()
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(report)
	}
	if len(report.Files) == 0 {
		fmt.Println("Nothing to export.")
		return nil
	}
	for _, f := range report.Files {
		fmt.Printf("wrote %s\n", f)
	}
	return nil
}

func dirArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

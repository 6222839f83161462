package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/DreamCats/ctxportal/internal/progress"
	"github.com/DreamCats/ctxportal/internal/store"
)

var rebuildNoProgress bool

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Re-embed every record under the configured provider",
	Long: `Refit the lexical vocabulary (tfidf provider) over the whole corpus and
re-embed every record. Run after switching providers or models.`,
	Args: cobra.NoArgs,
	RunE: runRebuild,
}

func init() {
	rootCmd.AddCommand(rebuildCmd)
	rebuildCmd.Flags().BoolVar(&rebuildNoProgress, "no-progress", false, "disable the progress bar")
}

func runRebuild(cmd *cobra.Command, args []string) error {
	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	p.SetProgress(progress.New(!rebuildNoProgress && !jsonOutput && progress.DefaultEnabled(), "embedding"))

	report, err := p.RebuildEmbeddings(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(report)
	}

	fmt.Printf("Provider: %s\n", report.Provider)
	for _, kind := range store.AllKinds {
		if msg, failed := report.Failed[kind]; failed {
			fmt.Printf("  %-16s FAILED: %s\n", kind, msg)
			continue
		}
		if n, ok := report.Succeeded[kind]; ok {
			fmt.Printf("  %-16s %6d\n", kind, n)
		}
	}
	if report.Cancelled {
		fmt.Println("Rebuild cancelled; remaining kinds were not embedded.")
	}
	fmt.Printf("Completed in %v\n", report.Duration.Round(time.Millisecond))
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d item types failed to embed", len(report.Failed))
	}
	return nil
}

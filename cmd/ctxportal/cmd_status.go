package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/DreamCats/ctxportal/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record and embedding counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	st, err := p.Status(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(st)
	}

	fmt.Println("Workspace Status")
	fmt.Println()
	fmt.Printf("Database:        %s (%d bytes)\n", st.Database, st.SizeBytes)
	fmt.Printf("Current phase:   %s\n", st.CurrentPhase)
	fmt.Printf("Provider:        %s (dimension %d)\n", st.Provider, st.Dimension)
	if !st.Fitted {
		fmt.Println("                 vocabulary not fitted; run `ctxportal rebuild`")
	}
	fmt.Println()
	for _, kind := range store.AllKinds {
		fmt.Printf("%-16s %6d\n", kind+":", st.Items[kind])
	}

	fmt.Println()
	fmt.Println("Embeddings:")
	if len(st.Embeddings) == 0 {
		fmt.Println("  none")
	}
	models := make([]string, 0, len(st.Embeddings))
	for m := range st.Embeddings {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		marker := " "
		if m == st.Provider {
			marker = "*"
		}
		fmt.Printf(" %s %-30s %6d\n", marker, m, st.Embeddings[m])
	}
	return nil
}

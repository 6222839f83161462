package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DreamCats/ctxportal/internal/retrieval"
)

var (
	ragMode string
	ragTopK int
)

var ragCmd = &cobra.Command{
	Use:   "rag <query>",
	Short: "Retrieve a context block for a task",
	Long: `Search the record kinds relevant to a working mode and print the hits as a
numbered context block ready to paste into a prompt.

Modes: ` + strings.Join(retrieval.Modes(), ", ") + `
Any other mode searches every kind.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRAG,
}

func init() {
	rootCmd.AddCommand(ragCmd)
	ragCmd.Flags().StringVarP(&ragMode, "mode", "m", "", "working mode")
	ragCmd.Flags().IntVarP(&ragTopK, "top-k", "k", 0, "number of results (default from config)")
}

func runRAG(cmd *cobra.Command, args []string) error {
	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	resp, err := p.RAGAssist(cmd.Context(), strings.Join(args, " "), ragMode, ragTopK)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}
	if resp.Context == "" {
		fmt.Println("No relevant context found.")
		return nil
	}
	fmt.Print(resp.Context)
	return nil
}

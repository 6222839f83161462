package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/DreamCats/ctxportal/internal/retrieval"
	"github.com/DreamCats/ctxportal/internal/store"
)

var (
	searchTopK  int
	searchTypes []string
	searchMin   float64
)

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Semantic search over stored records",
	Long: `Rank decisions, progress, patterns and custom data by cosine similarity
to the query under the configured embedding provider.

Examples:
  ctxportal search "authentication tokens"
  ctxportal search "storage" --type decisions --type system_patterns -k 10
  ctxportal search "retry policy" --min-similarity 0 --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
	searchCmd.Flags().IntVarP(&searchTopK, "top-k", "k", 0, "number of results (default from config)")
	searchCmd.Flags().StringSliceVarP(&searchTypes, "type", "t", nil, "restrict to item types: decisions, progress, system_patterns, custom_data")
	searchCmd.Flags().Float64Var(&searchMin, "min-similarity", 0, "drop results below this score (default from config)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := strings.Join(args, " ")

	kinds := make([]store.ItemKind, 0, len(searchTypes))
	for _, t := range searchTypes {
		k, err := store.ParseKind(strings.TrimSpace(t))
		if err != nil {
			return err
		}
		kinds = append(kinds, k)
	}

	req := retrieval.SearchRequest{Query: query, TopK: searchTopK, Kinds: kinds}
	if cmd.Flags().Changed("min-similarity") {
		req.MinSimilarity = &searchMin
	}

	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	resp, err := p.SemanticSearch(cmd.Context(), req)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(resp)
	}

	if len(resp.Results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	fmt.Printf("Found %d results for: %s (provider %s)\n\n", len(resp.Results), query, resp.Provider)
	for i, r := range resp.Results {
		fmt.Printf("--- [%d] %s #%d (score: %.3f, phase: %s) ---\n", i+1, r.Kind, r.ID, r.Score, r.Phase)
		fmt.Println(truncate(r.Text, 500))
		fmt.Println()
	}
	return nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}

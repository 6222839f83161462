package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	decisionSummary   string
	decisionRationale string
	decisionTags      []string
)

var decisionCmd = &cobra.Command{
	Use:   "decision",
	Short: "Record decisions",
}

var decisionLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Record a decision",
	Long: `Record a decision stamped with the current phase and embed it.

Example:
  ctxportal decision log -s "Use SQLite" -r "single file deployment" -t storage -t ops`,
	Args: cobra.NoArgs,
	RunE: runDecisionLog,
}

func init() {
	rootCmd.AddCommand(decisionCmd)
	decisionCmd.AddCommand(decisionLogCmd)
	decisionLogCmd.Flags().StringVarP(&decisionSummary, "summary", "s", "", "one-line summary (required)")
	decisionLogCmd.Flags().StringVarP(&decisionRationale, "rationale", "r", "", "why the decision was made")
	decisionLogCmd.Flags().StringSliceVarP(&decisionTags, "tag", "t", nil, "tag (repeatable)")
	decisionLogCmd.MarkFlagRequired("summary")
}

func runDecisionLog(cmd *cobra.Command, args []string) error {
	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	id, err := p.LogDecision(cmd.Context(), decisionSummary, decisionRationale, decisionTags)
	if err := warnRefresh(err); err != nil {
		return err
	}
	return printID("decision", id)
}

func printID(kind string, id int64) error {
	if jsonOutput {
		return printJSON(map[string]int64{"id": id})
	}
	fmt.Printf("Logged %s #%d\n", kind, id)
	return nil
}

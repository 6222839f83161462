package main

import (
	"github.com/spf13/cobra"
)

var (
	patternName        string
	patternDescription string
	patternTags        []string
)

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Record system patterns",
}

var patternLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Record a system pattern",
	Args:  cobra.NoArgs,
	RunE:  runPatternLog,
}

func init() {
	rootCmd.AddCommand(patternCmd)
	patternCmd.AddCommand(patternLogCmd)
	patternLogCmd.Flags().StringVarP(&patternName, "name", "n", "", "pattern name (required)")
	patternLogCmd.Flags().StringVarP(&patternDescription, "description", "d", "", "what the pattern is and where it applies")
	patternLogCmd.Flags().StringSliceVarP(&patternTags, "tag", "t", nil, "tag (repeatable)")
	patternLogCmd.MarkFlagRequired("name")
}

func runPatternLog(cmd *cobra.Command, args []string) error {
	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	id, err := p.LogPattern(cmd.Context(), patternName, patternDescription, patternTags)
	if err := warnRefresh(err); err != nil {
		return err
	}
	return printID("pattern", id)
}

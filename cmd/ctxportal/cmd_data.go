package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

var dataCmd = &cobra.Command{
	Use:   "data",
	Short: "Record custom key/value data",
}

var dataSetCmd = &cobra.Command{
	Use:   "set <category> <key> <value>",
	Short: "Store a value under category/key",
	Long: `Store a value under category/key. A value that parses as JSON is stored as
that JSON; anything else is stored as a string.

Examples:
  ctxportal data set glossary WAL "write-ahead log"
  ctxportal data set limits api '{"qps": 100}'`,
	Args: cobra.ExactArgs(3),
	RunE: runDataSet,
}

func init() {
	rootCmd.AddCommand(dataCmd)
	dataCmd.AddCommand(dataSetCmd)
}

func runDataSet(cmd *cobra.Command, args []string) error {
	var value any = args[2]
	if raw := json.RawMessage(args[2]); json.Valid(raw) {
		value = raw
	}

	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	id, err := p.LogCustomData(cmd.Context(), args[0], args[1], value)
	if err := warnRefresh(err); err != nil {
		return err
	}
	return printID("custom data", id)
}

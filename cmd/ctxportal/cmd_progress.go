package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/DreamCats/ctxportal/internal/store"
)

var (
	progressDescription string
	progressStatus      string
	progressParent      int64

	updateDescription string
	updateStatus      string
	updateParent      int64
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Record and update progress entries",
}

var progressLogCmd = &cobra.Command{
	Use:   "log",
	Short: "Record a progress entry",
	Args:  cobra.NoArgs,
	RunE:  runProgressLog,
}

var progressUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change the status, description or parent of a progress entry",
	Long: `Change the given fields of a progress entry and re-embed it.

Example:
  ctxportal progress update 12 --status DONE`,
	Args: cobra.ExactArgs(1),
	RunE: runProgressUpdate,
}

func init() {
	rootCmd.AddCommand(progressCmd)
	progressCmd.AddCommand(progressLogCmd, progressUpdateCmd)

	progressLogCmd.Flags().StringVarP(&progressDescription, "description", "d", "", "task description (required)")
	progressLogCmd.Flags().StringVarP(&progressStatus, "status", "s", "TODO", "status")
	progressLogCmd.Flags().Int64Var(&progressParent, "parent", 0, "parent progress id")
	progressLogCmd.MarkFlagRequired("description")

	progressUpdateCmd.Flags().StringVarP(&updateDescription, "description", "d", "", "new description")
	progressUpdateCmd.Flags().StringVarP(&updateStatus, "status", "s", "", "new status")
	progressUpdateCmd.Flags().Int64Var(&updateParent, "parent", 0, "new parent progress id")
}

func runProgressLog(cmd *cobra.Command, args []string) error {
	var parent *int64
	if cmd.Flags().Changed("parent") {
		parent = &progressParent
	}

	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	id, err := p.LogProgress(cmd.Context(), progressDescription, progressStatus, parent)
	if err := warnRefresh(err); err != nil {
		return err
	}
	return printID("progress", id)
}

func runProgressUpdate(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid progress id %q", args[0])
	}

	var update store.ProgressUpdate
	if cmd.Flags().Changed("status") {
		update.Status = &updateStatus
	}
	if cmd.Flags().Changed("description") {
		update.Description = &updateDescription
	}
	if cmd.Flags().Changed("parent") {
		update.ParentID = &updateParent
	}

	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	if err := warnRefresh(p.UpdateProgress(cmd.Context(), id, update)); err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]any{"id": id, "updated": true})
	}
	fmt.Printf("Updated progress #%d\n", id)
	return nil
}

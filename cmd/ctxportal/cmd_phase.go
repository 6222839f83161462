package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var phaseDeliverables string

var phaseCmd = &cobra.Command{
	Use:   "phase",
	Short: "Show the lifecycle phases",
	Args:  cobra.NoArgs,
	RunE:  runPhase,
}

var phaseTransitionCmd = &cobra.Command{
	Use:   "transition",
	Short: "Complete the current phase and activate the next one",
	Args:  cobra.NoArgs,
	RunE:  runPhaseTransition,
}

func init() {
	rootCmd.AddCommand(phaseCmd)
	phaseCmd.AddCommand(phaseTransitionCmd)
	phaseTransitionCmd.Flags().StringVarP(&phaseDeliverables, "deliverables", "d", "", "deliverables note for the completed phase")
}

func runPhase(cmd *cobra.Command, args []string) error {
	p, err := openPortal(cmd.Context())
	if err != nil {
		return err
	}
	defer p.Close()

	phases, err := p.ListPhases(cmd.Context())
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(phases)
	}

	for _, ph := range phases {
		line := fmt.Sprintf("%2d. %-18s %-9s", ph.Position+1, ph.Name, ph.Status)
		if ph.CompletionDate != nil {
			line += " " + ph.CompletionDate.Format("2006-01-02")
		}
		if ph.Deliverables != "" {
			line += "  " + ph.Deliverables
		}
		fmt.Println(line)
	}
	return nil
}

func runPhaseTransition(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	p, err := openPortal(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	current, err := p.CurrentPhase(ctx)
	if err != nil {
		return err
	}
	if phaseDeliverables != "" {
		if err := p.SetPhaseDeliverables(ctx, current, phaseDeliverables); err != nil {
			return err
		}
	}
	next, err := p.TransitionToNextPhase(ctx)
	if err != nil {
		return err
	}
	if jsonOutput {
		return printJSON(map[string]string{"completed": current, "current_phase": next})
	}
	fmt.Printf("Completed %s; current phase is now %s\n", current, next)
	return nil
}

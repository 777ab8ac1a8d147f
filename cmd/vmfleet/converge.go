package main

import (
	"context"
	"fmt"

	"vmfleet/cmd/vmfleet/ui"
	"vmfleet/fleet"

	"github.com/spf13/cobra"
)

func upCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "up [machine...]",
		Short: "Create and start the configured machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFleet(cmd.Context(), func(ctx context.Context, f *fleet.Fleet) error {
				if !a.dryRun {
					if err := a.preflight(ctx, f); err != nil {
						return err
					}
				}
				p, err := f.Up(ctx, args, a.dryRun)
				if printErr := a.printPlan(p); printErr != nil && err == nil {
					err = printErr
				}
				return err
			})
		},
	}
}

func haltCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "halt [machine...]",
		Short: "Stop running machines",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFleet(cmd.Context(), func(ctx context.Context, f *fleet.Fleet) error {
				p, err := f.Halt(ctx, args, force, a.dryRun)
				if printErr := a.printPlan(p); printErr != nil && err == nil {
					err = printErr
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Power off without asking the guest to shut down")
	return cmd
}

func destroyCmd(a *app) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "destroy [machine...]",
		Short: "Remove machines, their disks, and their state records",
		Long: "Remove machines, their disks, and their state records.\n\n" +
			"Only resources this tool created are ever touched: a resource must be\n" +
			"recorded in the state file, carry the expected metadata marker, and\n" +
			"match the derived naming scheme before it is destroyed.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFleet(cmd.Context(), func(ctx context.Context, f *fleet.Fleet) error {
				if !a.dryRun && !yes && !a.jsonOut {
					preview, err := f.Destroy(ctx, args, true)
					if err != nil {
						return err
					}
					if preview.Summary.Destroy > 0 &&
						!ui.Confirm("destroy %d machine(s) in project %s?",
							preview.Summary.Destroy, f.Project().Name) {
						fmt.Println(ui.Muted("aborted"))
						return nil
					}
				}

				p, err := f.Destroy(ctx, args, a.dryRun)
				if printErr := a.printPlan(p); printErr != nil && err == nil {
					err = printErr
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "Skip the confirmation prompt")
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"vmfleet/cmd/vmfleet/ui"
	"vmfleet/fleet"

	"github.com/spf13/cobra"
)

func checkpointCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Manage machine checkpoints",
	}
	cmd.AddCommand(
		checkpointCreateCmd(a),
		checkpointRestoreCmd(a),
		checkpointListCmd(a),
	)
	return cmd
}

func checkpointCreateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "create <machine> <name>",
		Short: "Take a checkpoint of one machine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFleet(cmd.Context(), func(ctx context.Context, f *fleet.Fleet) error {
				if err := f.Checkpoint(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Println(ui.SuccessMsg("checkpoint %s of %s created", ui.Bold(args[1]), args[0]))
				return nil
			})
		},
	}
}

func checkpointRestoreCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "restore <machine> <name>",
		Short: "Roll one machine back to a checkpoint",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFleet(cmd.Context(), func(ctx context.Context, f *fleet.Fleet) error {
				if err := f.RestoreCheckpoint(ctx, args[0], args[1]); err != nil {
					return err
				}
				fmt.Println(ui.SuccessMsg("%s restored to %s", args[0], ui.Bold(args[1])))
				return nil
			})
		},
	}
}

func checkpointListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <machine>",
		Short: "List the recorded checkpoints of one machine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withFleet(cmd.Context(), func(ctx context.Context, f *fleet.Fleet) error {
				cps, err := f.Checkpoints(args[0])
				if err != nil {
					return err
				}
				if a.jsonOut {
					return json.NewEncoder(os.Stdout).Encode(cps)
				}

				rows := make([][]string, 0, len(cps))
				for _, cp := range cps {
					rows = append(rows, []string{cp.Name, cp.ID, cp.CreatedAt.Local().Format(time.DateTime)})
				}
				fmt.Println(ui.Table([]string{"NAME", "ID", "CREATED"}, rows))
				return nil
			})
		},
	}
}

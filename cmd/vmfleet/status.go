package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"vmfleet/cmd/vmfleet/ui"
	"vmfleet/config"
	"vmfleet/fleet"
	"vmfleet/internal/journal"

	"github.com/spf13/cobra"
)

func statusCmd(a *app) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show desired, recorded, and observed state per machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("history") {
				return a.printHistory(cmd.Context(), history)
			}
			return a.withFleet(cmd.Context(), func(ctx context.Context, f *fleet.Fleet) error {
				statuses, err := f.Status(ctx)
				if err != nil {
					return err
				}
				if a.jsonOut {
					return json.NewEncoder(os.Stdout).Encode(statuses)
				}

				fmt.Print(ui.KeyValues("",
					ui.KV("project", ui.Accent(f.Project().Name)),
					ui.KV("platform", a.platform),
					ui.KV("config", ui.Muted(f.Project().Path)),
				))
				rows := make([][]string, 0, len(statuses))
				for _, s := range statuses {
					state := ui.Muted("-")
					if s.Observed {
						state = ui.State(s.State)
					}
					rows = append(rows, []string{
						s.Name, s.DerivedName,
						ui.Mark(s.Desired), ui.Mark(s.Persisted), ui.Mark(s.Observed),
						state, strconv.Itoa(s.Checkpoints),
					})
				}
				fmt.Println(ui.Table(
					[]string{"MACHINE", "NAME", "DESIRED", "RECORDED", "OBSERVED", "STATE", "CHECKPOINTS"},
					rows,
				))
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&history, "history", 20, "Show the last N executed actions instead")
	return cmd
}

func (a *app) printHistory(ctx context.Context, limit int) error {
	project, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	j, err := journal.Open(journalPath(project))
	if err != nil {
		return fmt.Errorf("open action journal: %w", err)
	}
	defer func() { _ = j.Close() }()

	entries, err := j.History(ctx, project.Name, limit)
	if err != nil {
		return err
	}
	if a.jsonOut {
		return json.NewEncoder(os.Stdout).Encode(entries)
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		outcome := ui.SuccessStyle.Render(e.Outcome)
		if e.Outcome != "completed" {
			outcome = ui.ErrorStyle.Render(e.Outcome)
		}
		rows = append(rows, []string{
			e.At.Local().Format(time.DateTime), e.Machine, e.Kind, outcome, e.Error,
		})
	}
	fmt.Println(ui.Table([]string{"TIME", "MACHINE", "ACTION", "OUTCOME", "ERROR"}, rows))
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"vmfleet/cmd/vmfleet/ui"
	"vmfleet/config"
	"vmfleet/fleet"
	"vmfleet/internal/actuator"
	"vmfleet/internal/journal"
	"vmfleet/internal/plan"
	"vmfleet/internal/reconcile"
	"vmfleet/platform/containervm"
	"vmfleet/platform/hyperv"
)

// app carries the global flag state shared by every subcommand.
type app struct {
	configPath        string
	platform          string
	debug             bool
	jsonOut           bool
	dryRun            bool
	continueOnFailure bool
}

func (a *app) newActuator() (actuator.Actuator, error) {
	switch a.platform {
	case "hyperv":
		return hyperv.New(), nil
	case "docker":
		return containervm.New()
	default:
		return nil, fmt.Errorf("unknown platform %q (want hyperv or docker)", a.platform)
	}
}

// withFleet loads the config, wires the platform and journal, and hands a
// ready Fleet to fn. The journal is best-effort: a failure to open it is
// logged, never fatal.
func (a *app) withFleet(ctx context.Context, fn func(context.Context, *fleet.Fleet) error) error {
	project, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	act, err := a.newActuator()
	if err != nil {
		return err
	}

	tel := ui.NewTelemetryOutput()
	defer tel.Close()

	opts := []fleet.Option{
		fleet.WithContinueOnFailure(a.continueOnFailure),
		fleet.WithTracer(tel.Tracer("vmfleet/fleet")),
	}

	j, err := journal.Open(journalPath(project))
	if err != nil {
		slog.Warn("Action journal unavailable.", "err", err)
	} else {
		defer func() { _ = j.Close() }()
		opts = append(opts, fleet.WithAuditor(j))
	}
	if !a.jsonOut {
		opts = append(opts, fleet.WithEvents(progressSink{}))
	}

	err = fn(ctx, fleet.New(project, act, opts...))
	if fleet.StateCorrupt(err) {
		return fmt.Errorf("%w\nthe state file is unreadable; repair or remove it by hand, it is never overwritten automatically", err)
	}
	return err
}

func journalPath(project *config.Project) string {
	return filepath.Join(filepath.Dir(project.Path), ".vmfleet", "journal.db")
}

// preflight probes the environment on the production platform. The docker
// emulation pulls images on demand and needs no host checks.
func (a *app) preflight(ctx context.Context, f *fleet.Fleet) error {
	if a.platform != "hyperv" {
		return nil
	}
	return f.Preflight(ctx)
}

// progressSink renders reconcile events as they happen.
type progressSink struct{}

func (progressSink) ReconcileEvent(e reconcile.Event) {
	verb := string(e.Action.Kind())
	switch e.Kind {
	case reconcile.EventStarting:
		fmt.Println(ui.InfoMsg("%s %s", verb, ui.Bold(e.Action.Machine())))
	case reconcile.EventCompleted:
		fmt.Println(ui.SuccessMsg("%s %s", verb, e.Action.Machine()))
	case reconcile.EventFailed:
		fmt.Println(ui.ErrorMsg("%s %s: %v", verb, e.Action.Machine(), e.Err))
	}
}

// printPlan reports the outcome of one converge invocation.
func (a *app) printPlan(p plan.Plan) error {
	if a.jsonOut {
		return json.NewEncoder(os.Stdout).Encode(struct {
			DryRun  bool         `json:"dryRun"`
			Summary plan.Summary `json:"summary"`
		}{a.dryRun, p.Summary})
	}

	if a.dryRun {
		for _, action := range p.Actions {
			fmt.Println(ui.InfoMsg("would %s %s %s", action.Kind(),
				ui.Bold(action.Machine()), ui.Muted("("+action.DerivedName()+")")))
		}
	}
	fmt.Println(ui.Muted(summaryLine(p.Summary)))
	return nil
}

func summaryLine(s plan.Summary) string {
	parts := []struct {
		label string
		n     int
	}{
		{"create", s.Create}, {"start", s.Start}, {"stop", s.Stop},
		{"destroy", s.Destroy}, {"checkpoint", s.Checkpoint},
		{"restore", s.Restore}, {"unchanged", s.Unchanged},
	}
	line := ""
	for _, p := range parts {
		if p.n == 0 {
			continue
		}
		if line != "" {
			line += ", "
		}
		line += fmt.Sprintf("%s %d", p.label, p.n)
	}
	if line == "" {
		return "nothing to do"
	}
	return line
}

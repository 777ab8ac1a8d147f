// Package fleet is the aggregate that drives one project's convergence
// cycle: preflight, observe, plan, verify, apply, persist.
//
// A Fleet owns exactly one Store; nothing here is safe for concurrent use
// against the same project file. Collaborators are injected via options
// for tests.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vmfleet"
	"vmfleet/config"
	"vmfleet/internal/actuator"
	"vmfleet/internal/naming"
	"vmfleet/internal/plan"
	"vmfleet/internal/preflight"
	"vmfleet/internal/reconcile"
	"vmfleet/internal/state"
	"vmfleet/internal/telemetry"

	"go.opentelemetry.io/otel/trace"
)

// Fleet converges one project's machines toward the desired configuration.
type Fleet struct {
	project *config.Project
	act     actuator.Actuator

	store  *state.Store
	clock  reconcile.Clock
	events reconcile.EventSink
	audit  reconcile.Auditor
	tracer trace.Tracer

	continueOnFailure bool
	stopWait          time.Duration
}

// Option configures a Fleet. Use these to inject test dependencies.
type Option func(*Fleet)

// WithStore overrides the default ledger location.
func WithStore(s *state.Store) Option {
	return func(f *Fleet) { f.store = s }
}

// WithClock injects a clock.
func WithClock(c reconcile.Clock) Option {
	return func(f *Fleet) { f.clock = c }
}

// WithEvents sets the progress event sink.
func WithEvents(sink reconcile.EventSink) Option {
	return func(f *Fleet) { f.events = sink }
}

// WithAuditor sets the action-history recorder.
func WithAuditor(a reconcile.Auditor) Option {
	return func(f *Fleet) { f.audit = a }
}

// WithTracer enables operation telemetry.
func WithTracer(t trace.Tracer) Option {
	return func(f *Fleet) { f.tracer = t }
}

// WithContinueOnFailure keeps applying remaining actions after a failure.
func WithContinueOnFailure(v bool) Option {
	return func(f *Fleet) { f.continueOnFailure = v }
}

// WithStopWait bounds the graceful-stop wait.
func WithStopWait(d time.Duration) Option {
	return func(f *Fleet) { f.stopWait = d }
}

// New creates a Fleet for project driven through act.
func New(project *config.Project, act actuator.Actuator, opts ...Option) *Fleet {
	f := &Fleet{
		project: project,
		act:     act,
		clock:   reconcile.RealClock{},
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.store == nil {
		f.store = state.New(project.StatePath())
	}
	return f
}

// Preflight verifies the environment. Callers run it once before the first
// mutating operation of an invocation.
func (f *Fleet) Preflight(ctx context.Context) error {
	return preflight.Run(ctx, f.act, f.project)
}

// loadOrCreate brings the ledger into memory. A corrupt ledger propagates
// as *state.CorruptError and is never recreated.
func (f *Fleet) loadOrCreate() error {
	if f.store.Loaded() {
		return nil
	}
	if !f.store.Exists() {
		f.store.Create(f.project.Name, f.project.Path, f.project.Hash)
		return nil
	}
	if err := f.store.Load(); err != nil {
		return err
	}
	if doc := f.store.Document(); doc.ConfigHash != f.project.Hash {
		slog.Debug("Config changed since last run.", "project", f.project.Name)
		if err := f.store.SetConfigIdentity(f.project.Path, f.project.Hash); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fleet) planOptions(machines []string) plan.Options {
	return plan.Options{
		Project:    f.project.Name,
		ConfigPath: f.project.Path,
		AutoStart:  f.project.AutoStart,
		Machines:   machines,
	}
}

func (f *Fleet) reconciler(events reconcile.EventSink) *reconcile.Reconciler {
	return reconcile.New(f.act, f.store, reconcile.Config{
		ConfigPath:        f.project.Path,
		ArtifactDir:       f.project.ArtifactDir,
		Events:            events,
		Audit:             f.audit,
		Clock:             f.clock,
		ContinueOnFailure: f.continueOnFailure,
		StopWait:          f.stopWait,
	})
}

// apply executes a plan with telemetry around the whole operation and each
// action.
func (f *Fleet) apply(ctx context.Context, operation string, p plan.Plan, observed []vmfleet.ObservedResource) error {
	op, err := telemetry.StartOperation(ctx, f.tracer, operation, p.Summary)
	if err != nil {
		return err
	}

	tap := &spanEvents{op: op, next: f.events}
	applyErr := f.reconciler(tap).Apply(op.Context(), p, observed)
	op.End(applyErr)
	return applyErr
}

// Up converges the desired machines: creates what is missing, starts what
// is stopped (when auto_start is on). machines narrows the sweep; dryRun
// plans without applying.
func (f *Fleet) Up(ctx context.Context, machines []string, dryRun bool) (plan.Plan, error) {
	if err := f.loadOrCreate(); err != nil {
		return plan.Plan{}, err
	}
	observed, err := f.act.Observe(ctx)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("observe platform: %w", err)
	}

	p := plan.Up(f.project.Machines, f.store.Document(), observed, f.planOptions(machines))
	if dryRun || len(p.Actions) == 0 {
		return p, nil
	}
	return p, f.apply(ctx, "fleet.up", p, observed)
}

// Halt stops every managed machine that is running.
func (f *Fleet) Halt(ctx context.Context, machines []string, force, dryRun bool) (plan.Plan, error) {
	if err := f.loadOrCreate(); err != nil {
		return plan.Plan{}, err
	}
	observed, err := f.act.Observe(ctx)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("observe platform: %w", err)
	}

	opts := f.planOptions(machines)
	opts.Force = force
	p := plan.Halt(f.store.Document(), observed, opts)
	if dryRun || len(p.Actions) == 0 {
		return p, nil
	}
	return p, f.apply(ctx, "fleet.halt", p, observed)
}

// Destroy tears down managed resources, prunes ledger records whose
// resources already vanished, and removes the ledger file once the last
// resource is gone.
func (f *Fleet) Destroy(ctx context.Context, machines []string, dryRun bool) (plan.Plan, error) {
	if err := f.loadOrCreate(); err != nil {
		return plan.Plan{}, err
	}
	observed, err := f.act.Observe(ctx)
	if err != nil {
		return plan.Plan{}, fmt.Errorf("observe platform: %w", err)
	}

	opts := f.planOptions(machines)
	p := plan.Destroys(f.store.Document(), observed, opts)
	if dryRun {
		return p, nil
	}

	if len(p.Actions) > 0 {
		if err := f.apply(ctx, "fleet.destroy", p, observed); err != nil {
			return p, err
		}
	}

	if err := f.pruneVanished(observed, opts); err != nil {
		return p, err
	}
	if f.store.Exists() && f.store.Loaded() && f.store.Len() == 0 {
		if err := f.store.Delete(); err != nil {
			return p, err
		}
		slog.Info("Last resource destroyed, ledger removed.", "project", f.project.Name)
	}
	return p, nil
}

// pruneVanished drops ledger records whose platform resources no longer
// exist. The planner deliberately leaves this to the caller.
func (f *Fleet) pruneVanished(observed []vmfleet.ObservedResource, opts plan.Options) error {
	byName := make(map[string]bool, len(observed))
	for _, o := range observed {
		byName[o.Name] = true
	}

	pruned := false
	for _, rec := range f.store.ListResources() {
		if byName[rec.Name] {
			continue
		}
		if len(opts.Machines) > 0 && !contains(opts.Machines, rec.MachineName) {
			continue
		}
		if _, _, err := f.store.RemoveResource(rec.MachineName); err != nil {
			return err
		}
		slog.Debug("Pruned stale record.", "machine", rec.MachineName)
		pruned = true
	}
	if pruned {
		return f.store.Save()
	}
	return nil
}

// Checkpoint snapshots one managed machine under the given name.
func (f *Fleet) Checkpoint(ctx context.Context, machine, name string) error {
	rec, err := f.managedResource(machine)
	if err != nil {
		return err
	}
	if _, exists := f.store.Checkpoint(machine, name); exists {
		return fmt.Errorf("machine %q already has a checkpoint named %q", machine, name)
	}

	p := plan.Plan{}
	p.Actions = append(p.Actions, plan.Checkpoint{MachineName: machine, Name: rec.Name, CheckpointName: name})
	p.Summary.Checkpoint = 1
	return f.apply(ctx, "fleet.checkpoint", p, nil)
}

// RestoreCheckpoint rolls one managed machine back to a named checkpoint.
func (f *Fleet) RestoreCheckpoint(ctx context.Context, machine, name string) error {
	rec, err := f.managedResource(machine)
	if err != nil {
		return err
	}
	if _, exists := f.store.Checkpoint(machine, name); !exists {
		return fmt.Errorf("machine %q has no checkpoint named %q", machine, name)
	}

	p := plan.Plan{}
	p.Actions = append(p.Actions, plan.Restore{MachineName: machine, Name: rec.Name, CheckpointName: name})
	p.Summary.Restore = 1
	return f.apply(ctx, "fleet.restore", p, nil)
}

// Checkpoints lists the recorded checkpoints of one managed machine.
func (f *Fleet) Checkpoints(machine string) ([]state.CheckpointRecord, error) {
	rec, err := f.managedResource(machine)
	if err != nil {
		return nil, err
	}
	return rec.Checkpoints, nil
}

func (f *Fleet) managedResource(machine string) (state.ResourceRecord, error) {
	if err := f.loadOrCreate(); err != nil {
		return state.ResourceRecord{}, err
	}
	rec, ok := f.store.Resource(machine)
	if !ok {
		return state.ResourceRecord{}, fmt.Errorf("machine %q has no managed resource; run up first", machine)
	}
	return rec, nil
}

// Status merges desired, persisted, and observed state per machine. It never
// mutates anything.
func (f *Fleet) Status(ctx context.Context) ([]vmfleet.MachineStatus, error) {
	if f.store.Exists() && !f.store.Loaded() {
		if err := f.store.Load(); err != nil {
			return nil, err
		}
	}
	observed, err := f.act.Observe(ctx)
	if err != nil {
		return nil, fmt.Errorf("observe platform: %w", err)
	}
	byName := make(map[string]vmfleet.ObservedResource, len(observed))
	for _, o := range observed {
		byName[o.Name] = o
	}

	var out []vmfleet.MachineStatus
	seen := make(map[string]bool)

	for _, spec := range f.project.Machines {
		seen[spec.Name] = true
		st := vmfleet.MachineStatus{Name: spec.Name, Desired: true}
		if rec, ok := f.store.Resource(spec.Name); ok {
			st.Persisted = true
			st.DerivedName = rec.Name
			st.PlatformID = rec.PlatformID
			st.Checkpoints = len(rec.Checkpoints)
		} else {
			st.DerivedName = deriveNameFor(f.project, spec.Name)
		}
		if obs, ok := byName[st.DerivedName]; ok {
			st.Observed = true
			st.State = obs.State
			if st.PlatformID == "" {
				st.PlatformID = obs.PlatformID
			}
		}
		out = append(out, st)
	}

	// Records for machines dropped from the desired config.
	for _, rec := range f.store.ListResources() {
		if seen[rec.MachineName] {
			continue
		}
		st := vmfleet.MachineStatus{
			Name:        rec.MachineName,
			DerivedName: rec.Name,
			Persisted:   true,
			PlatformID:  rec.PlatformID,
			Checkpoints: len(rec.Checkpoints),
		}
		if obs, ok := byName[rec.Name]; ok {
			st.Observed = true
			st.State = obs.State
		}
		out = append(out, st)
	}
	return out, nil
}

// Project returns the desired configuration this fleet converges toward.
func (f *Fleet) Project() *config.Project { return f.project }

// StateCorrupt reports whether err is a corrupt-ledger condition.
func StateCorrupt(err error) bool {
	var corrupt *state.CorruptError
	return errors.As(err, &corrupt)
}

func deriveNameFor(p *config.Project, machine string) string {
	return naming.DeriveName(p.Name, machine, p.Path)
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// spanEvents forwards reconcile events and maintains one child span per
// in-flight action. Safe because execution is strictly sequential.
type spanEvents struct {
	op   *telemetry.Operation
	next reconcile.EventSink
	end  func(error)
}

func (s *spanEvents) ReconcileEvent(e reconcile.Event) {
	switch e.Kind {
	case reconcile.EventStarting:
		_, s.end = s.op.StartAction(string(e.Action.Kind()), e.Action.Machine())
	case reconcile.EventCompleted:
		if s.end != nil {
			s.end(nil)
			s.end = nil
		}
	case reconcile.EventFailed:
		if s.end != nil {
			s.end(e.Err)
			s.end = nil
		}
	}
	if s.next != nil {
		s.next.ReconcileEvent(e)
	}
}

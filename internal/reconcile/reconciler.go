// Package reconcile executes a planned action list against the actuator,
// strictly one action at a time.
//
// The invariants live here: the ownership verifier runs synchronously
// before every destroy, and the ledger is saved after every state-changing
// step, so a crash between two actions loses at most the in-flight action.
// There is no rollback; the next planning cycle observes whatever landed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"vmfleet"
	"vmfleet/internal/actuator"
	"vmfleet/internal/naming"
	"vmfleet/internal/ownership"
	"vmfleet/internal/plan"
	"vmfleet/internal/state"
)

const (
	// defaultStopWait is 30s: the platform's guest shutdown grace period.
	defaultStopWait = 30 * time.Second
	// stopPollInterval is 1s: coarse enough to not hammer the platform,
	// fine enough to notice shutdown promptly.
	stopPollInterval = 1 * time.Second
)

// ActionError wraps an actuator failure with the offending action.
type ActionError struct {
	Action plan.Action
	Err    error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Action.Kind(), e.Action.Machine(), e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// OwnershipError reports a destroy blocked by the ownership gate. It is
// never produced after a side effect: a failed verdict means nothing was
// touched.
type OwnershipError struct {
	Name    string
	Verdict ownership.Verdict
}

func (e *OwnershipError) Error() string {
	return fmt.Sprintf("ownership verification failed for %s: %s", e.Name, e.Verdict.Reason)
}

// Config carries the reconciler's collaborators and policy.
type Config struct {
	// ConfigPath is the absolute project config path; it seeds ownership
	// verification and the markers stamped on created resources.
	ConfigPath string
	// ArtifactDir is where created disk artifacts land.
	ArtifactDir string

	// Events receives per-action progress. Optional.
	Events EventSink
	// Audit records executed actions. Optional.
	Audit Auditor
	// Clock defaults to RealClock.
	Clock Clock

	// ContinueOnFailure keeps executing remaining actions after a failure,
	// aggregating errors, instead of halting the batch.
	ContinueOnFailure bool
	// StopWait bounds the graceful-stop wait before the forced fallback.
	StopWait time.Duration
}

// Reconciler drives one plan to completion against the actuator.
type Reconciler struct {
	act   actuator.Actuator
	store *state.Store
	cfg   Config
}

// New creates a Reconciler. act and store are required.
func New(act actuator.Actuator, store *state.Store, cfg Config) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	if cfg.StopWait <= 0 {
		cfg.StopWait = defaultStopWait
	}
	return &Reconciler{act: act, store: store, cfg: cfg}
}

// Apply executes the plan's actions in planner-emitted order. observed is
// the snapshot the plan was computed from; destroys verify ownership
// against it. Returns the aggregated action errors, or the first error if
// the batch halted.
func (r *Reconciler) Apply(ctx context.Context, p plan.Plan, observed []vmfleet.ObservedResource) error {
	byName := make(map[string]vmfleet.ObservedResource, len(observed))
	for _, o := range observed {
		byName[o.Name] = o
	}

	var errs []error
	for _, a := range p.Actions {
		r.emit(Event{Kind: EventStarting, Action: a})

		err := r.execute(ctx, a, byName)
		r.audit(ctx, a, err)
		if err != nil {
			err = &ActionError{Action: a, Err: err}
			r.emit(Event{Kind: EventFailed, Action: a, Err: err})
			errs = append(errs, err)
			if !r.cfg.ContinueOnFailure {
				break
			}
			continue
		}
		r.emit(Event{Kind: EventCompleted, Action: a})
	}
	return errors.Join(errs...)
}

// execute dispatches one action. The type switch is exhaustive over the
// sealed plan.Action variants; an unknown variant is a programming error.
func (r *Reconciler) execute(ctx context.Context, a plan.Action, observed map[string]vmfleet.ObservedResource) error {
	switch a := a.(type) {
	case plan.Create:
		return r.create(ctx, a)
	case plan.Start:
		return r.act.Start(ctx, a.Name)
	case plan.Stop:
		return r.stop(ctx, a)
	case plan.Destroy:
		return r.destroy(ctx, a, observed)
	case plan.Checkpoint:
		return r.checkpoint(ctx, a)
	case plan.Restore:
		return r.act.RestoreSnapshot(ctx, a.Name, a.CheckpointName)
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind())
	}
}

func (r *Reconciler) create(ctx context.Context, a plan.Create) error {
	res, err := r.act.Create(ctx, actuator.CreateSpec{
		Name:         a.Name,
		CPU:          a.Spec.CPU,
		MemoryMB:     a.Spec.MemoryMB,
		BaseImage:    a.Spec.BaseImage,
		DiskStrategy: a.Spec.DiskStrategy,
		ArtifactDir:  r.cfg.ArtifactDir,
		Note:         naming.DeriveMarker(r.cfg.ConfigPath),
	})
	if err != nil {
		return err
	}

	// Overwrites an orphaned record if one existed for this machine.
	if err := r.store.AddResource(a.MachineName, state.ResourceRecord{
		PlatformID: res.PlatformID,
		Name:       a.Name,
		DiskPath:   res.DiskPath,
		CreatedAt:  r.cfg.Clock.Now().UTC(),
	}); err != nil {
		return err
	}
	return r.store.Save()
}

// stop requests a graceful shutdown and waits up to StopWait for the guest
// to power off, then falls back to a forced stop. A forced stop in the plan
// payload skips the graceful path entirely.
func (r *Reconciler) stop(ctx context.Context, a plan.Stop) error {
	if a.Force {
		return r.act.Stop(ctx, a.Name, true)
	}

	if err := r.act.Stop(ctx, a.Name, false); err != nil {
		return err
	}

	deadline := r.cfg.Clock.Now().Add(r.cfg.StopWait)
	for r.cfg.Clock.Now().Before(deadline) {
		running, err := r.stillRunning(ctx, a.Name)
		if err != nil {
			return err
		}
		if !running {
			return nil
		}
		if err := r.cfg.Clock.Sleep(ctx, stopPollInterval); err != nil {
			return err
		}
	}

	slog.Warn("Graceful stop deadline passed, forcing.", "machine", a.MachineName, "wait", r.cfg.StopWait)
	return r.act.Stop(ctx, a.Name, true)
}

func (r *Reconciler) stillRunning(ctx context.Context, name string) (bool, error) {
	snapshot, err := r.act.Observe(ctx)
	if err != nil {
		return false, fmt.Errorf("observe during stop wait: %w", err)
	}
	for _, o := range snapshot {
		if o.Name == name {
			return o.State == vmfleet.StateRunning, nil
		}
	}
	return false, nil
}

// destroy is the only destructive dispatch. The triple-check gate runs
// first; a failed verdict produces zero side effects.
func (r *Reconciler) destroy(ctx context.Context, a plan.Destroy, observed map[string]vmfleet.ObservedResource) error {
	var obs *vmfleet.ObservedResource
	if o, ok := observed[a.Name]; ok {
		obs = &o
	}

	verdict := ownership.Verify(a.Name, r.store.Document(), obs, r.cfg.ConfigPath)
	if !verdict.Owned {
		return &OwnershipError{Name: a.Name, Verdict: verdict}
	}

	if err := r.act.Destroy(ctx, a.Name); err != nil {
		return err
	}

	// The platform object is the state of record; disk cleanup is
	// best-effort and never fails the action.
	if a.DiskPath != "" {
		if err := r.act.RemoveDisk(ctx, a.DiskPath); err != nil {
			slog.Warn("Disk cleanup failed.", "machine", a.MachineName, "disk", a.DiskPath, "err", err)
		}
	}

	if _, _, err := r.store.RemoveResource(a.MachineName); err != nil {
		return err
	}
	return r.store.Save()
}

func (r *Reconciler) checkpoint(ctx context.Context, a plan.Checkpoint) error {
	id, err := r.act.Snapshot(ctx, a.Name, a.CheckpointName)
	if err != nil {
		return err
	}
	if err := r.store.AddCheckpoint(a.MachineName, state.CheckpointRecord{
		ID:        id,
		Name:      a.CheckpointName,
		CreatedAt: r.cfg.Clock.Now().UTC(),
	}); err != nil {
		return err
	}
	return r.store.Save()
}

func (r *Reconciler) emit(e Event) {
	if r.cfg.Events != nil {
		r.cfg.Events.ReconcileEvent(e)
	}
	if e.Err != nil {
		slog.Debug("reconcile event", "kind", e.Kind, "action", e.Action.Kind(), "machine", e.Action.Machine(), "err", e.Err)
		return
	}
	slog.Debug("reconcile event", "kind", e.Kind, "action", e.Action.Kind(), "machine", e.Action.Machine())
}

func (r *Reconciler) audit(ctx context.Context, a plan.Action, actionErr error) {
	if r.cfg.Audit == nil {
		return
	}
	entry := AuditEntry{
		Machine: a.Machine(),
		Kind:    string(a.Kind()),
		Outcome: "completed",
		At:      r.cfg.Clock.Now().UTC(),
	}
	if doc := r.store.Document(); doc != nil {
		entry.Project = doc.Project
	}
	if actionErr != nil {
		entry.Outcome = "failed"
		entry.Error = actionErr.Error()
	}
	if err := r.cfg.Audit.RecordAction(ctx, entry); err != nil {
		slog.Warn("Audit record failed.", "machine", entry.Machine, "action", entry.Kind, "err", err)
	}
}

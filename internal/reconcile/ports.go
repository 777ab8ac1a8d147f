package reconcile

import (
	"context"
	"time"

	"vmfleet/internal/plan"
)

// Clock abstracts time for deterministic tests of the bounded stop wait.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done, returning ctx.Err() in the
	// latter case.
	Sleep(ctx context.Context, d time.Duration) error
}

// RealClock implements Clock with the system clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// EventKind is the lifecycle stage of one action.
type EventKind string

const (
	EventStarting  EventKind = "starting"
	EventCompleted EventKind = "completed"
	EventFailed    EventKind = "failed"
)

// Event is a progress notification for one action.
type Event struct {
	Kind   EventKind
	Action plan.Action
	Err    error // set only for EventFailed
}

// EventSink receives progress events. The reconciler performs no output of
// its own; the caller decides how events are rendered.
type EventSink interface {
	ReconcileEvent(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) ReconcileEvent(e Event) { f(e) }

// AuditEntry is one executed action, recorded for history.
type AuditEntry struct {
	Project string
	Machine string
	Kind    string
	Outcome string
	Error   string
	At      time.Time
}

// Auditor persists executed actions. Audit failures are logged, never
// propagated; history is advisory.
type Auditor interface {
	RecordAction(ctx context.Context, e AuditEntry) error
}

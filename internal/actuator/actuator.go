// Package actuator defines the boundary to the virtualization platform:
// the command surface the reconciler drives, and the small fixed error
// taxonomy every implementation must classify into.
//
// Implementations live under platform; the engine never knows how a command
// is carried out, only that it resolves, fails with a classified error, or
// times out.
package actuator

import (
	"context"
	"errors"
	"fmt"

	"vmfleet"
)

// ErrorKind classifies actuator failures. The set is fixed: callers switch
// on it for reporting and never see raw platform errors.
type ErrorKind uint8

const (
	KindExecutionFailed ErrorKind = iota
	KindNotFound
	KindAccessDenied
	KindUnavailable
	KindTimedOut
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not-found"
	case KindAccessDenied:
		return "access-denied"
	case KindUnavailable:
		return "unavailable"
	case KindTimedOut:
		return "timed-out"
	default:
		return "execution-failed"
	}
}

// Error is a classified actuator failure. Op names the failed command.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err as a classified actuator error.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsKind reports whether err is an actuator error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

// IsNotFound reports whether err is a not-found actuator error.
func IsNotFound(err error) bool { return IsKind(err, KindNotFound) }

// CreateSpec is everything the platform needs to create one machine.
type CreateSpec struct {
	Name         string
	CPU          int
	MemoryMB     int
	BaseImage    string
	DiskStrategy vmfleet.DiskStrategy
	ArtifactDir  string
	// Note is the ownership marker, stored in the resource's metadata so
	// later runs can recognize their own resources.
	Note string
}

// CreateResult is the platform's receipt for a successful create.
type CreateResult struct {
	PlatformID string
	DiskPath   string
}

// Actuator is the command surface against the virtualization platform.
// Every call carries a hard wall-clock timeout via ctx; implementations
// must classify failures into *Error.
type Actuator interface {
	// Observe returns a snapshot of all resources visible on the platform,
	// managed or not.
	Observe(ctx context.Context) ([]vmfleet.ObservedResource, error)

	Create(ctx context.Context, spec CreateSpec) (CreateResult, error)
	Start(ctx context.Context, name string) error
	// Stop requests shutdown. force skips the guest-cooperative path.
	Stop(ctx context.Context, name string, force bool) error
	// Destroy removes the platform object, stopping it first if needed.
	// It does not touch disk artifacts; those are cleaned up separately.
	Destroy(ctx context.Context, name string) error
	// RemoveDisk deletes a backing disk artifact created by Create.
	RemoveDisk(ctx context.Context, diskPath string) error

	// Snapshot takes a checkpoint and returns its platform identifier.
	Snapshot(ctx context.Context, name, checkpoint string) (string, error)
	RestoreSnapshot(ctx context.Context, name, checkpoint string) error
}

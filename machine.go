package vmfleet

import "encoding/json"

// DiskStrategy selects how a machine's boot disk is derived from its base image.
type DiskStrategy string

const (
	// DiskDifferencing layers a copy-on-write child disk over the base image.
	DiskDifferencing DiskStrategy = "differencing"
	// DiskCopy clones the base image into a standalone disk.
	DiskCopy DiskStrategy = "copy"
	// DiskLink boots the base image in place. Intended for throwaway fleets
	// only; the base image is mutated.
	DiskLink DiskStrategy = "link"
)

// MachineSpec is the desired state for one machine. Specs come from the
// loaded project configuration and are immutable for a planning cycle.
type MachineSpec struct {
	Name         string
	CPU          int
	MemoryMB     int
	BaseImage    string
	DiskStrategy DiskStrategy
}

// RuntimeState is the platform's view of a resource's execution state.
type RuntimeState uint8

const (
	StateOther RuntimeState = iota
	StateRunning
	StateOff
	StateSaved
	StatePaused
	StateTransitional
)

func (s RuntimeState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateOff:
		return "off"
	case StateSaved:
		return "saved"
	case StatePaused:
		return "paused"
	case StateTransitional:
		return "transitional"
	default:
		return "other"
	}
}

// MarshalJSON renders the state name, not the enum value.
func (s RuntimeState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ObservedResource is a live read of one platform resource, as reported by
// the actuator. Note carries the ownership marker, if one was applied at
// create time.
type ObservedResource struct {
	PlatformID string
	Name       string
	State      RuntimeState
	Note       string
	CPU        int
	MemoryMB   int
}

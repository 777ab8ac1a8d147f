package vmfleet

// MachineStatus is the merged desired/persisted/observed view of one
// machine, as reported by fleet.Status.
type MachineStatus struct {
	Name        string
	DerivedName string
	Desired     bool
	Persisted   bool
	Observed    bool
	State       RuntimeState
	PlatformID  string
	Checkpoints int
}

// Converged reports whether the machine needs no action: it is desired,
// created, observed, and not in a transitional state.
func (s MachineStatus) Converged() bool {
	return s.Desired && s.Persisted && s.Observed && s.State != StateTransitional
}

// Foreign reports whether the resource exists on the platform but is not
// managed by this project. Foreign resources are never touched.
func (s MachineStatus) Foreign() bool {
	return s.Observed && !s.Persisted
}

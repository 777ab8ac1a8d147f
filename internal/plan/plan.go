// Package plan computes the minimal ordered action list that brings the
// platform from its observed state to the desired state.
//
// Planning is pure: it reads the desired specs, the persisted ledger, and an
// observed snapshot, and emits actions without side effects. The core safety
// boundary lives here: a resource that is observed but absent from the
// ledger is foreign and never gets an action, no matter how its name looks.
package plan

import (
	"sort"

	"vmfleet"
	"vmfleet/internal/naming"
	"vmfleet/internal/state"
)

// Kind discriminates action variants.
type Kind string

const (
	KindCreate     Kind = "create"
	KindStart      Kind = "start"
	KindStop       Kind = "stop"
	KindDestroy    Kind = "destroy"
	KindCheckpoint Kind = "checkpoint"
	KindRestore    Kind = "restore"
)

// Action is a sealed tagged variant; the concrete types below are the only
// implementations. The reconciler dispatches with an exhaustive type switch.
type Action interface {
	Kind() Kind
	// Machine is the desired-config machine name the action refers to.
	Machine() string
	// DerivedName is the platform resource name the action targets.
	DerivedName() string

	isAction()
}

// Create brings a missing machine into existence.
type Create struct {
	MachineName string
	Name        string
	Spec        vmfleet.MachineSpec
}

// Start boots an existing stopped machine.
type Start struct {
	MachineName string
	Name        string
}

// Stop shuts a running machine down. Force skips the guest-cooperative path.
type Stop struct {
	MachineName string
	Name        string
	Force       bool
}

// Destroy removes a managed machine and its ledger record.
type Destroy struct {
	MachineName string
	Name        string
	PlatformID  string
	DiskPath    string
}

// Checkpoint snapshots a managed machine.
type Checkpoint struct {
	MachineName    string
	Name           string
	CheckpointName string
}

// Restore rolls a managed machine back to a checkpoint.
type Restore struct {
	MachineName    string
	Name           string
	CheckpointName string
}

func (a Create) Kind() Kind     { return KindCreate }
func (a Start) Kind() Kind      { return KindStart }
func (a Stop) Kind() Kind       { return KindStop }
func (a Destroy) Kind() Kind    { return KindDestroy }
func (a Checkpoint) Kind() Kind { return KindCheckpoint }
func (a Restore) Kind() Kind    { return KindRestore }

func (a Create) Machine() string     { return a.MachineName }
func (a Start) Machine() string      { return a.MachineName }
func (a Stop) Machine() string       { return a.MachineName }
func (a Destroy) Machine() string    { return a.MachineName }
func (a Checkpoint) Machine() string { return a.MachineName }
func (a Restore) Machine() string    { return a.MachineName }

func (a Create) DerivedName() string     { return a.Name }
func (a Start) DerivedName() string      { return a.Name }
func (a Stop) DerivedName() string       { return a.Name }
func (a Destroy) DerivedName() string    { return a.Name }
func (a Checkpoint) DerivedName() string { return a.Name }
func (a Restore) DerivedName() string    { return a.Name }

func (Create) isAction()     {}
func (Start) isAction()      {}
func (Stop) isAction()       {}
func (Destroy) isAction()    {}
func (Checkpoint) isAction() {}
func (Restore) isAction()    {}

// Summary tallies planned actions per kind. Unchanged counts machines that
// needed nothing; a fully converged plan has Total() == 0.
type Summary struct {
	Create     int `json:"create"`
	Start      int `json:"start"`
	Stop       int `json:"stop"`
	Destroy    int `json:"destroy"`
	Checkpoint int `json:"checkpoint"`
	Restore    int `json:"restore"`
	Unchanged  int `json:"unchanged"`
}

// Total returns the number of planned actions (Unchanged excluded).
func (s Summary) Total() int {
	return s.Create + s.Start + s.Stop + s.Destroy + s.Checkpoint + s.Restore
}

func (s *Summary) count(a Action) {
	switch a.Kind() {
	case KindCreate:
		s.Create++
	case KindStart:
		s.Start++
	case KindStop:
		s.Stop++
	case KindDestroy:
		s.Destroy++
	case KindCheckpoint:
		s.Checkpoint++
	case KindRestore:
		s.Restore++
	}
}

// Plan is an ordered action list plus its per-kind tally.
type Plan struct {
	Actions []Action
	Summary Summary
}

func (p *Plan) add(a Action) {
	p.Actions = append(p.Actions, a)
	p.Summary.count(a)
}

// Options parameterize a sweep.
type Options struct {
	Project    string
	ConfigPath string

	// AutoStart makes the up sweep boot machines that exist but are stopped.
	AutoStart bool
	// Force is carried into Stop payloads emitted by the halt sweep.
	Force bool
	// Machines restricts the sweep to these machine names. Empty means all.
	Machines []string
}

func (o Options) selects(machine string) bool {
	if len(o.Machines) == 0 {
		return true
	}
	for _, m := range o.Machines {
		if m == machine {
			return true
		}
	}
	return false
}

// observedByName indexes a snapshot for name lookup.
func observedByName(observed []vmfleet.ObservedResource) map[string]vmfleet.ObservedResource {
	byName := make(map[string]vmfleet.ObservedResource, len(observed))
	for _, o := range observed {
		byName[o.Name] = o
	}
	return byName
}

// stopped reports whether a resource can be booted by Start.
func stopped(s vmfleet.RuntimeState) bool {
	return s == vmfleet.StateOff || s == vmfleet.StateSaved
}

// Up sweeps the desired machines and plans creates and starts. doc may be
// nil on a first run.
func Up(desired []vmfleet.MachineSpec, doc *state.Document, observed []vmfleet.ObservedResource, opts Options) Plan {
	byName := observedByName(observed)

	var p Plan
	for _, spec := range desired {
		if !opts.selects(spec.Name) {
			continue
		}

		rec, persisted := lookup(doc, spec.Name)
		name := rec.Name
		if !persisted {
			name = naming.DeriveName(opts.Project, spec.Name, opts.ConfigPath)
		}
		obs, seen := byName[name]

		switch {
		case !persisted && !seen:
			p.add(Create{MachineName: spec.Name, Name: name, Spec: spec})
		case persisted && !seen:
			// Orphaned ledger record: the resource vanished underneath us.
			// Recreate; the record is overwritten after the create lands.
			p.add(Create{MachineName: spec.Name, Name: name, Spec: spec})
		case !persisted && seen:
			// Foreign resource wearing our name. Never touched.
			p.Summary.Unchanged++
		case opts.AutoStart && stopped(obs.State):
			p.add(Start{MachineName: spec.Name, Name: name})
		default:
			p.Summary.Unchanged++
		}
	}
	return p
}

// Halt sweeps the persisted records and plans stops for running resources.
func Halt(doc *state.Document, observed []vmfleet.ObservedResource, opts Options) Plan {
	byName := observedByName(observed)

	var p Plan
	for _, rec := range sortedRecords(doc) {
		if !opts.selects(rec.MachineName) {
			continue
		}
		obs, seen := byName[rec.Name]
		if seen && obs.State == vmfleet.StateRunning {
			p.add(Stop{MachineName: rec.MachineName, Name: rec.Name, Force: opts.Force})
			continue
		}
		p.Summary.Unchanged++
	}
	return p
}

// Destroys sweeps the persisted records, not the desired machines, so it
// tears down resources that were removed from the desired config. A record
// whose resource is already gone is treated as converged; pruning the stale
// record is the caller's job, not the planner's.
func Destroys(doc *state.Document, observed []vmfleet.ObservedResource, opts Options) Plan {
	byName := observedByName(observed)

	var p Plan
	for _, rec := range sortedRecords(doc) {
		if !opts.selects(rec.MachineName) {
			continue
		}
		if _, seen := byName[rec.Name]; !seen {
			p.Summary.Unchanged++
			continue
		}
		p.add(Destroy{
			MachineName: rec.MachineName,
			Name:        rec.Name,
			PlatformID:  rec.PlatformID,
			DiskPath:    rec.DiskPath,
		})
	}
	return p
}

func lookup(doc *state.Document, machine string) (state.ResourceRecord, bool) {
	if doc == nil {
		return state.ResourceRecord{}, false
	}
	rec, ok := doc.VMs[machine]
	return rec, ok
}

func sortedRecords(doc *state.Document) []state.ResourceRecord {
	if doc == nil {
		return nil
	}
	out := make([]state.ResourceRecord, 0, len(doc.VMs))
	for _, rec := range doc.VMs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineName < out[j].MachineName })
	return out
}

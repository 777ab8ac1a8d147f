// Package ownership gates destructive actions behind three independent
// checks. Each signal alone is spoofable or stale: a foreign VM can be
// renamed to match the naming pattern, the ledger can be stale after a
// manual delete, and a marker can be copied. All three must agree before a
// resource is considered ours.
package ownership

import (
	"fmt"

	"vmfleet"
	"vmfleet/internal/naming"
	"vmfleet/internal/state"
)

// Checks carries the outcome of each independent ownership signal.
type Checks struct {
	InPersistedState bool
	ValidMarker      bool
	NamePattern      bool
}

// Verdict is the decision for one candidate resource. Owned is true only
// when every check passed; Reason names the first failing check otherwise.
type Verdict struct {
	Owned  bool
	Checks Checks
	Reason string
}

// Verify decides whether the resource named candidate is owned by the
// project ledger rooted at configPath. doc and observed may be nil: a
// missing ledger or a vanished resource simply fails the corresponding
// check.
func Verify(candidate string, doc *state.Document, observed *vmfleet.ObservedResource, configPath string) Verdict {
	var (
		checks  Checks
		matched state.ResourceRecord
	)

	if doc != nil {
		for _, rec := range doc.VMs {
			if rec.Name == candidate {
				checks.InPersistedState = true
				matched = rec
				break
			}
		}
	}

	if observed != nil {
		checks.ValidMarker = naming.MarkerMatches(observed.Note, configPath)
	}

	if checks.InPersistedState {
		checks.NamePattern = naming.NameMatches(candidate, doc.Project, matched.MachineName, configPath)
	}

	v := Verdict{Checks: checks}
	switch {
	case !checks.InPersistedState:
		v.Reason = fmt.Sprintf("%s is not recorded in the project state", candidate)
	case !checks.ValidMarker:
		v.Reason = fmt.Sprintf("%s carries no valid ownership marker for this config", candidate)
	case !checks.NamePattern:
		v.Reason = fmt.Sprintf("%s does not match the derived name for machine %q", candidate, matched.MachineName)
	default:
		v.Owned = true
	}
	return v
}

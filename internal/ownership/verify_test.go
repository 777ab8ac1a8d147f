package ownership

import (
	"testing"

	"vmfleet"
	"vmfleet/internal/naming"
	"vmfleet/internal/state"
)

const (
	testProject = "lab"
	testConfig  = "/home/u/fleet.yaml"
)

// ownedFixture builds a candidate that passes all three checks, so each test
// can break exactly one signal.
func ownedFixture() (string, *state.Document, *vmfleet.ObservedResource) {
	name := naming.DeriveName(testProject, "web", testConfig)
	doc := &state.Document{
		Version: state.SchemaVersion,
		Project: testProject,
		VMs: map[string]state.ResourceRecord{
			"web": {PlatformID: "p-1", Name: name, MachineName: "web"},
		},
	}
	observed := &vmfleet.ObservedResource{
		PlatformID: "p-1",
		Name:       name,
		State:      vmfleet.StateRunning,
		Note:       naming.DeriveMarker(testConfig),
	}
	return name, doc, observed
}

func TestAllChecksPass(t *testing.T) {
	name, doc, observed := ownedFixture()
	v := Verify(name, doc, observed, testConfig)
	if !v.Owned {
		t.Fatalf("Owned = false (%s), want true", v.Reason)
	}
	if !v.Checks.InPersistedState || !v.Checks.ValidMarker || !v.Checks.NamePattern {
		t.Fatalf("checks = %+v, want all true", v.Checks)
	}
	if v.Reason != "" {
		t.Fatalf("Reason = %q, want empty", v.Reason)
	}
}

func TestEachCheckIndividuallyGates(t *testing.T) {
	tests := []struct {
		name  string
		mut   func(*string, *state.Document, *vmfleet.ObservedResource)
		check func(Checks) bool
	}{
		{
			// Resource renamed to match the pattern but never recorded.
			name: "not in persisted state",
			mut: func(_ *string, doc *state.Document, _ *vmfleet.ObservedResource) {
				delete(doc.VMs, "web")
			},
			check: func(c Checks) bool { return !c.InPersistedState },
		},
		{
			// Marker stamped by a different project config.
			name: "marker from foreign config",
			mut: func(_ *string, _ *state.Document, o *vmfleet.ObservedResource) {
				o.Note = naming.DeriveMarker("/other/fleet.yaml")
			},
			check: func(c Checks) bool { return !c.ValidMarker },
		},
		{
			// Freeform human note instead of a marker.
			name: "no marker at all",
			mut: func(_ *string, _ *state.Document, o *vmfleet.ObservedResource) {
				o.Note = "temporary test vm, delete after friday"
			},
			check: func(c Checks) bool { return !c.ValidMarker },
		},
		{
			// Ledger record whose stored name no longer derives from its
			// machine, e.g. after a manual edit.
			name: "name pattern mismatch",
			mut: func(name *string, doc *state.Document, o *vmfleet.ObservedResource) {
				stale := "lab-web-deadbeef"
				doc.VMs["web"] = state.ResourceRecord{Name: stale, MachineName: "web"}
				*name = stale
				o.Name = stale
			},
			check: func(c Checks) bool { return !c.NamePattern },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name, doc, observed := ownedFixture()
			tt.mut(&name, doc, observed)
			v := Verify(name, doc, observed, testConfig)
			if v.Owned {
				t.Fatal("Owned = true, want false")
			}
			if !tt.check(v.Checks) {
				t.Fatalf("checks = %+v, expected failing check", v.Checks)
			}
			if v.Reason == "" {
				t.Fatal("failed verdict must carry a reason")
			}
		})
	}
}

func TestNilInputs(t *testing.T) {
	name, doc, observed := ownedFixture()

	v := Verify(name, nil, observed, testConfig)
	if v.Owned || v.Checks.InPersistedState {
		t.Fatalf("nil document: verdict = %+v", v)
	}

	v = Verify(name, doc, nil, testConfig)
	if v.Owned || v.Checks.ValidMarker {
		t.Fatalf("nil observed: verdict = %+v", v)
	}
	if !v.Checks.InPersistedState || !v.Checks.NamePattern {
		t.Fatalf("nil observed should not break ledger checks: %+v", v)
	}
}

func TestPatternLookalikeIsNotOwned(t *testing.T) {
	// Scenario D: a resource named exactly like ours, but absent from the
	// ledger, probes as not owned with the ledger check false.
	name := naming.DeriveName(testProject, "rogue", testConfig)
	_, doc, _ := ownedFixture()
	observed := &vmfleet.ObservedResource{
		Name:  name,
		State: vmfleet.StateRunning,
		Note:  naming.DeriveMarker(testConfig),
	}

	v := Verify(name, doc, observed, testConfig)
	if v.Owned {
		t.Fatal("lookalike resource reported as owned")
	}
	if v.Checks.InPersistedState {
		t.Fatal("lookalike resource reported as persisted")
	}
}

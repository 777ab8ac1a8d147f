package main

import (
	"testing"

	"vmfleet/internal/plan"
)

func TestSummaryLine(t *testing.T) {
	cases := []struct {
		name string
		in   plan.Summary
		want string
	}{
		{"empty", plan.Summary{}, "nothing to do"},
		{"single", plan.Summary{Create: 2}, "create 2"},
		{"mixed", plan.Summary{Create: 1, Start: 2, Unchanged: 3}, "create 1, start 2, unchanged 3"},
		{"converged", plan.Summary{Unchanged: 4}, "unchanged 4"},
	}
	for _, c := range cases {
		if got := summaryLine(c.in); got != c.want {
			t.Errorf("%s: summaryLine = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestNewActuatorRejectsUnknownPlatform(t *testing.T) {
	a := &app{platform: "vmware"}
	if _, err := a.newActuator(); err == nil {
		t.Fatal("expected error for unknown platform")
	}
}

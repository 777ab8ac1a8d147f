package hyperv

import (
	"context"
	"errors"
	"strings"
	"testing"

	"vmfleet"
	"vmfleet/internal/actuator"
)

type fakeRunner struct {
	scripts []string
	out     []byte
	err     error
}

func (f *fakeRunner) run(_ context.Context, script string) ([]byte, error) {
	f.scripts = append(f.scripts, script)
	return f.out, f.err
}

func newTestActuator(r *fakeRunner) *Actuator {
	a := New()
	a.run = r
	return a
}

func TestObserveParsesShellOutput(t *testing.T) {
	r := &fakeRunner{out: []byte(`[
		{"id":"a1","name":"lab-web-deadbeef","state":"Running","notes":"marker","cpu":4,"memoryMB":4096},
		{"id":"b2","name":"other","state":"Stopping","notes":"","cpu":1,"memoryMB":512}
	]`)}
	a := newTestActuator(r)

	got, err := a.Observe(context.Background())
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("resources = %d, want 2", len(got))
	}
	if got[0].State != vmfleet.StateRunning || got[0].CPU != 4 {
		t.Fatalf("first resource = %+v", got[0])
	}
	if got[1].State != vmfleet.StateTransitional {
		t.Fatalf("Stopping should map to transitional, got %v", got[1].State)
	}
}

func TestObserveRejectsMalformedOutput(t *testing.T) {
	a := newTestActuator(&fakeRunner{out: []byte("not json")})
	_, err := a.Observe(context.Background())
	if !actuator.IsKind(err, actuator.KindExecutionFailed) {
		t.Fatalf("error = %v, want execution-failed", err)
	}
}

func TestParseStateMapping(t *testing.T) {
	cases := map[string]vmfleet.RuntimeState{
		"Running":     vmfleet.StateRunning,
		"Off":         vmfleet.StateOff,
		"Saved":       vmfleet.StateSaved,
		"Paused":      vmfleet.StatePaused,
		"Starting":    vmfleet.StateTransitional,
		"Saving":      vmfleet.StateTransitional,
		"CritRunning": vmfleet.StateOther,
	}
	for in, want := range cases {
		if got := parseState(in); got != want {
			t.Errorf("parseState(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCreateScriptPerStrategy(t *testing.T) {
	spec := actuator.CreateSpec{
		Name: "lab-web-deadbeef", CPU: 2, MemoryMB: 2048,
		BaseImage:   "/images/base.vhdx",
		ArtifactDir: "/disks",
		Note:        `{"vmfleet":1}`,
	}

	spec.DiskStrategy = vmfleet.DiskDifferencing
	script, disk, err := createScript(spec)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script, "New-VHD") || !strings.Contains(script, "-Differencing") {
		t.Fatalf("differencing script missing New-VHD:\n%s", script)
	}
	if disk == "" {
		t.Fatal("differencing strategy must report its artifact")
	}

	spec.DiskStrategy = vmfleet.DiskCopy
	script, disk, err = createScript(spec)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(script, "Copy-Item") || disk == "" {
		t.Fatalf("copy script:\n%s", script)
	}

	spec.DiskStrategy = vmfleet.DiskLink
	script, disk, err = createScript(spec)
	if err != nil {
		t.Fatal(err)
	}
	if disk != "" {
		t.Fatal("link strategy creates no artifact to clean up")
	}
	if !strings.Contains(script, psQuote(spec.BaseImage)) {
		t.Fatalf("link script must attach the base image:\n%s", script)
	}
}

func TestCreateParsesReceipt(t *testing.T) {
	r := &fakeRunner{out: []byte(`{"id":"vm-123"}`)}
	a := newTestActuator(r)

	got, err := a.Create(context.Background(), actuator.CreateSpec{
		Name: "lab-web-deadbeef", CPU: 2, MemoryMB: 2048,
		BaseImage: "/images/base.vhdx", ArtifactDir: "/disks",
		DiskStrategy: vmfleet.DiskDifferencing,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if got.PlatformID != "vm-123" {
		t.Fatalf("platform id = %q", got.PlatformID)
	}
	if got.DiskPath == "" {
		t.Fatal("disk path missing")
	}
}

func TestStopScriptForceVariants(t *testing.T) {
	r := &fakeRunner{}
	a := newTestActuator(r)

	if err := a.Stop(context.Background(), "vm", false); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(r.scripts[0], "-TurnOff") {
		t.Fatalf("graceful stop must not turn off: %s", r.scripts[0])
	}

	if err := a.Stop(context.Background(), "vm", true); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(r.scripts[1], "-TurnOff -Force") {
		t.Fatalf("forced stop: %s", r.scripts[1])
	}
}

func TestRemoveDiskSkipsEmptyPath(t *testing.T) {
	r := &fakeRunner{}
	a := newTestActuator(r)
	if err := a.RemoveDisk(context.Background(), ""); err != nil {
		t.Fatal(err)
	}
	if len(r.scripts) != 0 {
		t.Fatal("empty disk path should be a no-op")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want actuator.ErrorKind
	}{
		{context.DeadlineExceeded, actuator.KindTimedOut},
		{errors.New(`Get-VM : Hyper-V was unable to find a virtual machine with name "x".`), actuator.KindNotFound},
		{errors.New("you do not have the required permission. Access is denied."), actuator.KindAccessDenied},
		{errors.New("the Hypervisor is not running"), actuator.KindUnavailable},
		{errors.New("something exploded"), actuator.KindExecutionFailed},
	}
	for _, c := range cases {
		got := classify("op", c.err)
		if !actuator.IsKind(got, c.want) {
			t.Errorf("classify(%v) = %v, want kind %v", c.err, got, c.want)
		}
	}
}

func TestPsQuote(t *testing.T) {
	if got := psQuote("it's"); got != "'it''s'" {
		t.Fatalf("psQuote = %q", got)
	}
}

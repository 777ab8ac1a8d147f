// Package hyperv drives Hyper-V through its management shell. Every call
// shells out to PowerShell with a hard wall-clock timeout and parses JSON
// output; failures are classified into the actuator error kinds from the
// shell's stderr.
package hyperv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"vmfleet"
	"vmfleet/internal/actuator"
)

const (
	defaultTimeout = 30 * time.Second
	// Creates pull a disk copy on the copy strategy; give them room.
	createTimeout = 2 * time.Minute
)

// runner executes one shell script and returns its stdout. Tests substitute
// a fake; production uses execRunner.
type runner interface {
	run(ctx context.Context, script string) ([]byte, error)
}

// Actuator implements the platform boundary against a local Hyper-V host.
type Actuator struct {
	run     runner
	timeout time.Duration
}

// Option configures the Actuator.
type Option func(*Actuator)

// WithTimeout overrides the per-call timeout for queries and mutations.
func WithTimeout(d time.Duration) Option {
	return func(a *Actuator) { a.timeout = d }
}

// WithShell overrides the shell binary, e.g. "pwsh".
func WithShell(shell string) Option {
	return func(a *Actuator) { a.run = execRunner{shell: shell} }
}

// New returns an Actuator driving the default management shell.
func New(opts ...Option) *Actuator {
	a := &Actuator{
		run:     execRunner{shell: "powershell.exe"},
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type execRunner struct {
	shell string
}

func (r execRunner) run(ctx context.Context, script string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.shell, "-NoProfile", "-NonInteractive", "-Command", script)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", err, msg)
	}
	return stdout.Bytes(), nil
}

// exec runs script under the standard timeout and classifies failures.
func (a *Actuator) exec(ctx context.Context, op, script string, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := a.run.run(ctx, script)
	if err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

// observedVM matches the calculated properties the observe script projects.
type observedVM struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	State    string `json:"state"`
	Notes    string `json:"notes"`
	CPU      int    `json:"cpu"`
	MemoryMB int    `json:"memoryMB"`
}

const observeScript = `$vms = @(Get-VM | Select-Object ` +
	`@{n='id';e={[string]$_.Id}}, @{n='name';e={$_.Name}}, ` +
	`@{n='state';e={[string]$_.State}}, @{n='notes';e={$_.Notes}}, ` +
	`@{n='cpu';e={[int]$_.ProcessorCount}}, ` +
	`@{n='memoryMB';e={[int]($_.MemoryStartup / 1MB)}})
ConvertTo-Json -Depth 3 @($vms)`

func (a *Actuator) Observe(ctx context.Context) ([]vmfleet.ObservedResource, error) {
	out, err := a.exec(ctx, "observe", observeScript, a.timeout)
	if err != nil {
		return nil, err
	}
	var vms []observedVM
	if err := json.Unmarshal(bytes.TrimSpace(out), &vms); err != nil {
		return nil, actuator.NewError(actuator.KindExecutionFailed, "observe",
			fmt.Errorf("parse shell output: %w", err))
	}
	resources := make([]vmfleet.ObservedResource, 0, len(vms))
	for _, vm := range vms {
		resources = append(resources, vmfleet.ObservedResource{
			PlatformID: vm.ID,
			Name:       vm.Name,
			State:      parseState(vm.State),
			Note:       vm.Notes,
			CPU:        vm.CPU,
			MemoryMB:   vm.MemoryMB,
		})
	}
	return resources, nil
}

func parseState(s string) vmfleet.RuntimeState {
	switch s {
	case "Running":
		return vmfleet.StateRunning
	case "Off":
		return vmfleet.StateOff
	case "Saved":
		return vmfleet.StateSaved
	case "Paused":
		return vmfleet.StatePaused
	case "Starting", "Stopping", "Saving", "Pausing", "Resuming":
		return vmfleet.StateTransitional
	default:
		return vmfleet.StateOther
	}
}

func (a *Actuator) Create(ctx context.Context, spec actuator.CreateSpec) (actuator.CreateResult, error) {
	script, diskPath, err := createScript(spec)
	if err != nil {
		return actuator.CreateResult{}, actuator.NewError(actuator.KindExecutionFailed, "create", err)
	}
	out, err := a.exec(ctx, "create", script, createTimeout)
	if err != nil {
		return actuator.CreateResult{}, err
	}

	var receipt struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out), &receipt); err != nil {
		return actuator.CreateResult{}, actuator.NewError(actuator.KindExecutionFailed, "create",
			fmt.Errorf("parse shell output: %w", err))
	}
	return actuator.CreateResult{PlatformID: receipt.ID, DiskPath: diskPath}, nil
}

// createScript assembles the create invocation. The returned diskPath is the
// artifact Destroy should later clean up; empty when the strategy attaches
// the base image in place.
func createScript(spec actuator.CreateSpec) (script, diskPath string, err error) {
	var sb strings.Builder
	attach := ""

	switch spec.DiskStrategy {
	case vmfleet.DiskDifferencing:
		diskPath = filepath.Join(spec.ArtifactDir, spec.Name+".vhdx")
		fmt.Fprintf(&sb, "New-VHD -Path %s -ParentPath %s -Differencing | Out-Null\n",
			psQuote(diskPath), psQuote(spec.BaseImage))
		attach = diskPath
	case vmfleet.DiskCopy:
		diskPath = filepath.Join(spec.ArtifactDir, spec.Name+".vhdx")
		fmt.Fprintf(&sb, "Copy-Item -LiteralPath %s -Destination %s\n",
			psQuote(spec.BaseImage), psQuote(diskPath))
		attach = diskPath
	case vmfleet.DiskLink:
		attach = spec.BaseImage
	default:
		return "", "", fmt.Errorf("unknown disk strategy %q", spec.DiskStrategy)
	}

	fmt.Fprintf(&sb, "$vm = New-VM -Name %s -MemoryStartupBytes %dMB -VHDPath %s -Generation 2\n",
		psQuote(spec.Name), spec.MemoryMB, psQuote(attach))
	fmt.Fprintf(&sb, "Set-VM -Name %s -ProcessorCount %d -Notes %s\n",
		psQuote(spec.Name), spec.CPU, psQuote(spec.Note))
	sb.WriteString("ConvertTo-Json @{ id = [string]$vm.Id }")
	return sb.String(), diskPath, nil
}

func (a *Actuator) Start(ctx context.Context, name string) error {
	_, err := a.exec(ctx, "start", "Start-VM -Name "+psQuote(name), a.timeout)
	return err
}

func (a *Actuator) Stop(ctx context.Context, name string, force bool) error {
	script := "Stop-VM -Name " + psQuote(name)
	if force {
		script += " -TurnOff -Force"
	}
	_, err := a.exec(ctx, "stop", script, a.timeout)
	return err
}

func (a *Actuator) Destroy(ctx context.Context, name string) error {
	script := fmt.Sprintf(`$vm = Get-VM -Name %[1]s
if ($vm.State -ne 'Off') { Stop-VM -Name %[1]s -TurnOff -Force }
Remove-VM -Name %[1]s -Force`, psQuote(name))
	_, err := a.exec(ctx, "destroy", script, a.timeout)
	return err
}

func (a *Actuator) RemoveDisk(ctx context.Context, diskPath string) error {
	if diskPath == "" {
		return nil
	}
	_, err := a.exec(ctx, "remove-disk", "Remove-Item -LiteralPath "+psQuote(diskPath)+" -Force", a.timeout)
	return err
}

func (a *Actuator) Snapshot(ctx context.Context, name, checkpoint string) (string, error) {
	script := fmt.Sprintf(`Checkpoint-VM -Name %[1]s -SnapshotName %[2]s
$s = Get-VMSnapshot -VMName %[1]s -Name %[2]s
ConvertTo-Json @{ id = [string]$s.Id }`, psQuote(name), psQuote(checkpoint))
	out, err := a.exec(ctx, "snapshot", script, a.timeout)
	if err != nil {
		return "", err
	}
	var receipt struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out), &receipt); err != nil {
		return "", actuator.NewError(actuator.KindExecutionFailed, "snapshot",
			fmt.Errorf("parse shell output: %w", err))
	}
	return receipt.ID, nil
}

func (a *Actuator) RestoreSnapshot(ctx context.Context, name, checkpoint string) error {
	script := fmt.Sprintf("Restore-VMSnapshot -VMName %s -Name %s -Confirm:$false",
		psQuote(name), psQuote(checkpoint))
	_, err := a.exec(ctx, "restore", script, a.timeout)
	return err
}

// psQuote single-quotes s for the shell, doubling embedded quotes.
func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// classify maps a raw shell failure to a fixed actuator error kind. The
// shell reports everything through stderr text; the substrings below cover
// the management module's stable phrasings.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return actuator.NewError(actuator.KindTimedOut, op, err)
	case errors.Is(err, exec.ErrNotFound):
		return actuator.NewError(actuator.KindUnavailable, op, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "unable to find"),
		strings.Contains(msg, "cannot find"),
		strings.Contains(msg, "does not exist"),
		strings.Contains(msg, "no virtual machine"):
		return actuator.NewError(actuator.KindNotFound, op, err)
	case strings.Contains(msg, "access is denied"),
		strings.Contains(msg, "unauthorized"),
		strings.Contains(msg, "requires elevation"),
		strings.Contains(msg, "administrator"):
		return actuator.NewError(actuator.KindAccessDenied, op, err)
	case strings.Contains(msg, "not recognized"),
		strings.Contains(msg, "management service"),
		strings.Contains(msg, "hypervisor is not running"):
		return actuator.NewError(actuator.KindUnavailable, op, err)
	default:
		return actuator.NewError(actuator.KindExecutionFailed, op, err)
	}
}

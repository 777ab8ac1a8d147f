// Package config loads and resolves the desired-state project file.
//
// A project file declares a named fleet of machines. Load returns a fully
// resolved Project: defaults applied, machine specs validated, the path
// absolutized, and the raw bytes hashed. The hash and path are identity
// inputs for naming and drift detection downstream.
package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"vmfleet"

	"gopkg.in/yaml.v3"
)

const (
	defaultCPU      = 2
	defaultMemoryMB = 2048
	minMemoryMB     = 64
	maxCPU          = 64
)

var nameRx = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// file is the on-disk YAML shape. Pointers distinguish "absent" from zero
// so defaults only apply to absent fields.
type file struct {
	Project     string        `yaml:"project"`
	ArtifactDir string        `yaml:"artifact_dir"`
	AutoStart   *bool         `yaml:"auto_start"`
	Machines    []fileMachine `yaml:"machines"`
}

type fileMachine struct {
	Name         string `yaml:"name"`
	CPU          int    `yaml:"cpu"`
	MemoryMB     int    `yaml:"memory_mb"`
	BaseImage    string `yaml:"base_image"`
	DiskStrategy string `yaml:"disk_strategy"`
}

// Project is a fully resolved desired configuration. Consumers treat it as
// read-only for the duration of a planning cycle.
type Project struct {
	Name        string
	Machines    []vmfleet.MachineSpec
	ArtifactDir string
	AutoStart   bool

	// Path is the absolute config file path; Hash is the SHA-256 of the
	// raw file bytes. Both are opaque identity inputs.
	Path string
	Hash string
}

// Machine returns the spec for name, if declared.
func (p *Project) Machine(name string) (vmfleet.MachineSpec, bool) {
	for _, m := range p.Machines {
		if m.Name == name {
			return m, true
		}
	}
	return vmfleet.MachineSpec{}, false
}

// StatePath returns the default ownership-ledger location for this project:
// a sibling of the config file named "<project>.state.json".
func (p *Project) StatePath() string {
	return filepath.Join(filepath.Dir(p.Path), p.Name+".state.json")
}

// Load reads, parses, defaults, and validates the project file at path.
func Load(path string) (*Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", abs, err)
	}

	p, err := resolve(f)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", abs, err)
	}

	sum := sha256.Sum256(data)
	p.Path = abs
	p.Hash = hex.EncodeToString(sum[:])
	if p.ArtifactDir == "" {
		p.ArtifactDir = filepath.Join(filepath.Dir(abs), p.Name+"-disks")
	} else if !filepath.IsAbs(p.ArtifactDir) {
		p.ArtifactDir = filepath.Join(filepath.Dir(abs), p.ArtifactDir)
	}
	return p, nil
}

func resolve(f file) (*Project, error) {
	name := strings.TrimSpace(f.Project)
	if name == "" {
		return nil, fmt.Errorf("project name is required")
	}
	if !nameRx.MatchString(name) {
		return nil, fmt.Errorf("project name %q must match %s", name, nameRx)
	}
	if len(f.Machines) == 0 {
		return nil, fmt.Errorf("at least one machine is required")
	}

	autoStart := true
	if f.AutoStart != nil {
		autoStart = *f.AutoStart
	}

	p := &Project{
		Name:        name,
		ArtifactDir: strings.TrimSpace(f.ArtifactDir),
		AutoStart:   autoStart,
		Machines:    make([]vmfleet.MachineSpec, 0, len(f.Machines)),
	}

	seen := make(map[string]bool, len(f.Machines))
	for i, m := range f.Machines {
		spec, err := resolveMachine(m)
		if err != nil {
			return nil, fmt.Errorf("machine %d: %w", i, err)
		}
		if seen[spec.Name] {
			return nil, fmt.Errorf("machine name %q declared twice", spec.Name)
		}
		seen[spec.Name] = true
		p.Machines = append(p.Machines, spec)
	}
	return p, nil
}

func resolveMachine(m fileMachine) (vmfleet.MachineSpec, error) {
	name := strings.TrimSpace(m.Name)
	if name == "" {
		return vmfleet.MachineSpec{}, fmt.Errorf("name is required")
	}
	if !nameRx.MatchString(name) {
		return vmfleet.MachineSpec{}, fmt.Errorf("name %q must match %s", name, nameRx)
	}
	if strings.TrimSpace(m.BaseImage) == "" {
		return vmfleet.MachineSpec{}, fmt.Errorf("machine %q: base_image is required", name)
	}

	spec := vmfleet.MachineSpec{
		Name:      name,
		CPU:       m.CPU,
		MemoryMB:  m.MemoryMB,
		BaseImage: m.BaseImage,
	}
	if spec.CPU == 0 {
		spec.CPU = defaultCPU
	}
	if spec.CPU < 1 || spec.CPU > maxCPU {
		return vmfleet.MachineSpec{}, fmt.Errorf("machine %q: cpu %d out of range [1, %d]", name, spec.CPU, maxCPU)
	}
	if spec.MemoryMB == 0 {
		spec.MemoryMB = defaultMemoryMB
	}
	if spec.MemoryMB < minMemoryMB {
		return vmfleet.MachineSpec{}, fmt.Errorf("machine %q: memory_mb %d below minimum %d", name, spec.MemoryMB, minMemoryMB)
	}

	switch strategy := vmfleet.DiskStrategy(strings.TrimSpace(m.DiskStrategy)); strategy {
	case "":
		spec.DiskStrategy = vmfleet.DiskDifferencing
	case vmfleet.DiskDifferencing, vmfleet.DiskCopy, vmfleet.DiskLink:
		spec.DiskStrategy = strategy
	default:
		return vmfleet.MachineSpec{}, fmt.Errorf("machine %q: unknown disk_strategy %q", name, strategy)
	}
	return spec, nil
}

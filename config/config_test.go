package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"vmfleet"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const validConfig = `
project: lab
machines:
  - name: web
    base_image: /images/ubuntu.vhdx
  - name: db
    cpu: 4
    memory_mb: 8192
    base_image: /images/ubuntu.vhdx
    disk_strategy: copy
`

func TestLoadAppliesDefaults(t *testing.T) {
	p, err := Load(writeConfig(t, validConfig))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if p.Name != "lab" {
		t.Fatalf("project = %q", p.Name)
	}
	if !p.AutoStart {
		t.Fatal("auto_start should default to true")
	}

	web, ok := p.Machine("web")
	if !ok {
		t.Fatal("web missing")
	}
	if web.CPU != 2 || web.MemoryMB != 2048 || web.DiskStrategy != vmfleet.DiskDifferencing {
		t.Fatalf("web defaults = %+v", web)
	}

	db, _ := p.Machine("db")
	if db.CPU != 4 || db.MemoryMB != 8192 || db.DiskStrategy != vmfleet.DiskCopy {
		t.Fatalf("db = %+v", db)
	}
}

func TestLoadResolvesIdentityInputs(t *testing.T) {
	path := writeConfig(t, validConfig)
	p, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if !filepath.IsAbs(p.Path) {
		t.Fatalf("path not absolute: %q", p.Path)
	}
	if len(p.Hash) != 64 {
		t.Fatalf("hash = %q, want sha256 hex", p.Hash)
	}
	if p.ArtifactDir != filepath.Join(filepath.Dir(p.Path), "lab-disks") {
		t.Fatalf("artifact dir = %q", p.ArtifactDir)
	}
	if p.StatePath() != filepath.Join(filepath.Dir(p.Path), "lab.state.json") {
		t.Fatalf("state path = %q", p.StatePath())
	}

	// Identical bytes, identical hash.
	again, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if again.Hash != p.Hash {
		t.Fatal("hash unstable across loads")
	}
}

func TestLoadRejectsInvalidConfigs(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"missing project", "machines: [{name: web, base_image: /i.vhdx}]", "project name is required"},
		{"bad project name", "project: Lab!\nmachines: [{name: web, base_image: /i.vhdx}]", "must match"},
		{"no machines", "project: lab", "at least one machine"},
		{"duplicate machine", "project: lab\nmachines: [{name: web, base_image: /i.vhdx}, {name: web, base_image: /i.vhdx}]", "declared twice"},
		{"missing image", "project: lab\nmachines: [{name: web}]", "base_image is required"},
		{"bad strategy", "project: lab\nmachines: [{name: web, base_image: /i.vhdx, disk_strategy: magic}]", "unknown disk_strategy"},
		{"cpu out of range", "project: lab\nmachines: [{name: web, base_image: /i.vhdx, cpu: 9000}]", "out of range"},
		{"memory too small", "project: lab\nmachines: [{name: web, base_image: /i.vhdx, memory_mb: 8}]", "below minimum"},
		{"not yaml", "project: [unclosed", "parse config"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("Load should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want substring %q", err, tt.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("Load of missing file should fail")
	}
}

func TestAutoStartExplicitFalse(t *testing.T) {
	body := "project: lab\nauto_start: false\nmachines: [{name: web, base_image: /i.vhdx}]"
	p, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatal(err)
	}
	if p.AutoStart {
		t.Fatal("auto_start: false ignored")
	}
}

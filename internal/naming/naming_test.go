package naming

import (
	"strings"
	"testing"
)

func TestDeriveNameIsDeterministic(t *testing.T) {
	a := DeriveName("lab", "web", "/home/u/fleet.yaml")
	b := DeriveName("lab", "web", "/home/u/fleet.yaml")
	if a != b {
		t.Fatalf("DeriveName not stable: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, "lab-web-") {
		t.Fatalf("DeriveName = %q, want lab-web-<hash> prefix", a)
	}
	if got := len(a) - len("lab-web-"); got != 8 {
		t.Fatalf("hash length = %d, want 8", got)
	}
}

func TestDeriveNameNormalizesPathSpelling(t *testing.T) {
	variants := []string{
		`C:\Users\U\fleet.yaml`,
		`c:/users/u/fleet.yaml`,
		`C:/USERS/U/FLEET.YAML`,
	}
	want := DeriveName("lab", "web", variants[0])
	for _, v := range variants[1:] {
		if got := DeriveName("lab", "web", v); got != want {
			t.Errorf("DeriveName(%q) = %q, want %q", v, got, want)
		}
	}
}

func TestDeriveNameDistinguishesPaths(t *testing.T) {
	paths := []string{
		"/a/fleet.yaml",
		"/b/fleet.yaml",
		"/a/b/fleet.yaml",
		"/home/one/project.yaml",
		"/home/two/project.yaml",
	}
	seen := make(map[string]string, len(paths))
	for _, p := range paths {
		h := PathHash(p)
		if prev, dup := seen[h]; dup {
			t.Fatalf("hash collision: %q and %q both hash to %q", prev, p, h)
		}
		seen[h] = p
	}
}

func TestParseName(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Parsed
		ok   bool
	}{
		{"simple", "lab-web-0a1b2c3d", Parsed{"lab", "web", "0a1b2c3d"}, true},
		{"hyphenated machine", "lab-web-db-0a1b2c3d", Parsed{"lab", "web-db", "0a1b2c3d"}, true},
		{"no hash", "lab-web", Parsed{}, false},
		{"short hash", "lab-web-0a1b", Parsed{}, false},
		{"uppercase hash", "lab-web-0A1B2C3D", Parsed{}, false},
		{"empty", "", Parsed{}, false},
		{"foreign vm", "ubuntu-desktop", Parsed{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseName(tt.in)
			if ok != tt.ok {
				t.Fatalf("ParseName(%q) ok = %v, want %v", tt.in, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Fatalf("ParseName(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNameMatches(t *testing.T) {
	const config = "/home/u/fleet.yaml"
	name := DeriveName("lab", "web", config)

	if !NameMatches(name, "lab", "web", config) {
		t.Fatal("NameMatches should accept the derived name")
	}
	if NameMatches(name, "lab", "web", "/other/fleet.yaml") {
		t.Fatal("NameMatches should reject a different config path")
	}
	if NameMatches(name, "lab", "db", config) {
		t.Fatal("NameMatches should reject a different machine")
	}
}

func TestMarkerRoundTrip(t *testing.T) {
	const config = "/home/u/fleet.yaml"
	note := DeriveMarker(config)

	m, ok := ParseMarker(note)
	if !ok {
		t.Fatalf("ParseMarker(%q) failed", note)
	}
	if !m.Managed {
		t.Fatal("marker should carry managed=true")
	}
	if m.ConfigPath != config {
		t.Fatalf("marker config = %q, want %q", m.ConfigPath, config)
	}
	if !MarkerMatches(note, config) {
		t.Fatal("MarkerMatches should accept its own marker")
	}
}

func TestMarkerMatchesRejectsForeignNotes(t *testing.T) {
	const config = "/home/u/fleet.yaml"
	tests := []struct {
		name string
		note string
	}{
		{"empty", ""},
		{"freeform text", "created by alice for testing"},
		{"other json", `{"creator":"packer"}`},
		{"unmanaged", `{"vmfleet":1,"managed":false,"config":"/home/u/fleet.yaml"}`},
		{"other config", DeriveMarker("/elsewhere/fleet.yaml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if MarkerMatches(tt.note, config) {
				t.Fatalf("MarkerMatches(%q) = true, want false", tt.note)
			}
		})
	}
}

func TestMarkerMatchesNormalizesPath(t *testing.T) {
	note := DeriveMarker(`C:\Users\U\fleet.yaml`)
	if !MarkerMatches(note, "c:/users/u/fleet.yaml") {
		t.Fatal("MarkerMatches should compare normalized paths")
	}
}

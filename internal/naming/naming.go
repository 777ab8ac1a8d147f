// Package naming derives stable resource names and ownership markers from
// the (project, machine, config path) triple.
//
// All functions are total: bad input yields "no match", never a panic or an
// error. The derived name is the only identity shared with the platform, so
// it must be byte-stable across hosts and path spellings.
package naming

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"
)

// markerVersion is bumped when the marker wire shape changes. Parsers accept
// any version; the managed flag and config path are what ownership checks use.
const markerVersion = 1

const hashLen = 8

// namePattern matches "{project}-{machine}-{hash8}". Project is matched
// lazily so hyphenated machine names bind to the machine segment.
var namePattern = regexp.MustCompile(`^([a-z0-9][a-z0-9-]*?)-([a-z0-9][a-z0-9-]*)-([0-9a-f]{8})$`)

// NormalizePath folds a config path to its canonical comparison form:
// forward slashes and lower case. Keeps hashes stable across Windows-style
// separators and case-insensitive filesystems.
func NormalizePath(path string) string {
	return strings.ToLower(strings.ReplaceAll(path, `\`, "/"))
}

// PathHash returns the first 8 hex characters of SHA-256 over the
// normalized config path.
func PathHash(configPath string) string {
	sum := sha256.Sum256([]byte(NormalizePath(configPath)))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// DeriveName returns the platform resource name for a machine:
// "{project}-{machine}-{hash8}".
func DeriveName(project, machine, configPath string) string {
	return project + "-" + machine + "-" + PathHash(configPath)
}

// Parsed is the decomposition of a derived name.
type Parsed struct {
	Project string
	Machine string
	Hash    string
}

// ParseName splits a derived name into its components. The split is
// best-effort when both project and machine contain hyphens; ownership
// decisions must go through NameMatches, which recomputes instead of parsing.
func ParseName(name string) (Parsed, bool) {
	m := namePattern.FindStringSubmatch(name)
	if m == nil {
		return Parsed{}, false
	}
	return Parsed{Project: m[1], Machine: m[2], Hash: m[3]}, true
}

// NameMatches reports whether name is exactly the derived name for the
// given project, machine, and config path.
func NameMatches(name, project, machine, configPath string) bool {
	return name == DeriveName(project, machine, configPath)
}

// Marker is the ownership stamp embedded in a resource's metadata note at
// create time.
type Marker struct {
	Version    int    `json:"vmfleet"`
	Managed    bool   `json:"managed"`
	ConfigPath string `json:"config"`
}

// DeriveMarker returns the marker string for resources created from the
// given absolute config path.
func DeriveMarker(configPath string) string {
	data, err := json.Marshal(Marker{
		Version:    markerVersion,
		Managed:    true,
		ConfigPath: configPath,
	})
	if err != nil {
		// Marker has no unmarshalable fields; keep the function total anyway.
		return ""
	}
	return string(data)
}

// ParseMarker decodes a metadata note into a Marker. Notes written by other
// tools (or empty notes) yield ok=false.
func ParseMarker(note string) (Marker, bool) {
	note = strings.TrimSpace(note)
	if note == "" {
		return Marker{}, false
	}
	var m Marker
	if err := json.Unmarshal([]byte(note), &m); err != nil {
		return Marker{}, false
	}
	if m.Version == 0 {
		return Marker{}, false
	}
	return m, true
}

// MarkerMatches reports whether note carries a managed marker whose embedded
// config path normalizes to the same path as configPath.
func MarkerMatches(note, configPath string) bool {
	m, ok := ParseMarker(note)
	if !ok || !m.Managed {
		return false
	}
	return NormalizePath(m.ConfigPath) == NormalizePath(configPath)
}

// Package state persists the ownership ledger: one JSON document per
// project mapping machine names to the platform resources this tool created.
//
// The ledger is the tool's own record, independent of the platform's. It is
// the first of the three ownership checks, so it must never be silently
// recreated: a malformed document is surfaced as CorruptError and left on
// disk for the operator.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SchemaVersion is written into every saved document. The schema evolves
// additively; loaders tolerate unknown and absent optional fields.
const SchemaVersion = 1

// ErrNotLoaded is returned by mutators called before Load or Create. It
// signals a programming error in the caller, not a runtime condition.
var ErrNotLoaded = errors.New("state: not loaded")

// CorruptError reports a ledger file that exists but cannot be parsed.
// Distinct from fs.ErrNotExist: corruption must never be treated as a fresh
// start.
type CorruptError struct {
	Path string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("state file %s is corrupt: %v", e.Path, e.Err)
}

func (e *CorruptError) Unwrap() error { return e.Err }

// CheckpointRecord is one snapshot taken of a managed resource.
type CheckpointRecord struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// ResourceRecord is the ledger entry for one machine the tool created.
type ResourceRecord struct {
	PlatformID  string             `json:"id"`
	Name        string             `json:"name"`
	MachineName string             `json:"machineName"`
	DiskPath    string             `json:"diskPath,omitempty"`
	CreatedAt   time.Time          `json:"createdAt"`
	Checkpoints []CheckpointRecord `json:"checkpoints,omitempty"`
}

// Document is the on-disk shape of a project ledger.
type Document struct {
	Version    int                       `json:"version"`
	ConfigHash string                    `json:"configHash,omitempty"`
	ConfigPath string                    `json:"configPath,omitempty"`
	Project    string                    `json:"project"`
	CreatedAt  time.Time                 `json:"createdAt"`
	UpdatedAt  time.Time                 `json:"updatedAt"`
	VMs        map[string]ResourceRecord `json:"vms"`
}

// Store owns the ledger for one project file. One Store per project path;
// concurrent writers to the same path are undefined behavior.
type Store struct {
	path string
	doc  *Document
	now  func() time.Time
}

// New creates a Store for the ledger at path. Nothing is read until Load.
func New(path string) *Store {
	return &Store{path: path, now: time.Now}
}

// Path returns the ledger file location.
func (s *Store) Path() string { return s.path }

// Exists reports whether a ledger file is present on disk.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Loaded reports whether the Store holds an in-memory document.
func (s *Store) Loaded() bool { return s.doc != nil }

// Document returns the loaded document, or nil before Load/Create. Callers
// must treat it as read-only; mutations go through the Store.
func (s *Store) Document() *Document { return s.doc }

// Load reads and parses the ledger. A missing file yields fs.ErrNotExist;
// a present-but-unparsable file yields *CorruptError.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return &CorruptError{Path: s.path, Err: err}
	}
	if doc.VMs == nil {
		doc.VMs = make(map[string]ResourceRecord)
	}
	s.doc = &doc
	return nil
}

// Create initializes a fresh in-memory document. Nothing touches disk until
// the first Save.
func (s *Store) Create(project, configPath, configHash string) {
	now := s.now().UTC()
	s.doc = &Document{
		Version:    SchemaVersion,
		ConfigHash: configHash,
		ConfigPath: configPath,
		Project:    project,
		CreatedAt:  now,
		UpdatedAt:  now,
		VMs:        make(map[string]ResourceRecord),
	}
}

// Save writes the document atomically: serialize to a sibling temp file,
// then rename over the target. A crash before the rename leaves the prior
// committed file untouched. UpdatedAt is refreshed; CreatedAt never is.
func (s *Store) Save() error {
	if s.doc == nil {
		return ErrNotLoaded
	}
	s.doc.UpdatedAt = s.now().UTC()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state directory %q: %w", dir, err)
	}
	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state file %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace state file %q: %w", s.path, err)
	}
	return nil
}

// Delete removes the ledger file from disk and drops the in-memory
// document. Called when the last managed resource is destroyed.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove state file %q: %w", s.path, err)
	}
	s.doc = nil
	return nil
}

// SetConfigIdentity refreshes the recorded config path and hash after the
// desired config file changed or moved. Takes effect on the next Save.
func (s *Store) SetConfigIdentity(configPath, configHash string) error {
	if s.doc == nil {
		return ErrNotLoaded
	}
	s.doc.ConfigPath = configPath
	s.doc.ConfigHash = configHash
	return nil
}

// AddResource inserts or overwrites the record for machine.
func (s *Store) AddResource(machine string, rec ResourceRecord) error {
	if s.doc == nil {
		return ErrNotLoaded
	}
	rec.MachineName = machine
	s.doc.VMs[machine] = rec
	return nil
}

// RemoveResource deletes the record for machine, returning it if present.
func (s *Store) RemoveResource(machine string) (ResourceRecord, bool, error) {
	if s.doc == nil {
		return ResourceRecord{}, false, ErrNotLoaded
	}
	rec, ok := s.doc.VMs[machine]
	if ok {
		delete(s.doc.VMs, machine)
	}
	return rec, ok, nil
}

// Resource returns the record for machine, if any.
func (s *Store) Resource(machine string) (ResourceRecord, bool) {
	if s.doc == nil {
		return ResourceRecord{}, false
	}
	rec, ok := s.doc.VMs[machine]
	return rec, ok
}

// ListResources returns all records sorted by machine name.
func (s *Store) ListResources() []ResourceRecord {
	if s.doc == nil {
		return nil
	}
	out := make([]ResourceRecord, 0, len(s.doc.VMs))
	for _, rec := range s.doc.VMs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MachineName < out[j].MachineName })
	return out
}

// Len returns the number of managed resources.
func (s *Store) Len() int {
	if s.doc == nil {
		return 0
	}
	return len(s.doc.VMs)
}

// AddCheckpoint appends a checkpoint to machine's record.
func (s *Store) AddCheckpoint(machine string, cp CheckpointRecord) error {
	if s.doc == nil {
		return ErrNotLoaded
	}
	rec, ok := s.doc.VMs[machine]
	if !ok {
		return fmt.Errorf("machine %q has no managed resource", machine)
	}
	rec.Checkpoints = append(rec.Checkpoints, cp)
	s.doc.VMs[machine] = rec
	return nil
}

// Checkpoint returns machine's checkpoint with the given name, if any.
func (s *Store) Checkpoint(machine, name string) (CheckpointRecord, bool) {
	rec, ok := s.Resource(machine)
	if !ok {
		return CheckpointRecord{}, false
	}
	for _, cp := range rec.Checkpoints {
		if cp.Name == name {
			return cp, true
		}
	}
	return CheckpointRecord{}, false
}

// RemoveCheckpoint deletes machine's checkpoint with the given name,
// returning it if present.
func (s *Store) RemoveCheckpoint(machine, name string) (CheckpointRecord, bool, error) {
	if s.doc == nil {
		return CheckpointRecord{}, false, ErrNotLoaded
	}
	rec, ok := s.doc.VMs[machine]
	if !ok {
		return CheckpointRecord{}, false, nil
	}
	for i, cp := range rec.Checkpoints {
		if cp.Name == name {
			rec.Checkpoints = append(rec.Checkpoints[:i], rec.Checkpoints[i+1:]...)
			s.doc.VMs[machine] = rec
			return cp, true, nil
		}
	}
	return CheckpointRecord{}, false, nil
}

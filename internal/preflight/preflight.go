// Package preflight verifies the environment before any planning happens.
// Failures here are fatal to the invocation and carry a remedy for the
// operator, separating user-fixable problems from environment ones.
package preflight

import (
	"context"
	"fmt"
	"os"

	"vmfleet/config"
	"vmfleet/internal/actuator"
)

// Severity separates what the user can fix from what the environment must.
type Severity string

const (
	SeverityConfig      Severity = "config"
	SeverityEnvironment Severity = "environment"
)

// Error is a failed preflight check with an actionable remedy.
type Error struct {
	Check    string
	Severity Severity
	Remedy   string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("preflight %s failed", e.Check)
	}
	return fmt.Sprintf("preflight %s failed: %v", e.Check, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Run executes every check in order and returns the first failure. act is
// probed with a live observe; base images and the artifact directory are
// checked on the local filesystem.
func Run(ctx context.Context, act actuator.Actuator, project *config.Project) error {
	if _, err := act.Observe(ctx); err != nil {
		return &Error{
			Check:    "platform",
			Severity: SeverityEnvironment,
			Remedy:   "ensure the virtualization platform is enabled and the management service is running",
			Err:      err,
		}
	}

	seen := make(map[string]bool)
	for _, m := range project.Machines {
		if seen[m.BaseImage] {
			continue
		}
		seen[m.BaseImage] = true
		if _, err := os.Stat(m.BaseImage); err != nil {
			return &Error{
				Check:    "base-image",
				Severity: SeverityConfig,
				Remedy:   fmt.Sprintf("place the base image at %s or fix base_image for machine %q", m.BaseImage, m.Name),
				Err:      err,
			}
		}
	}

	if err := os.MkdirAll(project.ArtifactDir, 0o755); err != nil {
		return &Error{
			Check:    "artifact-dir",
			Severity: SeverityEnvironment,
			Remedy:   fmt.Sprintf("make %s creatable and writable", project.ArtifactDir),
			Err:      err,
		}
	}
	probe, err := os.CreateTemp(project.ArtifactDir, ".preflight-*")
	if err != nil {
		return &Error{
			Check:    "artifact-dir",
			Severity: SeverityEnvironment,
			Remedy:   fmt.Sprintf("make %s writable", project.ArtifactDir),
			Err:      err,
		}
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	return nil
}

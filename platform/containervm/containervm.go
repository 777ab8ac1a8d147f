// Package containervm emulates virtual machines as Docker containers so the
// engine can run end to end on hosts without a hypervisor. Containers stand
// in for VM objects: the base image is a container image, the ownership
// marker lives in a label, and checkpoints are image commits.
package containervm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"vmfleet"
	"vmfleet/internal/actuator"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	labelID     = "vmfleet.id"
	labelNote   = "vmfleet.note"
	labelDisk   = "vmfleet.disk"
	labelCPU    = "vmfleet.cpu"
	labelMemory = "vmfleet.memory-mb"

	checkpointRepo = "vmfleet-checkpoint"

	// Guests expose their shell here; the binding gets an ephemeral host
	// port so parallel fleets never collide.
	guestPort = "22/tcp"

	// Every engine call carries a hard wall-clock timeout. Calls that may
	// move image data (pull, commit, restore) get the longer one.
	defaultTimeout = 30 * time.Second
	imageTimeout   = 2 * time.Minute
)

// api is the slice of the Docker client this actuator drives.
type api interface {
	ContainerList(ctx context.Context, options container.ListOptions) ([]container.Summary, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ContainerCommit(ctx context.Context, containerID string, options container.CommitOptions) (types.IDResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
}

// Actuator implements the platform boundary on top of a container engine.
type Actuator struct {
	docker  api
	newID   func() string
	timeout time.Duration
}

// Option configures the Actuator.
type Option func(*Actuator)

// WithTimeout overrides the per-call timeout for queries and mutations.
func WithTimeout(d time.Duration) Option {
	return func(a *Actuator) { a.timeout = d }
}

// New connects to the container engine from the environment.
func New(opts ...Option) (*Actuator, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return FromClient(cli, opts...), nil
}

// FromClient wraps an existing engine client.
func FromClient(docker api, opts ...Option) *Actuator {
	a := &Actuator{docker: docker, newID: uuid.NewString, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// call bounds one engine round-trip.
func (a *Actuator) call(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, d)
}

func (a *Actuator) Observe(ctx context.Context) ([]vmfleet.ObservedResource, error) {
	ctx, cancel := a.call(ctx, a.timeout)
	defer cancel()
	containers, err := a.docker.ContainerList(ctx, container.ListOptions{All: true})
	if err != nil {
		return nil, classify("observe", err)
	}

	out := make([]vmfleet.ObservedResource, 0, len(containers))
	for _, c := range containers {
		name := ""
		if len(c.Names) > 0 {
			name = strings.TrimPrefix(c.Names[0], "/")
		}
		id := c.Labels[labelID]
		if id == "" {
			id = c.ID
		}
		cpu, memoryMB := parseResourceLabels(c.Labels)
		out = append(out, vmfleet.ObservedResource{
			PlatformID: id,
			Name:       name,
			State:      parseState(c.State),
			Note:       c.Labels[labelNote],
			CPU:        cpu,
			MemoryMB:   memoryMB,
		})
	}
	return out, nil
}

func parseState(s string) vmfleet.RuntimeState {
	switch s {
	case "running":
		return vmfleet.StateRunning
	case "created", "exited", "dead":
		return vmfleet.StateOff
	case "paused":
		return vmfleet.StatePaused
	case "restarting", "removing":
		return vmfleet.StateTransitional
	default:
		return vmfleet.StateOther
	}
}

func (a *Actuator) Create(ctx context.Context, spec actuator.CreateSpec) (actuator.CreateResult, error) {
	id := a.newID()

	diskPath := ""
	if spec.DiskStrategy != vmfleet.DiskLink {
		diskPath = filepath.Join(spec.ArtifactDir, spec.Name)
		if err := os.MkdirAll(diskPath, 0o755); err != nil {
			return actuator.CreateResult{}, actuator.NewError(actuator.KindExecutionFailed, "create",
				fmt.Errorf("create disk dir: %w", err))
		}
	}

	cfg := &container.Config{
		Image: spec.BaseImage,
		Labels: map[string]string{
			labelID:     id,
			labelNote:   spec.Note,
			labelDisk:   diskPath,
			labelCPU:    strconv.Itoa(spec.CPU),
			labelMemory: strconv.Itoa(spec.MemoryMB),
		},
		ExposedPorts: nat.PortSet{guestPort: struct{}{}},
	}
	hc := &container.HostConfig{
		Resources: container.Resources{
			NanoCPUs: int64(spec.CPU) * 1e9,
			Memory:   int64(spec.MemoryMB) << 20,
		},
		PortBindings: nat.PortMap{guestPort: []nat.PortBinding{{HostPort: ""}}},
	}
	if diskPath != "" {
		hc.Mounts = []mount.Mount{{Type: mount.TypeBind, Source: diskPath, Target: "/data"}}
	}

	if err := a.create(ctx, spec.Name, spec.BaseImage, cfg, hc); err != nil {
		return actuator.CreateResult{}, err
	}
	return actuator.CreateResult{PlatformID: id, DiskPath: diskPath}, nil
}

// create makes the container, pulling the image and retrying once when it
// is missing locally.
func (a *Actuator) create(ctx context.Context, name, img string, cfg *container.Config, hc *container.HostConfig) error {
	ctx, cancel := a.call(ctx, imageTimeout)
	defer cancel()
	_, err := a.docker.ContainerCreate(ctx, cfg, hc, nil, nil, name)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return classify("create", err)
	}
	if err := a.pull(ctx, img); err != nil {
		return err
	}
	if _, err := a.docker.ContainerCreate(ctx, cfg, hc, nil, nil, name); err != nil {
		return classify("create", err)
	}
	return nil
}

func (a *Actuator) pull(ctx context.Context, img string) error {
	resp, err := a.docker.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return classify("pull", err)
	}
	defer resp.Close()
	if _, err := io.Copy(io.Discard, resp); err != nil {
		return actuator.NewError(actuator.KindExecutionFailed, "pull",
			fmt.Errorf("read pull response: %w", err))
	}
	return nil
}

func (a *Actuator) Start(ctx context.Context, name string) error {
	ctx, cancel := a.call(ctx, a.timeout)
	defer cancel()
	if err := a.docker.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return classify("start", err)
	}
	return nil
}

func (a *Actuator) Stop(ctx context.Context, name string, force bool) error {
	ctx, cancel := a.call(ctx, a.timeout)
	defer cancel()
	if force {
		if err := a.docker.ContainerKill(ctx, name, "KILL"); err != nil {
			return classify("stop", err)
		}
		return nil
	}
	if err := a.docker.ContainerStop(ctx, name, container.StopOptions{}); err != nil {
		return classify("stop", err)
	}
	return nil
}

// Destroy stops and removes the container. Not-found is tolerated so a
// half-destroyed resource can be destroyed again.
func (a *Actuator) Destroy(ctx context.Context, name string) error {
	ctx, cancel := a.call(ctx, a.timeout)
	defer cancel()
	if err := a.docker.ContainerStop(ctx, name, container.StopOptions{}); err != nil && !errdefs.IsNotFound(err) {
		return classify("destroy", err)
	}
	if err := a.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return classify("destroy", err)
	}
	return nil
}

func (a *Actuator) RemoveDisk(_ context.Context, diskPath string) error {
	if diskPath == "" {
		return nil
	}
	if err := os.RemoveAll(diskPath); err != nil {
		return actuator.NewError(actuator.KindExecutionFailed, "remove-disk", err)
	}
	return nil
}

func (a *Actuator) Snapshot(ctx context.Context, name, checkpoint string) (string, error) {
	ctx, cancel := a.call(ctx, imageTimeout)
	defer cancel()
	resp, err := a.docker.ContainerCommit(ctx, name, container.CommitOptions{
		Reference: checkpointRef(name, checkpoint),
		Comment:   "vmfleet checkpoint " + checkpoint,
		Pause:     true,
	})
	if err != nil {
		return "", classify("snapshot", err)
	}
	return resp.ID, nil
}

// RestoreSnapshot replaces the container with one created from the
// checkpoint image, preserving name, labels, and resource limits. The
// restored machine comes back stopped.
func (a *Actuator) RestoreSnapshot(ctx context.Context, name, checkpoint string) error {
	ctx, cancel := a.call(ctx, imageTimeout)
	defer cancel()
	info, err := a.docker.ContainerInspect(ctx, name)
	if err != nil {
		return classify("restore", err)
	}

	cfg := &container.Config{
		Image:  checkpointRef(name, checkpoint),
		Labels: info.Config.Labels,
	}
	hc := &container.HostConfig{}
	if info.HostConfig != nil {
		hc.Resources = info.HostConfig.Resources
		hc.Mounts = info.HostConfig.Mounts
		hc.PortBindings = info.HostConfig.PortBindings
	}

	if err := a.docker.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil && !errdefs.IsNotFound(err) {
		return classify("restore", err)
	}
	if _, err := a.docker.ContainerCreate(ctx, cfg, hc, nil, nil, name); err != nil {
		return classify("restore", err)
	}
	return nil
}

// checkpointRef derives the image reference a checkpoint commit is tagged
// with. Both parts already obey image-tag charset rules.
func checkpointRef(name, checkpoint string) string {
	return checkpointRepo + ":" + name + "-" + checkpoint
}

func classify(op string, err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return actuator.NewError(actuator.KindTimedOut, op, err)
	case errdefs.IsNotFound(err):
		return actuator.NewError(actuator.KindNotFound, op, err)
	case errdefs.IsPermissionDenied(err):
		return actuator.NewError(actuator.KindAccessDenied, op, err)
	case errdefs.IsUnavailable(err), client.IsErrConnectionFailed(err):
		return actuator.NewError(actuator.KindUnavailable, op, err)
	default:
		return actuator.NewError(actuator.KindExecutionFailed, op, err)
	}
}

// parseResourceLabels recovers cpu/memory hints from list output. Missing
// or mangled labels yield zero.
func parseResourceLabels(labels map[string]string) (cpu, memoryMB int) {
	cpu, _ = strconv.Atoi(labels[labelCPU])
	memoryMB, _ = strconv.Atoi(labels[labelMemory])
	return cpu, memoryMB
}

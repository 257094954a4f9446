// Package runtimeadapter implements the Runtime Adapter component (§2,
// §6): the thin boundary between the executor's step sequence and the
// actual container runtime operations (pull, create, start, stop,
// delete, inspect) a deployment needs.
package runtimeadapter

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/cuemby/zaneops/pkg/types"
	"github.com/cuemby/zaneops/pkg/zerr"
)

const (
	// Namespace is the containerd namespace the core operates in.
	Namespace = "zaneops"

	// DefaultSocketPath is the default containerd socket.
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerState mirrors the handful of lifecycle states the executor's
// healthcheck gate and monitoring loop need to distinguish.
type ContainerState string

const (
	StateRunning  ContainerState = "running"
	StateStopped  ContainerState = "stopped"
	StateFailed   ContainerState = "failed"
	StateUnknown  ContainerState = "unknown"
)

// ContainerSpec is everything the adapter needs to realize one container
// for one deployment slot. The identity fields follow the spec's
// idempotent naming convention so re-running the same step after a crash
// finds (and reuses or replaces) the same resource instead of leaking a
// duplicate.
type ContainerSpec struct {
	// Name is the runtime-level container identity:
	// zn-<service_slug>-<unprefixed_id>-<slot>.
	Name         string
	Image        string
	Command      string
	Env          []string
	NetworkAlias string
	Mounts       []specs.Mount
	ResourceLimits types.ResourceLimits
}

// Adapter is the Runtime Adapter's boundary, satisfied by ContainerdAdapter
// in production and faked in executor tests.
type Adapter interface {
	PullImage(ctx context.Context, imageRef string, ignoreCache bool) error
	CreateContainer(ctx context.Context, spec ContainerSpec) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	RemoveContainer(ctx context.Context, containerID string) error
	ContainerState(ctx context.Context, containerID string) (ContainerState, error)
	ContainerIP(ctx context.Context, containerID string) (string, error)
	ContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error)
}

// ContainerdAdapter implements Adapter against a local containerd daemon.
type ContainerdAdapter struct {
	client *containerd.Client
}

func NewContainerdAdapter(socketPath string) (*ContainerdAdapter, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, zerr.Runtime(err, "connect to containerd at %s", socketPath)
	}
	return &ContainerdAdapter{client: client}, nil
}

func (a *ContainerdAdapter) Close() error { return a.client.Close() }

// PullImage pulls imageRef, always re-pulling when ignoreBuildCache was
// requested on the triggering deployment so a floating tag (":latest")
// can actually pick up new content.
func (a *ContainerdAdapter) PullImage(ctx context.Context, imageRef string, ignoreCache bool) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	opts := []containerd.RemoteOpt{containerd.WithPullUnpack}
	if ignoreCache {
		opts = append(opts, containerd.WithForceRefresh)
	}
	if _, err := a.client.Pull(ctx, imageRef, opts...); err != nil {
		return zerr.Builder(err, "pull image %s", imageRef)
	}
	return nil
}

// CreateContainer builds the OCI spec for one deployment slot's
// container: image config, env vars (including the network alias as
// ZANEOPS_NETWORK_ALIAS, consumed by the overlay CNI plugin attaching
// this container to its project network under that alias), resource
// limits, and any volume/config mounts.
func (a *ContainerdAdapter) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)

	image, err := a.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", zerr.Runtime(err, "get image %s (was it pulled?)", spec.Image)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(append(spec.Env, "ZANEOPS_NETWORK_ALIAS="+spec.NetworkAlias)),
	}
	if spec.Command != "" {
		opts = append(opts, oci.WithProcessArgs("/bin/sh", "-c", spec.Command))
	}
	if spec.ResourceLimits.CPUs != "" {
		cores := parseCPUs(spec.ResourceLimits.CPUs)
		opts = append(opts,
			oci.WithCPUShares(uint64(cores*1024)),
			oci.WithCPUCFS(int64(cores*100000), 100000))
	}
	if spec.ResourceLimits.MemoryMB > 0 {
		opts = append(opts, oci.WithMemoryLimit(uint64(spec.ResourceLimits.MemoryMB)*1024*1024))
	}
	if len(spec.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(spec.Mounts))
	}

	c, err := a.client.NewContainer(
		ctx, spec.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return "", zerr.Runtime(err, "create container %s", spec.Name)
	}
	return c.ID(), nil
}

func parseCPUs(cpus string) float64 {
	var v float64
	_, _ = fmt.Sscanf(cpus, "%f", &v)
	if v <= 0 {
		return 1
	}
	return v
}

func (a *ContainerdAdapter) StartContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	c, err := a.client.LoadContainer(ctx, containerID)
	if err != nil {
		return zerr.Runtime(err, "load container %s", containerID)
	}
	task, err := c.NewTask(ctx, cio.NewCreator(cio.WithStdio))
	if err != nil {
		return zerr.Runtime(err, "create task for %s", containerID)
	}
	if err := task.Start(ctx); err != nil {
		return zerr.Runtime(err, "start task for %s", containerID)
	}
	return nil
}

func (a *ContainerdAdapter) StopContainer(ctx context.Context, containerID string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	c, err := a.client.LoadContainer(ctx, containerID)
	if err != nil {
		return zerr.Runtime(err, "load container %s", containerID)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		// already stopped/no task — idempotent
		return nil
	}
	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	exitCh, err := task.Wait(ctx)
	if err != nil {
		return zerr.Runtime(err, "wait on task %s", containerID)
	}
	if err := task.Kill(ctx, 15); err != nil { // SIGTERM
		return zerr.Runtime(err, "signal task %s", containerID)
	}
	select {
	case <-exitCh:
	case <-stopCtx.Done():
		_ = task.Kill(ctx, 9) // SIGKILL escalation on timeout
		<-exitCh
	}
	_, err = task.Delete(ctx)
	return err
}

func (a *ContainerdAdapter) RemoveContainer(ctx context.Context, containerID string) error {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	c, err := a.client.LoadContainer(ctx, containerID)
	if err != nil {
		return nil // already gone
	}
	return c.Delete(ctx, containerd.WithSnapshotCleanup)
}

func (a *ContainerdAdapter) ContainerState(ctx context.Context, containerID string) (ContainerState, error) {
	ctx = namespaces.WithNamespace(ctx, Namespace)
	c, err := a.client.LoadContainer(ctx, containerID)
	if err != nil {
		return StateUnknown, zerr.Runtime(err, "load container %s", containerID)
	}
	task, err := c.Task(ctx, nil)
	if err != nil {
		return StateStopped, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		return StateUnknown, zerr.Runtime(err, "task status for %s", containerID)
	}
	switch status.Status {
	case containerd.Running:
		return StateRunning, nil
	case containerd.Stopped:
		if status.ExitStatus != 0 {
			return StateFailed, nil
		}
		return StateStopped, nil
	default:
		return StateUnknown, nil
	}
}

// ContainerIP is resolved through the CNI plugin's result file rather
// than containerd itself, which is network-agnostic; the overlay network
// driver is out of this component's scope (see DESIGN.md).
func (a *ContainerdAdapter) ContainerIP(ctx context.Context, containerID string) (string, error) {
	return "", zerr.Runtime(nil, "container IP resolution is delegated to the overlay network driver")
}

func (a *ContainerdAdapter) ContainerLogs(ctx context.Context, containerID string) (io.ReadCloser, error) {
	return nil, zerr.Runtime(nil, "log retrieval for %s is not wired to a log driver in this build", containerID)
}

// Package dockerbackend runs instances as containers through the Docker
// Engine API.
package dockerbackend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/polyhost/polyhost-server/internal/domain"
)

const (
	// readyTimeout bounds the readiness wait after container start.
	readyTimeout = 30 * time.Second

	readyPollInterval = 500 * time.Millisecond

	probeTimeout = 2 * time.Second

	stopGraceSeconds = 10
)

// Backend implements [domain.Backend] on the container engine. It also
// provides the engine probe and image pull used during installation.
type Backend struct {
	Client *client.Client
	Logger *log.Logger
}

// New constructs a backend from the standard engine environment
// (DOCKER_HOST and friends). An error here means no engine client could
// be built at all; a constructed backend may still find the engine
// unreachable, which Probe reports.
func New(logger *log.Logger) (*Backend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create engine client: %w", err)
	}
	return &Backend{Client: cli, Logger: logger}, nil
}

func (b *Backend) Kind() domain.BackendKind { return domain.BackendContainer }

// Probe reports whether the engine answers a ping within a short
// timeout.
func (b *Backend) Probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	_, err := b.Client.Ping(ctx)
	return err == nil
}

// PullImage pulls an image, draining the progress stream.
func (b *Backend) PullImage(ctx context.Context, ref string) error {
	reader, err := b.Client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("pull %s: %w", ref, err)
	}
	defer reader.Close()
	_, err = io.Copy(io.Discard, reader)
	return err
}

// Build generates the build descriptor for the instance's runtime and
// builds an image tagged by instance ID.
func (b *Backend) Build(ctx context.Context, def domain.RuntimeDefinition, inst domain.ApplicationInstance) (domain.BackendHandle, error) {
	hasManifest := false
	if def.ManifestFile != "" {
		if _, err := os.Stat(filepath.Join(inst.WorkspacePath, def.ManifestFile)); err == nil {
			hasManifest = true
		}
	}

	dockerfile := renderDockerfile(def, inst, hasManifest)
	buildCtx, err := buildContext(inst.WorkspacePath, dockerfile)
	if err != nil {
		return domain.BackendHandle{}, fmt.Errorf("%w: %v", domain.ErrBuild, err)
	}

	tag := imageTag(inst.ID)
	resp, err := b.Client.ImageBuild(ctx, buildCtx, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return domain.BackendHandle{}, fmt.Errorf("%w: image build: %v", domain.ErrBuild, err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return domain.BackendHandle{}, fmt.Errorf("%w: image build stream: %v", domain.ErrBuild, err)
	}

	b.Logger.Debug("image built", "instance", inst.ID, "tag", tag)
	return domain.BackendHandle{Kind: domain.BackendContainer, ImageTag: tag}, nil
}

// Start creates and starts the container bound to the allocated port
// with engine-level resource limits, then waits for readiness.
func (b *Backend) Start(ctx context.Context, def domain.RuntimeDefinition, inst domain.ApplicationInstance, h domain.BackendHandle) (domain.BackendHandle, error) {
	port := nat.Port(fmt.Sprintf("%d/tcp", inst.Port))

	cfg := &container.Config{
		Image:        h.ImageTag,
		Env:          envList(inst),
		ExposedPorts: nat.PortSet{port: struct{}{}},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			port: []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(inst.Port)}},
		},
		Resources: resources(inst.Limits),
	}

	created, err := b.Client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, containerName(inst.ID))
	if err != nil {
		return domain.BackendHandle{}, fmt.Errorf("%w: create container: %v", domain.ErrBuild, err)
	}
	h.ContainerID = created.ID

	if err := b.Client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		b.removeContainer(created.ID)
		return domain.BackendHandle{}, fmt.Errorf("%w: start container: %v", domain.ErrBuild, err)
	}

	if err := b.waitReady(ctx, created.ID); err != nil {
		b.removeContainer(created.ID)
		return domain.BackendHandle{}, err
	}

	b.Logger.Info("container running", "instance", inst.ID, "container", created.ID[:12], "port", inst.Port)
	return h, nil
}

// waitReady polls the engine's view of the container until it reports
// running (and healthy, when a health check is defined) or the bounded
// window elapses.
func (b *Backend) waitReady(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(readyTimeout)
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	for {
		info, err := b.Client.ContainerInspect(ctx, containerID)
		if err != nil {
			return fmt.Errorf("%w: inspect container: %v", domain.ErrBuild, err)
		}
		state := info.State
		if state != nil {
			if state.Dead || (!state.Running && state.ExitCode != 0) {
				return fmt.Errorf("%w: container exited with code %d", domain.ErrBuild, state.ExitCode)
			}
			if state.Running && (state.Health == nil || state.Health.Status == container.Healthy) {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: not ready after %s", domain.ErrDeploymentTimeout, readyTimeout)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", domain.ErrDeploymentTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop stops and removes the container referenced by the stored handle.
func (b *Backend) Stop(ctx context.Context, inst domain.ApplicationInstance) error {
	if inst.Handle.ContainerID == "" {
		return nil
	}
	grace := stopGraceSeconds
	if err := b.Client.ContainerStop(ctx, inst.Handle.ContainerID, container.StopOptions{Timeout: &grace}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return fmt.Errorf("stop container: %w", err)
	}
	b.removeContainer(inst.Handle.ContainerID)
	return nil
}

// Logs returns the last lines of container output.
func (b *Backend) Logs(ctx context.Context, inst domain.ApplicationInstance, lines int) ([]string, error) {
	if inst.Handle.ContainerID == "" {
		return nil, fmt.Errorf("no container for instance %s: %w", inst.ID, domain.ErrNotFound)
	}
	reader, err := b.Client.ContainerLogs(ctx, inst.Handle.ContainerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(lines),
	})
	if err != nil {
		return nil, fmt.Errorf("container logs: %w", err)
	}
	defer reader.Close()

	// The engine multiplexes stdout and stderr on one stream.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, reader)
		pw.CloseWithError(err)
	}()

	var out []string
	scanner := bufio.NewScanner(pr)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read logs: %w", err)
	}
	return out, nil
}

// UpdateResources applies new caps to the running container through the
// engine, without a restart.
func (b *Backend) UpdateResources(ctx context.Context, inst domain.ApplicationInstance, limits domain.ResourceLimits) error {
	if inst.Handle.ContainerID == "" {
		return fmt.Errorf("no container for instance %s: %w", inst.ID, domain.ErrNotFound)
	}
	_, err := b.Client.ContainerUpdate(ctx, inst.Handle.ContainerID, container.UpdateConfig{
		Resources: resources(limits),
	})
	if err != nil {
		return fmt.Errorf("update container resources: %w", err)
	}
	return nil
}

func (b *Backend) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := b.Client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		b.Logger.Warn("remove container failed", "container", id[:12], "err", err)
	}
}

func resources(limits domain.ResourceLimits) container.Resources {
	var res container.Resources
	if limits.MemoryMB > 0 {
		res.Memory = int64(limits.MemoryMB) * 1024 * 1024
	}
	if limits.CPUMilli > 0 {
		res.NanoCPUs = int64(limits.CPUMilli) * 1_000_000
	}
	return res
}

func envList(inst domain.ApplicationInstance) []string {
	env := make([]string, 0, len(inst.Env)+1)
	for k, v := range inst.Env {
		env = append(env, k+"="+v)
	}
	env = append(env, fmt.Sprintf("PORT=%d", inst.Port))
	return env
}

func imageTag(id domain.InstanceID) string {
	return "polyhost/" + string(id)
}

func containerName(id domain.InstanceID) string {
	return "polyhost-" + string(id)
}

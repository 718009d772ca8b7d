package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const (
	// Container configuration.
	runUser    = "65534:65534" // nobody
	workingDir = "/tmp"
	tmpfsOpts  = "rw,noexec,nosuid,size=16m"

	// Resource limits.
	defaultMemoryMB = 128
	nanoCPUs        = 500_000_000 // 0.5 CPU
	pidsLimit       = 64

	defaultTimeout = 10 * time.Second
	cleanupTimeout = 10 * time.Second
)

var defaultImages = map[Language]string{
	Python:     "python:3.12-alpine",
	JavaScript: "node:22-alpine",
}

// dockerAPI is the part of the Docker client the runner uses.
type dockerAPI interface {
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	ImageInspect(ctx context.Context, imageID string, inspectOpts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	Close() error
}

// DockerOptions configures a DockerRunner. Zero values select defaults.
type DockerOptions struct {
	// Runtime is "" for the default OCI runtime or e.g. "runsc" for gVisor.
	Runtime     string
	Timeout     time.Duration
	MemoryMB    int64
	OutputLimit int
	Images      map[Language]string
}

// DockerRunner runs each request in a fresh container with no network, a
// read-only root filesystem and an unprivileged user. The container is
// removed after the run.
type DockerRunner struct {
	cli    dockerAPI
	opts   DockerOptions
	logger *slog.Logger
}

// NewDockerRunner connects to the Docker daemon from the environment.
func NewDockerRunner(opts DockerOptions, logger *slog.Logger) (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	r := newDockerRunner(cli, opts, logger)
	runtime := opts.Runtime
	if runtime == "" {
		runtime = "default"
	}
	r.logger.Info("Docker runner initialized", "runtime", runtime, "timeout", r.opts.Timeout, "memory_mb", r.opts.MemoryMB)
	return r, nil
}

func newDockerRunner(cli dockerAPI, opts DockerOptions, logger *slog.Logger) *DockerRunner {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MemoryMB <= 0 {
		opts.MemoryMB = defaultMemoryMB
	}
	if opts.OutputLimit <= 0 {
		opts.OutputLimit = DefaultOutputLimit
	}
	images := make(map[Language]string, len(defaultImages))
	for lang, ref := range defaultImages {
		images[lang] = ref
	}
	for lang, ref := range opts.Images {
		images[lang] = ref
	}
	opts.Images = images
	return &DockerRunner{cli: cli, opts: opts, logger: logger}
}

// EnsureImages pulls any runtime image that is not present locally.
func (r *DockerRunner) EnsureImages(ctx context.Context) error {
	for lang, ref := range r.opts.Images {
		_, err := r.cli.ImageInspect(ctx, ref)
		if err == nil {
			continue
		}
		if !errdefs.IsNotFound(err) {
			return fmt.Errorf("inspect image %s: %w", ref, err)
		}

		r.logger.Info("Pulling runner image", "language", lang, "image", ref)
		rc, err := r.cli.ImagePull(ctx, ref, image.PullOptions{})
		if err != nil {
			return fmt.Errorf("pull image %s: %w", ref, err)
		}
		_, copyErr := io.Copy(io.Discard, rc)
		_ = rc.Close()
		if copyErr != nil {
			return fmt.Errorf("pull image %s: %w", ref, copyErr)
		}
	}
	return nil
}

// Run implements Runner.
func (r *DockerRunner) Run(ctx context.Context, req Request) (*Result, error) {
	ref, ok := r.opts.Images[req.Language]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language)
	}

	config := &container.Config{
		Image:           ref,
		Cmd:             command(req),
		User:            runUser,
		WorkingDir:      workingDir,
		NetworkDisabled: true,
		AttachStdout:    true,
		AttachStderr:    true,
		Labels:          map[string]string{"courselab.runner": "1"},
	}
	memory := r.opts.MemoryMB * 1024 * 1024
	hostConfig := &container.HostConfig{
		Runtime:        r.opts.Runtime,
		NetworkMode:    container.NetworkMode("none"),
		ReadonlyRootfs: true,
		Tmpfs:          map[string]string{workingDir: tmpfsOpts},
		CapDrop:        []string{"ALL"},
		SecurityOpt:    []string{"no-new-privileges"},
		Resources: container.Resources{
			Memory:     memory,
			MemorySwap: memory,
			NanoCPUs:   nanoCPUs,
			PidsLimit:  ptr(int64(pidsLimit)),
		},
	}

	start := time.Now()
	resp, err := r.cli.ContainerCreate(ctx, config, hostConfig, nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("create runner container: %w", err)
	}
	defer r.remove(ctx, resp.ID)

	if err := r.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start runner container %s: %w", resp.ID, err)
	}

	result := &Result{}
	runCtx, cancel := context.WithTimeout(ctx, r.opts.Timeout)
	defer cancel()

	statusCh, errCh := r.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		result.ExitCode = int(status.StatusCode)
	case err := <-errCh:
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) || ctx.Err() != nil {
			return nil, fmt.Errorf("wait for runner container %s: %w", resp.ID, err)
		}
		result.TimedOut = true
		result.ExitCode = -1
		r.kill(ctx, resp.ID)
	}
	result.Duration = time.Since(start)

	out := NewCircularBuffer(r.opts.OutputLimit)
	logs, err := r.cli.ContainerLogs(ctx, resp.ID, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, fmt.Errorf("read runner output %s: %w", resp.ID, err)
	}
	defer logs.Close()
	if _, err := stdcopy.StdCopy(out, out, logs); err != nil {
		return nil, fmt.Errorf("demux runner output %s: %w", resp.ID, err)
	}

	result.Output = out.String()
	result.Truncated = out.Truncated()
	if result.TimedOut {
		result.Output += fmt.Sprintf("\n[execution timed out after %s]", r.opts.Timeout)
	}

	r.logger.Info("Runner finished",
		"language", req.Language,
		"exit_code", result.ExitCode,
		"timed_out", result.TimedOut,
		"duration", result.Duration)
	return result, nil
}

// Close releases the Docker client.
func (r *DockerRunner) Close() error {
	return r.cli.Close()
}

func (r *DockerRunner) kill(ctx context.Context, containerID string) {
	if err := r.cli.ContainerKill(ctx, containerID, "KILL"); err != nil && !errdefs.IsNotFound(err) {
		r.logger.Debug("Runner kill returned error", "container_id", containerID, "error", err)
	}
}

// remove force-removes the container. It runs even when ctx is already
// canceled so timed out runs do not leak containers.
func (r *DockerRunner) remove(ctx context.Context, containerID string) {
	cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	err := r.cli.ContainerRemove(cleanupCtx, containerID, container.RemoveOptions{Force: true})
	switch {
	case err == nil, errdefs.IsNotFound(err):
	case strings.Contains(err.Error(), "is already in progress"):
		r.logger.Debug("Runner container removal already in progress", "container_id", containerID)
	default:
		r.logger.Warn("Failed to remove runner container", "container_id", containerID, "error", err)
	}
}

func command(req Request) []string {
	switch req.Language {
	case JavaScript:
		return []string{"node", "-e", req.Code}
	default:
		return []string{"python3", "-c", req.Code}
	}
}

func ptr[T any](v T) *T {
	return &v
}

package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
)

// composeProjectLabel is set by docker compose on every service container.
const composeProjectLabel = "com.docker.compose.project"

// DockerExecutor talks to the Docker Engine API.
type DockerExecutor struct {
	client *client.Client
}

// NewDockerExecutor connects to the Docker daemon, locating the socket when
// DOCKER_HOST is not set, and verifies the connection.
func NewDockerExecutor(ctx context.Context) (*DockerExecutor, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}

	if os.Getenv("DOCKER_HOST") == "" {
		if host := findDockerHost(); host != "" {
			opts = append(opts, client.WithHost(host))
		}
	}
	opts = append(opts, client.FromEnv)

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("docker daemon not reachable: %w", err)
	}
	return &DockerExecutor{client: cli}, nil
}

// findDockerHost returns the Docker host URI based on the platform
func findDockerHost() string {
	switch runtime.GOOS {
	case "windows":
		return "npipe:////./pipe/docker_engine"
	case "darwin":
		home, err := os.UserHomeDir()
		if err == nil {
			for _, sock := range []string{
				filepath.Join(home, ".docker", "run", "docker.sock"),
				filepath.Join(home, ".colima", "default", "docker.sock"),
			} {
				if _, err := os.Stat(sock); err == nil {
					return "unix://" + sock
				}
			}
		}
		if _, err := os.Stat("/var/run/docker.sock"); err == nil {
			return "unix:///var/run/docker.sock"
		}
	default:
		if _, err := os.Stat("/var/run/docker.sock"); err == nil {
			return "unix:///var/run/docker.sock"
		}
		// Rootless Docker
		if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
			sock := filepath.Join(xdgRuntime, "docker.sock")
			if _, err := os.Stat(sock); err == nil {
				return "unix://" + sock
			}
		}
	}
	return ""
}

// Exec runs a command through the exec API, demultiplexing stdout and stderr.
func (d *DockerExecutor) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	execConfig := container.ExecOptions{
		Cmd:          req.Cmd,
		Env:          req.Env,
		AttachStdin:  req.Stdin != nil,
		AttachStdout: true,
		AttachStderr: true,
	}

	resp, err := d.client.ContainerExecCreate(ctx, req.Container, execConfig)
	if err != nil {
		return nil, d.wrapErr(req.Container, "failed to create exec", err)
	}

	attach, err := d.client.ContainerExecAttach(ctx, resp.ID, container.ExecAttachOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to exec in %s: %w", req.Container, err)
	}
	defer attach.Close()

	stdinDone := make(chan error, 1)
	if req.Stdin != nil {
		go func() {
			_, err := io.Copy(attach.Conn, req.Stdin)
			_ = attach.CloseWrite()
			stdinDone <- err
		}()
	} else {
		stdinDone <- nil
	}

	var captured bytes.Buffer
	stdout := req.Stdout
	if stdout == nil {
		stdout = &captured
	}
	var stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(stdout, &stderr, attach.Reader); err != nil {
		return nil, fmt.Errorf("failed to read exec output from %s: %w", req.Container, err)
	}
	attach.Close()
	if err := <-stdinDone; err != nil && !errors.Is(err, io.ErrClosedPipe) {
		logger.Debug("stdin copy ended early", "container", req.Container, "error", err)
	}

	inspect, err := d.client.ContainerExecInspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect exec in %s: %w", req.Container, err)
	}

	return &ExecResult{
		ExitCode: inspect.ExitCode,
		Stdout:   captured.Bytes(),
		Stderr:   stderr.String(),
	}, nil
}

// Running reports whether the container exists and is running.
func (d *DockerExecutor) Running(ctx context.Context, name string) (bool, error) {
	info, err := d.client.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return info.State != nil && info.State.Running, nil
}

// FindByProject returns the first running container of a compose project
// whose image contains imageHint.
func (d *DockerExecutor) FindByProject(ctx context.Context, project, imageHint string) (string, error) {
	containers, err := d.client.ContainerList(ctx, container.ListOptions{
		Filters: filters.NewArgs(filters.Arg("label", composeProjectLabel+"="+project)),
	})
	if err != nil {
		return "", fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range containers {
		if !strings.Contains(strings.ToLower(c.Image), imageHint) || len(c.Names) == 0 {
			continue
		}
		return strings.TrimPrefix(c.Names[0], "/"), nil
	}
	return "", fmt.Errorf("%w: no %s container in project %s", migration.ErrContainerNotFound, imageHint, project)
}

// CopyFrom streams a single file out of the container.
func (d *DockerExecutor) CopyFrom(ctx context.Context, name, srcPath string, dst io.Writer) (int64, error) {
	rc, _, err := d.client.CopyFromContainer(ctx, name, srcPath)
	if err != nil {
		return 0, d.wrapErr(name, "failed to copy "+srcPath, err)
	}
	defer rc.Close()
	return extractFirstFile(rc, dst)
}

// CopyTo writes a host file into the container.
func (d *DockerExecutor) CopyTo(ctx context.Context, name, dstDir, fileName, hostPath string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarFile(pw, fileName, hostPath))
	}()
	defer pr.Close()

	if err := d.client.CopyToContainer(ctx, name, dstDir, pr, container.CopyToContainerOptions{}); err != nil {
		return d.wrapErr(name, "failed to copy into "+dstDir, err)
	}
	return nil
}

// Create creates a helper container, pulling the image when it is missing.
func (d *DockerExecutor) Create(ctx context.Context, spec InstanceSpec) error {
	config := &container.Config{
		Image:  spec.Image,
		Cmd:    spec.Cmd,
		Labels: map[string]string{"dbmigrate.ephemeral": "true"},
	}
	hostConfig := &container.HostConfig{AutoRemove: false}

	_, err := d.client.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	if err != nil && errdefs.IsNotFound(err) {
		if pullErr := d.pull(ctx, spec.Image); pullErr != nil {
			return pullErr
		}
		_, err = d.client.ContainerCreate(ctx, config, hostConfig, nil, nil, spec.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", spec.Name, err)
	}
	return nil
}

func (d *DockerExecutor) pull(ctx context.Context, ref string) error {
	logger.Info("Pulling image", "image", ref)
	rc, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer rc.Close()
	_, err = io.Copy(io.Discard, rc)
	return err
}

// Start starts a created container.
func (d *DockerExecutor) Start(ctx context.Context, name string) error {
	if err := d.client.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", name, err)
	}
	return nil
}

// Remove force-removes a container and its anonymous volumes.
func (d *DockerExecutor) Remove(ctx context.Context, name string) error {
	err := d.client.ContainerRemove(ctx, name, container.RemoveOptions{Force: true, RemoveVolumes: true})
	if err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// Close closes the Docker client.
func (d *DockerExecutor) Close() error {
	return d.client.Close()
}

func (d *DockerExecutor) wrapErr(name, msg string, err error) error {
	if errdefs.IsNotFound(err) || errdefs.IsConflict(err) {
		return fmt.Errorf("%s in %s: %w: %v", msg, name, migration.ErrContainerNotFound, err)
	}
	return fmt.Errorf("%s in %s: %w", msg, name, err)
}

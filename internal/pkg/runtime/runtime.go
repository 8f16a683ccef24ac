// Package runtime provides container runtime detection and abstraction.
// Supports Docker and Podman with automatic detection.
package runtime

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ContainerRuntime represents the container runtime to use.
type ContainerRuntime string

const (
	// RuntimeAuto automatically detects the available runtime.
	RuntimeAuto ContainerRuntime = "auto"

	// RuntimeDocker uses the Docker Engine API.
	RuntimeDocker ContainerRuntime = "docker"

	// RuntimeDockerCLI shells out to the docker binary.
	RuntimeDockerCLI ContainerRuntime = "docker-cli"

	// RuntimePodman shells out to the podman binary.
	RuntimePodman ContainerRuntime = "podman"
)

// String returns the string representation of the runtime.
func (r ContainerRuntime) String() string {
	return string(r)
}

// IsValid checks if the runtime is a valid option.
func (r ContainerRuntime) IsValid() bool {
	switch r {
	case RuntimeAuto, RuntimeDocker, RuntimeDockerCLI, RuntimePodman:
		return true
	default:
		return false
	}
}

// Binary returns the CLI binary used by the runtime.
func (r ContainerRuntime) Binary() string {
	if r == RuntimePodman {
		return "podman"
	}
	return "docker"
}

// ParseRuntime parses a string into a ContainerRuntime.
func ParseRuntime(s string) (ContainerRuntime, error) {
	switch strings.ToLower(s) {
	case "auto", "":
		return RuntimeAuto, nil
	case "docker":
		return RuntimeDocker, nil
	case "docker-cli":
		return RuntimeDockerCLI, nil
	case "podman", "podman-cli":
		return RuntimePodman, nil
	default:
		return "", fmt.Errorf("invalid runtime: %s (valid: auto, docker, docker-cli, podman)", s)
	}
}

// Info contains information about a detected container runtime.
type Info struct {
	// Runtime is the detected runtime type.
	Runtime ContainerRuntime

	// Version is the runtime version string.
	Version string

	// Rootless indicates if the runtime is running in rootless mode.
	Rootless bool
}

// Detect automatically detects an available CLI runtime.
// It prefers Docker if both are available.
func Detect(ctx context.Context) (*Info, error) {
	if info, err := detectDocker(ctx); err == nil {
		return info, nil
	}

	if info, err := detectPodman(ctx); err == nil {
		return info, nil
	}

	return nil, fmt.Errorf("no container runtime found: install Docker or Podman")
}

// DetectSpecific detects a specific runtime.
func DetectSpecific(ctx context.Context, runtime ContainerRuntime) (*Info, error) {
	switch runtime {
	case RuntimeAuto:
		return Detect(ctx)
	case RuntimeDocker, RuntimeDockerCLI:
		return detectDocker(ctx)
	case RuntimePodman:
		return detectPodman(ctx)
	default:
		return nil, fmt.Errorf("invalid runtime: %s", runtime)
	}
}

// detectDocker checks if Docker is available and gets its info.
func detectDocker(ctx context.Context) (*Info, error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return nil, fmt.Errorf("docker not found: %w", err)
	}

	output, err := exec.CommandContext(ctx, "docker", "version", "--format", "{{.Server.Version}}").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get docker version: %w", err)
	}

	return &Info{
		Runtime:  RuntimeDockerCLI,
		Version:  strings.TrimSpace(string(output)),
		Rootless: isDockerRootless(ctx),
	}, nil
}

// isDockerRootless checks if Docker is running in rootless mode.
func isDockerRootless(ctx context.Context) bool {
	output, err := exec.CommandContext(ctx, "docker", "info", "--format", "{{.SecurityOptions}}").Output()
	if err != nil {
		return false
	}
	return strings.Contains(string(output), "rootless")
}

// detectPodman checks if Podman is available and gets its info.
func detectPodman(ctx context.Context) (*Info, error) {
	if _, err := exec.LookPath("podman"); err != nil {
		return nil, fmt.Errorf("podman not found: %w", err)
	}

	output, err := exec.CommandContext(ctx, "podman", "version", "--format", "{{.Version}}").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get podman version: %w", err)
	}

	return &Info{
		Runtime:  RuntimePodman,
		Version:  strings.TrimSpace(string(output)),
		Rootless: true, // Podman is rootless by default
	}, nil
}

// Package container is the boundary between the migration tool and the
// container runtime. The tool only needs to run a command inside a named
// container, move single files in and out of containers, and start
// short-lived helper containers.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/thetolkienblack/home-lab-automation/internal/pkg/redact"
)

// ExecRequest describes a command run inside a container.
type ExecRequest struct {
	// Container is the container name or ID.
	Container string
	// Cmd is the argv executed in the container.
	Cmd []string
	// Env holds extra KEY=VALUE pairs for the command. Secrets are passed
	// here rather than on the command line.
	Env []string
	// Stdin is streamed to the command when set.
	Stdin io.Reader
	// Stdout receives the command's standard output. When nil the output is
	// captured in ExecResult.Stdout.
	Stdout io.Writer
}

// ExecResult is the outcome of a command that ran to completion.
type ExecResult struct {
	ExitCode int
	Stdout   []byte
	Stderr   string
}

// Success reports a zero exit code.
func (r *ExecResult) Success() bool {
	return r != nil && r.ExitCode == 0
}

// Output returns the captured stdout without surrounding whitespace.
func (r *ExecResult) Output() string {
	return strings.TrimSpace(string(r.Stdout))
}

// ExitError converts a non-zero exit into an error carrying stderr.
func (r *ExecResult) ExitError(what string) error {
	if r.Success() {
		return nil
	}
	msg := strings.TrimSpace(r.Stderr)
	if msg == "" {
		msg = strings.TrimSpace(string(r.Stdout))
	}
	msg = redact.String(msg)
	if len(msg) > 512 {
		msg = msg[:512] + "..."
	}
	return fmt.Errorf("%s exited with code %d: %s", what, r.ExitCode, msg)
}

// InstanceSpec describes a throwaway helper container.
type InstanceSpec struct {
	// Name is the container name; it must be unique on the host.
	Name  string
	Image string
	Cmd   []string
	// Seed is copied into the container before it starts.
	Seed *SeedFile
	// ReadyCmd is executed until its stdout contains ReadyOutput.
	ReadyCmd    []string
	ReadyOutput string
}

// SeedFile is a host file placed into a container at Dir/Name.
type SeedFile struct {
	HostPath string
	Dir      string
	Name     string
}

// Executor runs commands and moves files across the container boundary.
type Executor interface {
	// Exec runs a command to completion. The error is non-nil only when the
	// command could not be run at all; a non-zero exit is reported in the result.
	Exec(ctx context.Context, req ExecRequest) (*ExecResult, error)

	// Running reports whether the named container exists and is running.
	// A missing container is reported as false with a nil error.
	Running(ctx context.Context, name string) (bool, error)

	// FindByProject returns the name of a running container labelled with
	// the compose project whose image contains imageHint.
	FindByProject(ctx context.Context, project, imageHint string) (string, error)

	// CopyFrom streams the content of a single file in the container to dst.
	CopyFrom(ctx context.Context, name, srcPath string, dst io.Writer) (int64, error)

	// CopyTo writes a host file into dstDir inside the container.
	CopyTo(ctx context.Context, name, dstDir, fileName, hostPath string) error

	// Create creates (but does not start) a helper container.
	Create(ctx context.Context, spec InstanceSpec) error

	// Start starts a created container.
	Start(ctx context.Context, name string) error

	// Remove force-removes a container.
	Remove(ctx context.Context, name string) error

	// Close releases the runtime connection.
	Close() error
}

// Run executes cmd in the container and captures its output.
func Run(ctx context.Context, ex Executor, name string, env []string, cmd ...string) (*ExecResult, error) {
	return ex.Exec(ctx, ExecRequest{Container: name, Cmd: cmd, Env: env})
}

// RunInput executes cmd with stdin and captures its output.
func RunInput(ctx context.Context, ex Executor, name string, env []string, stdin []byte, cmd ...string) (*ExecResult, error) {
	return ex.Exec(ctx, ExecRequest{Container: name, Cmd: cmd, Env: env, Stdin: bytes.NewReader(stdin)})
}

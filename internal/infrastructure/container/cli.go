package container

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

// CLIExecutor drives a docker-compatible CLI binary (docker or podman).
type CLIExecutor struct {
	binary string
	// run is replaced in tests. env is added to the environment of the
	// binary itself.
	run func(ctx context.Context, env []string, stdin io.Reader, stdout, stderr io.Writer, args ...string) (int, error)
}

// NewCLIExecutor creates an executor for the given binary.
func NewCLIExecutor(binary string) *CLIExecutor {
	c := &CLIExecutor{binary: binary}
	c.run = c.runBinary
	return c
}

func (c *CLIExecutor) runBinary(ctx context.Context, env []string, stdin io.Reader, stdout, stderr io.Writer, args ...string) (int, error) {
	cmd := exec.CommandContext(ctx, c.binary, args...)
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	cmd.Stdin = stdin
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, fmt.Errorf("failed to run %s: %w", c.binary, err)
	}
	return 0, nil
}

// Exec runs `<binary> exec -i [-e KEY...] name cmd...`. Only variable names
// appear in argv; the CLI copies the values from its own environment.
func (c *CLIExecutor) Exec(ctx context.Context, req ExecRequest) (*ExecResult, error) {
	args := []string{"exec"}
	if req.Stdin != nil {
		args = append(args, "-i")
	}
	for _, e := range req.Env {
		name, _, _ := strings.Cut(e, "=")
		args = append(args, "-e", name)
	}
	args = append(args, req.Container)
	args = append(args, req.Cmd...)

	var captured, stderr bytes.Buffer
	stdout := req.Stdout
	if stdout == nil {
		stdout = &captured
	}

	code, err := c.run(ctx, req.Env, req.Stdin, stdout, &stderr, args...)
	if err != nil {
		return nil, err
	}
	if code != 0 && isMissingContainer(stderr.String()) {
		return nil, fmt.Errorf("exec in %s: %w: %s", req.Container, migration.ErrContainerNotFound, strings.TrimSpace(stderr.String()))
	}
	return &ExecResult{ExitCode: code, Stdout: captured.Bytes(), Stderr: stderr.String()}, nil
}

// Running inspects the container state.
func (c *CLIExecutor) Running(ctx context.Context, name string) (bool, error) {
	var stdout, stderr bytes.Buffer
	code, err := c.run(ctx, nil, nil, &stdout, &stderr, "inspect", "--format", "{{.State.Running}}", name)
	if err != nil {
		return false, err
	}
	if code != 0 {
		if isMissingContainer(stderr.String()) {
			return false, nil
		}
		return false, fmt.Errorf("failed to inspect container %s: %s", name, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()) == "true", nil
}

// FindByProject lists running containers of a compose project.
func (c *CLIExecutor) FindByProject(ctx context.Context, project, imageHint string) (string, error) {
	var stdout, stderr bytes.Buffer
	code, err := c.run(ctx, nil, nil, &stdout, &stderr, "ps",
		"--filter", "label="+composeProjectLabel+"="+project,
		"--format", "{{.Names}}\t{{.Image}}")
	if err != nil {
		return "", err
	}
	if code != 0 {
		return "", fmt.Errorf("failed to list containers: %s", strings.TrimSpace(stderr.String()))
	}
	for _, line := range strings.Split(stdout.String(), "\n") {
		name, img, ok := strings.Cut(strings.TrimSpace(line), "\t")
		if !ok || !strings.Contains(strings.ToLower(img), imageHint) {
			continue
		}
		return name, nil
	}
	return "", fmt.Errorf("%w: no %s container in project %s", migration.ErrContainerNotFound, imageHint, project)
}

// CopyFrom runs `<binary> cp name:path -`, which emits a tar stream.
func (c *CLIExecutor) CopyFrom(ctx context.Context, name, srcPath string, dst io.Writer) (int64, error) {
	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	done := make(chan struct {
		code int
		err  error
	}, 1)
	go func() {
		code, err := c.run(ctx, nil, nil, pw, &stderr, "cp", name+":"+srcPath, "-")
		_ = pw.Close()
		done <- struct {
			code int
			err  error
		}{code, err}
	}()

	n, extractErr := extractFirstFile(pr, dst)
	_, _ = io.Copy(io.Discard, pr)
	res := <-done
	if res.err != nil {
		return n, res.err
	}
	if res.code != 0 {
		if isMissingContainer(stderr.String()) {
			return n, fmt.Errorf("copy from %s: %w", name, migration.ErrContainerNotFound)
		}
		return n, fmt.Errorf("failed to copy %s from %s: %s", srcPath, name, strings.TrimSpace(stderr.String()))
	}
	return n, extractErr
}

// CopyTo runs `<binary> cp - name:dir` with a tar stream on stdin.
func (c *CLIExecutor) CopyTo(ctx context.Context, name, dstDir, fileName, hostPath string) error {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(tarFile(pw, fileName, hostPath))
	}()
	defer pr.Close()

	var stderr bytes.Buffer
	code, err := c.run(ctx, nil, pr, io.Discard, &stderr, "cp", "-", name+":"+dstDir)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("failed to copy into %s:%s: %s", name, dstDir, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Create runs `<binary> create`.
func (c *CLIExecutor) Create(ctx context.Context, spec InstanceSpec) error {
	args := []string{"create", "--name", spec.Name, "--label", "dbmigrate.ephemeral=true", spec.Image}
	args = append(args, spec.Cmd...)
	return c.simple(ctx, "create container "+spec.Name, args...)
}

// Start runs `<binary> start`.
func (c *CLIExecutor) Start(ctx context.Context, name string) error {
	return c.simple(ctx, "start container "+name, "start", name)
}

// Remove runs `<binary> rm -f -v`; a missing container is not an error.
func (c *CLIExecutor) Remove(ctx context.Context, name string) error {
	var stderr bytes.Buffer
	code, err := c.run(ctx, nil, nil, io.Discard, &stderr, "rm", "-f", "-v", name)
	if err != nil {
		return err
	}
	if code != 0 && !isMissingContainer(stderr.String()) {
		return fmt.Errorf("failed to remove container %s: %s", name, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// Close is a no-op for the CLI executor.
func (c *CLIExecutor) Close() error {
	return nil
}

func (c *CLIExecutor) simple(ctx context.Context, what string, args ...string) error {
	var stderr bytes.Buffer
	code, err := c.run(ctx, nil, nil, io.Discard, &stderr, args...)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("failed to %s: %s", what, strings.TrimSpace(stderr.String()))
	}
	return nil
}

func isMissingContainer(stderr string) bool {
	s := strings.ToLower(stderr)
	return strings.Contains(s, "no such container") ||
		strings.Contains(s, "no container with name or id") ||
		strings.Contains(s, "is not running")
}

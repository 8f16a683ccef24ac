// Package containertest provides an in-memory container.Executor for tests.
package containertest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
)

// Handler answers one exec call. stdin holds everything the caller streamed.
type Handler func(req container.ExecRequest, stdin []byte) (*container.ExecResult, error)

// Call records one exec.
type Call struct {
	Container string
	Cmd       []string
	Env       []string
	Stdin     []byte
}

// Executor is a scriptable container.Executor.
type Executor struct {
	mu sync.Mutex

	// Live lists the containers that exist and run.
	Live map[string]bool
	// Handlers answer execs per container name.
	Handlers map[string]Handler
	// Fallback answers execs in running containers without a handler.
	Fallback Handler
	// Projects maps a compose project to "name\timage" entries.
	Projects map[string][]string
	// Files holds container files served by CopyFrom, keyed "name:path".
	Files map[string][]byte

	// Copied records CopyTo calls, keyed "name:dir/file".
	Copied  map[string][]byte
	Created []container.InstanceSpec
	Started []string
	Removed []string
	Calls   []Call

	CreateErr error
	StartErr  error
	RemoveErr error
}

// New returns an executor where the given containers are running.
func New(running ...string) *Executor {
	e := &Executor{
		Live:     make(map[string]bool),
		Handlers: make(map[string]Handler),
		Projects: make(map[string][]string),
		Files:    make(map[string][]byte),
		Copied:   make(map[string][]byte),
	}
	for _, name := range running {
		e.Live[name] = true
	}
	return e
}

// Handle registers the exec handler of a container and marks it running.
func (e *Executor) Handle(name string, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Handlers[name] = h
	e.Live[name] = true
}

// CallsTo returns the recorded execs for a container.
func (e *Executor) CallsTo(name string) []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Call
	for _, c := range e.Calls {
		if c.Container == name {
			out = append(out, c)
		}
	}
	return out
}

func (e *Executor) Exec(ctx context.Context, req container.ExecRequest) (*container.ExecResult, error) {
	var stdin []byte
	if req.Stdin != nil {
		var err error
		if stdin, err = io.ReadAll(req.Stdin); err != nil {
			return nil, err
		}
	}

	e.mu.Lock()
	e.Calls = append(e.Calls, Call{Container: req.Container, Cmd: req.Cmd, Env: req.Env, Stdin: stdin})
	h, ok := e.Handlers[req.Container]
	if !ok && e.Fallback != nil {
		h, ok = e.Fallback, true
	}
	running := e.Live[req.Container]
	e.mu.Unlock()

	if !running {
		return nil, fmt.Errorf("exec in %s: %w", req.Container, migration.ErrContainerNotFound)
	}
	if !ok {
		return &container.ExecResult{ExitCode: 127, Stderr: "no handler"}, nil
	}
	res, err := h(req, stdin)
	if err != nil {
		return nil, err
	}
	if req.Stdout != nil && res != nil {
		if _, err := req.Stdout.Write(res.Stdout); err != nil {
			return nil, err
		}
		res = &container.ExecResult{ExitCode: res.ExitCode, Stderr: res.Stderr}
	}
	return res, nil
}

func (e *Executor) Running(ctx context.Context, name string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.Live[name], nil
}

func (e *Executor) FindByProject(ctx context.Context, project, imageHint string) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, entry := range e.Projects[project] {
		name, img, _ := strings.Cut(entry, "\t")
		if strings.Contains(img, imageHint) && e.Live[name] {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: project %s", migration.ErrContainerNotFound, project)
}

func (e *Executor) CopyFrom(ctx context.Context, name, srcPath string, dst io.Writer) (int64, error) {
	e.mu.Lock()
	data, ok := e.Files[name+":"+srcPath]
	e.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("no file %s in %s", srcPath, name)
	}
	return io.Copy(dst, bytes.NewReader(data))
}

func (e *Executor) CopyTo(ctx context.Context, name, dstDir, fileName, hostPath string) error {
	data, err := os.ReadFile(hostPath)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Copied[name+":"+strings.TrimSuffix(dstDir, "/")+"/"+fileName] = data
	return nil
}

func (e *Executor) Create(ctx context.Context, spec container.InstanceSpec) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.CreateErr != nil {
		return e.CreateErr
	}
	e.Created = append(e.Created, spec)
	return nil
}

func (e *Executor) Start(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.StartErr != nil {
		return e.StartErr
	}
	e.Started = append(e.Started, name)
	e.Live[name] = true
	return nil
}

func (e *Executor) Remove(ctx context.Context, name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.Removed = append(e.Removed, name)
	delete(e.Live, name)
	return e.RemoveErr
}

func (e *Executor) Close() error {
	return nil
}

// Reply builds a successful result with the given stdout.
func Reply(stdout string) *container.ExecResult {
	return &container.ExecResult{Stdout: []byte(stdout)}
}

// Fail builds a failed result with the given exit code and stderr.
func Fail(code int, stderr string) *container.ExecResult {
	return &container.ExecResult{ExitCode: code, Stderr: stderr}
}

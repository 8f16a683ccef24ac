package engine

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/sqlcmd"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
)

// relationalTool holds the client commands that differ between SQL engines.
type relationalTool interface {
	dumpCmd(user, db string) []string
	importCmd(user, db string) []string
	// importError inspects a completed import and reports what went wrong.
	importError(res *container.ExecResult) error
}

// Relational is the adapter shared by the SQL engines. Dumps are taken with
// the engine's dump client inside the source container and replayed as the
// target superuser.
type Relational struct {
	kind     migration.EngineKind
	dialect  sqlcmd.Dialect
	tool     relationalTool
	executor container.Executor
	target   string
	user     string
	password string
	runner   sqlcmd.Runner
	scripts  *ScriptLog
}

func newRelational(kind migration.EngineKind, opts Options, tool relationalTool) (*Relational, error) {
	dialect, err := sqlcmd.ForEngine(kind)
	if err != nil {
		return nil, err
	}
	scripts, err := scriptLog(opts, kind, ".sql", "--")
	if err != nil {
		return nil, err
	}
	user := opts.TargetUser
	if user == "" {
		user = dialect.Superuser()
	}
	return &Relational{
		kind:     kind,
		dialect:  dialect,
		tool:     tool,
		executor: opts.Executor,
		target:   opts.Target,
		user:     user,
		password: opts.TargetPassword,
		runner:   sqlRunner(opts, dialect),
		scripts:  scripts,
	}, nil
}

func (e *Relational) Kind() migration.EngineKind {
	return e.kind
}

func (e *Relational) Ping(ctx context.Context) error {
	if err := targetRunning(ctx, e.executor, e.target); err != nil {
		return err
	}
	if _, err := e.runner.QueryInt(ctx, e.dialect.Ping()); err != nil {
		return fmt.Errorf("%w: %v", migration.ErrTargetUnreachable, err)
	}
	return nil
}

func (e *Relational) Dump(ctx context.Context, job *migration.Job, dir string) (*migration.DumpArtifact, error) {
	svc := job.Service
	if svc.Container == "" {
		return nil, fmt.Errorf("%w: no source container for %s", migration.ErrContainerNotFound, svc.Name)
	}
	log := logger.ForService(svc.Name, e.kind.String())

	path := filepath.Join(dir, svc.Name+".sql")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create dump file: %w", err)
	}
	defer f.Close()

	db := svc.Credentials.Database
	tier, err := Iterate(ctx, RelationalStrategies(svc.Credentials, e.dialect.Superuser()), func(ctx context.Context, s CredentialStrategy) error {
		if err := rewind(f); err != nil {
			return Stop(err)
		}
		cmd := e.tool.dumpCmd(s.User, db)
		res, err := e.executor.Exec(ctx, container.ExecRequest{
			Container: svc.Container,
			Cmd:       cmd,
			Env:       e.dialect.PasswordEnv(s.Password),
			Stdout:    f,
		})
		if err != nil {
			return Stop(err)
		}
		if err := res.ExitError(cmd[0]); err != nil {
			return err
		}
		info, err := f.Stat()
		if err != nil {
			return Stop(err)
		}
		if info.Size() == 0 {
			return migration.ErrDumpEmpty
		}
		return nil
	})
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	tables, err := countTables(f)
	if err != nil {
		return nil, fmt.Errorf("failed to scan dump: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	log.Info("Dump complete", "strategy", tier.Name, "bytes", info.Size(), "tables", tables)
	artifact := &migration.DumpArtifact{
		Service:       svc.Name,
		Format:        migration.FormatSQLScript,
		Path:          path,
		Size:          info.Size(),
		ExpectedCount: tables,
		AuthTier:      tier.Name,
	}
	return artifact, artifact.Validate()
}

func (e *Relational) Provision(ctx context.Context, job *migration.Job) error {
	creds := job.Service.Credentials
	if err := sqlcmd.CheckUser(e.dialect, creds.User, e.user); err != nil {
		return err
	}
	stmts := sqlcmd.Provision(e.dialect, creds.Database, creds.User, creds.Password)
	if err := e.scripts.Append(job.Service.Name, sqlcmd.Script(stmts)); err != nil {
		logger.Warn("Failed to record provisioning script", "service", job.Service.Name, "error", err)
	}
	if err := e.runner.Exec(ctx, stmts...); err != nil {
		return fmt.Errorf("failed to provision %s: %w", creds.Database, err)
	}
	return nil
}

func (e *Relational) Import(ctx context.Context, job *migration.Job) error {
	f, err := os.Open(job.Artifact.Path)
	if err != nil {
		return fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	res, err := e.executor.Exec(ctx, container.ExecRequest{
		Container: e.target,
		Cmd:       e.tool.importCmd(e.user, job.Service.Credentials.Database),
		Env:       e.dialect.PasswordEnv(e.password),
		Stdin:     f,
	})
	if err != nil {
		return err
	}
	if err := e.tool.importError(res); err != nil {
		return fmt.Errorf("%w: %v", migration.ErrImportPartial, err)
	}
	return nil
}

func (e *Relational) Verify(ctx context.Context, job *migration.Job) (*migration.VerifyResult, error) {
	n, err := e.runner.QueryInt(ctx, e.dialect.CountTables(job.Service.Credentials.Database))
	if err != nil {
		return nil, fmt.Errorf("failed to count tables: %w", err)
	}
	var expected int64
	if job.Artifact != nil {
		expected = job.Artifact.ExpectedCount
	}
	return migration.NewVerifyResult(migration.VerifyExact, "tables", expected, n), nil
}

func (e *Relational) Close() error {
	return e.runner.Close()
}

// targetRunning reports ErrTargetUnreachable unless the target container runs.
func targetRunning(ctx context.Context, ex container.Executor, target string) error {
	running, err := ex.Running(ctx, target)
	if err != nil {
		return fmt.Errorf("%w: %v", migration.ErrTargetUnreachable, err)
	}
	if !running {
		return fmt.Errorf("%w: container %s is not running", migration.ErrTargetUnreachable, target)
	}
	return nil
}

func rewind(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, io.SeekStart)
	return err
}

var createTable = regexp.MustCompile(`^CREATE (?:UNLOGGED |TEMPORARY |TEMP )?TABLE `)

// countTables counts table definitions at the start of a dump line.
func countTables(r io.Reader) (int64, error) {
	br := bufio.NewReaderSize(r, 64*1024)
	var n int64
	lineStart := true
	for {
		chunk, isPrefix, err := br.ReadLine()
		if lineStart && createTable.Match(chunk) {
			n++
		}
		lineStart = !isPrefix
		if err == io.EOF {
			return n, nil
		}
		if err != nil {
			return n, err
		}
	}
}

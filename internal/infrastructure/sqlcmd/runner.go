package sqlcmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
)

// Runner executes statements against the target.
type Runner interface {
	// Exec runs statements in order and stops at the first failure.
	Exec(ctx context.Context, stmts ...Statement) error
	// QueryInt runs a single-value query and parses the result.
	QueryInt(ctx context.Context, stmt Statement) (int64, error)
	Close() error
}

// ExecRunner runs statements through the engine's command-line client
// inside the target container.
type ExecRunner struct {
	executor  container.Executor
	container string
	dialect   Dialect
	user      string
	password  string
}

// NewExecRunner creates a runner that authenticates as user. An empty user
// selects the dialect's superuser.
func NewExecRunner(executor container.Executor, containerName string, dialect Dialect, user, password string) *ExecRunner {
	if user == "" {
		user = dialect.Superuser()
	}
	return &ExecRunner{
		executor:  executor,
		container: containerName,
		dialect:   dialect,
		user:      user,
		password:  password,
	}
}

func (r *ExecRunner) Exec(ctx context.Context, stmts ...Statement) error {
	for _, group := range groupByDatabase(stmts) {
		var script strings.Builder
		for _, s := range group {
			script.WriteString(s.SQL)
			script.WriteString(";\n")
		}
		db := group[0].Database
		res, err := container.RunInput(ctx, r.executor, r.container, r.dialect.PasswordEnv(r.password),
			[]byte(script.String()), r.dialect.scriptCmd(r.user, db)...)
		if err != nil {
			return err
		}
		if err := res.ExitError(r.dialect.scriptCmd(r.user, db)[0]); err != nil {
			return fmt.Errorf("failed to execute %d statement(s): %w", len(group), err)
		}
	}
	return nil
}

func (r *ExecRunner) QueryInt(ctx context.Context, stmt Statement) (int64, error) {
	cmd := r.dialect.queryCmd(r.user, stmt.Database, stmt.SQL)
	res, err := container.Run(ctx, r.executor, r.container, r.dialect.PasswordEnv(r.password), cmd...)
	if err != nil {
		return 0, err
	}
	if err := res.ExitError(cmd[0]); err != nil {
		return 0, err
	}
	return parseInt(res.Output())
}

func (r *ExecRunner) Close() error {
	return nil
}

// groupByDatabase splits stmts into runs of consecutive statements that
// share a database.
func groupByDatabase(stmts []Statement) [][]Statement {
	var groups [][]Statement
	for i, s := range stmts {
		if i == 0 || s.Database != stmts[i-1].Database {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], s)
	}
	return groups
}

func parseInt(out string) (int64, error) {
	lines := strings.Fields(out)
	if len(lines) == 0 {
		return 0, fmt.Errorf("query returned no value")
	}
	n, err := strconv.ParseInt(lines[len(lines)-1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("unexpected query output %q: %w", out, err)
	}
	return n, nil
}

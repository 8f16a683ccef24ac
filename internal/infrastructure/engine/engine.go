// Package engine provides the data-store adapters that dump a service from
// its source container, provision the consolidated target, import the dump
// and verify the result.
package engine

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/sqlcmd"
)

// Default settings for the key-value adapter.
const (
	DefaultRedisImage   = "redis:7-alpine"
	DefaultReadyTimeout = 30 * time.Second
)

// Options configures an engine adapter.
type Options struct {
	Executor container.Executor
	// Target is the consolidated target container.
	Target         string
	TargetUser     string
	TargetPassword string
	// TargetAddr switches provisioning and verification to a direct
	// network connection (host:port).
	TargetAddr string
	// ScriptDir receives the provisioning script. Empty disables it.
	ScriptDir string

	RedisMethod  migration.RedisMethod
	RedisImage   string
	ReadyTimeout time.Duration
	// ReadRate limits source key reads per second; zero is unlimited.
	ReadRate float64
}

// New creates the adapter for kind.
func New(kind migration.EngineKind, opts Options) (migration.Engine, error) {
	if opts.Executor == nil {
		return nil, fmt.Errorf("engine %s requires a container executor", kind)
	}
	if opts.Target == "" {
		return nil, fmt.Errorf("engine %s requires a target container", kind)
	}

	switch kind {
	case migration.EnginePostgres:
		return newRelational(kind, opts, pgTool{})
	case migration.EngineMySQL:
		return newRelational(kind, opts, mysqlTool{})
	case migration.EngineRedis:
		return NewRedis(opts)
	default:
		return nil, fmt.Errorf("unsupported engine: %q", kind)
	}
}

// NewRegistry registers the adapter for kind.
func NewRegistry(kind migration.EngineKind, opts Options) (*migration.Registry, error) {
	e, err := New(kind, opts)
	if err != nil {
		return nil, err
	}
	r := migration.NewRegistry()
	r.Register(e)
	return r, nil
}

func scriptLog(opts Options, kind migration.EngineKind, ext, comment string) (*ScriptLog, error) {
	if opts.ScriptDir == "" {
		return nil, nil
	}
	return NewScriptLog(filepath.Join(opts.ScriptDir, "provision-"+kind.String()+ext), comment)
}

func sqlRunner(opts Options, dialect sqlcmd.Dialect) sqlcmd.Runner {
	if opts.TargetAddr != "" {
		return sqlcmd.NewDirectRunner(dialect, opts.TargetAddr, opts.TargetUser, opts.TargetPassword)
	}
	return sqlcmd.NewExecRunner(opts.Executor, opts.Target, dialect, opts.TargetUser, opts.TargetPassword)
}

package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
	"golang.org/x/time/rate"
)

const (
	scanCount   = 500
	readBatch   = 200
	replayBatch = 500
)

// Redis is the key-value adapter. It dumps either a binary snapshot or a
// key-command script, and restores into a per-service destination index.
type Redis struct {
	method    migration.RedisMethod
	executor  container.Executor
	target    string
	keyspace  Keyspace
	instances *container.Instances
	image     string
	limiter   *rate.Limiter
	scripts   *ScriptLog

	// source opens a keyspace on a source container.
	source func(containerName, password string) Keyspace
	now    func() time.Time
}

// NewRedis creates the key-value adapter.
func NewRedis(opts Options) (*Redis, error) {
	scripts, err := scriptLog(opts, migration.EngineRedis, ".redis", "#")
	if err != nil {
		return nil, err
	}

	var target Keyspace
	if opts.TargetAddr != "" {
		target = NewClientKeyspace(opts.TargetAddr, opts.TargetPassword)
	} else {
		target = NewCLIKeyspace(opts.Executor, opts.Target, opts.TargetPassword)
	}

	method := opts.RedisMethod
	if method == "" {
		method = migration.MethodLive
	}
	image := opts.RedisImage
	if image == "" {
		image = DefaultRedisImage
	}
	timeout := opts.ReadyTimeout
	if timeout <= 0 {
		timeout = DefaultReadyTimeout
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.ReadRate > 0 {
		burst := int(opts.ReadRate)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.ReadRate), burst)
	}

	ex := opts.Executor
	return &Redis{
		method:    method,
		executor:  ex,
		target:    opts.Target,
		keyspace:  target,
		instances: &container.Instances{Executor: ex, Timeout: timeout},
		image:     image,
		limiter:   limiter,
		scripts:   scripts,
		source: func(name, password string) Keyspace {
			return NewCLIKeyspace(ex, name, password)
		},
		now: time.Now,
	}, nil
}

func (e *Redis) Kind() migration.EngineKind {
	return migration.EngineRedis
}

// Method returns the selected migration strategy.
func (e *Redis) Method() migration.RedisMethod {
	return e.method
}

func (e *Redis) Ping(ctx context.Context) error {
	if err := targetRunning(ctx, e.executor, e.target); err != nil {
		return err
	}
	replies, err := e.keyspace.Do(ctx, 0, []string{"PING"})
	if err != nil {
		return fmt.Errorf("%w: %v", migration.ErrTargetUnreachable, err)
	}
	if replies[0].String() != "PONG" {
		return fmt.Errorf("%w: unexpected PING reply %q%s", migration.ErrTargetUnreachable, replies[0].String(), replies[0].Err)
	}
	return nil
}

func (e *Redis) Dump(ctx context.Context, job *migration.Job, dir string) (*migration.DumpArtifact, error) {
	if job.Service.Container == "" {
		return nil, fmt.Errorf("%w: no source container for %s", migration.ErrContainerNotFound, job.Service.Name)
	}
	if e.method == migration.MethodSnapshot {
		return e.dumpSnapshot(ctx, job, dir)
	}
	return e.dumpLive(ctx, job, dir)
}

// Provision empties the destination index so reruns never merge with
// keys left by an earlier run.
func (e *Redis) Provision(ctx context.Context, job *migration.Job) error {
	idx := job.TargetIndex
	script := fmt.Sprintf("SELECT %d\nFLUSHDB\n", idx)
	if err := e.scripts.Append(job.Service.Name, script); err != nil {
		logger.Warn("Failed to record provisioning script", "service", job.Service.Name, "error", err)
	}
	replies, err := e.keyspace.Do(ctx, idx, []string{"FLUSHDB"})
	if err != nil {
		return err
	}
	if err := replies[0].Error(); err != nil {
		return fmt.Errorf("failed to flush index %d: %w", idx, err)
	}
	return nil
}

func (e *Redis) Import(ctx context.Context, job *migration.Job) error {
	if job.Artifact == nil {
		return fmt.Errorf("no artifact for %s", job.Service.Name)
	}
	switch job.Artifact.Format {
	case migration.FormatSnapshotFile:
		return e.importSnapshot(ctx, job)
	case migration.FormatKeyCommandScript:
		return e.importLive(ctx, job)
	default:
		return fmt.Errorf("unsupported artifact format %q", job.Artifact.Format)
	}
}

func (e *Redis) Verify(ctx context.Context, job *migration.Job) (*migration.VerifyResult, error) {
	replies, err := e.keyspace.Do(ctx, job.TargetIndex, []string{"DBSIZE"})
	if err != nil {
		return nil, err
	}
	n, err := replies[0].Int()
	if err != nil {
		return nil, fmt.Errorf("failed to count keys in index %d: %w", job.TargetIndex, err)
	}

	mode := migration.VerifyExact
	var expected int64
	if a := job.Artifact; a != nil {
		expected = a.ExpectedCount
		switch a.Format {
		case migration.FormatSnapshotFile:
			mode = migration.VerifyAtLeast
		case migration.FormatKeyCommandScript:
			// Lapsed keys may still be counted until the server reclaims
			// them, so the remaining count becomes a lower bound.
			lapsed, err := lapsedKeys(a.Path, e.now())
			if err != nil {
				return nil, err
			}
			if lapsed > 0 {
				expected -= lapsed
				mode = migration.VerifyAtLeast
				a.Warnings = append(a.Warnings, fmt.Sprintf("%d key(s) expired before verification", lapsed))
			}
		}
	}
	return migration.NewVerifyResult(mode, "keys", expected, n), nil
}

func (e *Redis) Close() error {
	return e.keyspace.Close()
}

// openSource authenticates against the source container with the first
// accepted strategy.
func (e *Redis) openSource(ctx context.Context, svc *migration.ServiceInstance) (Keyspace, CredentialStrategy, error) {
	var ks Keyspace
	tier, err := Iterate(ctx, KeyspaceStrategies(svc.Credentials), func(ctx context.Context, s CredentialStrategy) error {
		candidate := e.source(svc.Container, s.Password)
		replies, err := candidate.Do(ctx, svc.Credentials.DBIndex, []string{"DBSIZE"})
		if err != nil {
			return err
		}
		if _, err := replies[0].Int(); err != nil {
			return err
		}
		ks = candidate
		return nil
	})
	return ks, tier, err
}

// scan enumerates every key of db once.
func scan(ctx context.Context, ks Keyspace, db int, fn func(keys []string) error) error {
	seen := make(map[string]struct{})
	cursor := "0"
	for {
		replies, err := ks.Do(ctx, db, []string{"SCAN", cursor, "COUNT", strconv.Itoa(scanCount)})
		if err != nil {
			return err
		}
		r := replies[0]
		if err := r.Error(); err != nil {
			return fmt.Errorf("SCAN failed: %w", err)
		}
		if len(r.Values) == 0 {
			return fmt.Errorf("SCAN returned no cursor")
		}
		cursor = r.Values[0]

		var fresh []string
		for _, k := range r.Values[1:] {
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			fresh = append(fresh, k)
		}
		for start := 0; start < len(fresh); start += readBatch {
			end := min(start+readBatch, len(fresh))
			if err := fn(fresh[start:end]); err != nil {
				return err
			}
		}
		if cursor == "0" {
			return nil
		}
	}
}

package engine

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"

	"github.com/google/uuid"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
)

// Layout of the helper instance that loads a snapshot.
const (
	restoreDir  = "/data"
	restoreFile = "dump.rdb"
)

func (e *Redis) dumpSnapshot(ctx context.Context, job *migration.Job, dir string) (*migration.DumpArtifact, error) {
	svc := job.Service
	db := svc.Credentials.DBIndex
	log := logger.ForService(svc.Name, migration.EngineRedis.String(), "method", migration.MethodSnapshot)

	src, tier, err := e.openSource(ctx, svc)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	replies, err := src.Do(ctx, db,
		[]string{"DBSIZE"},
		[]string{"SAVE"},
		[]string{"CONFIG", "GET", "dir"},
		[]string{"CONFIG", "GET", "dbfilename"},
	)
	if err != nil {
		return nil, err
	}
	keys, err := replies[0].Int()
	if err != nil {
		return nil, fmt.Errorf("DBSIZE: %w", err)
	}
	if err := replies[1].Error(); err != nil {
		return nil, fmt.Errorf("SAVE: %w", err)
	}
	dataDir, err := configValue(replies[2], "dir")
	if err != nil {
		return nil, err
	}
	fileName, err := configValue(replies[3], "dbfilename")
	if err != nil {
		return nil, err
	}

	srcPath := path.Join(dataDir, fileName)
	dst := filepath.Join(dir, svc.Name+".rdb")
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create snapshot file: %w", err)
	}
	defer f.Close()

	size, err := e.executor.CopyFrom(ctx, svc.Container, srcPath, f)
	if err != nil {
		return nil, fmt.Errorf("failed to copy %s: %w", srcPath, err)
	}

	log.Info("Snapshot saved", "strategy", tier.Name, "source", srcPath, "bytes", size, "keys", keys)
	artifact := &migration.DumpArtifact{
		Service:       svc.Name,
		Format:        migration.FormatSnapshotFile,
		Path:          dst,
		Size:          size,
		ExpectedCount: keys,
		EmptyKeyspace: keys == 0,
		AuthTier:      tier.Name,
	}
	return artifact, artifact.Validate()
}

// configValue extracts the value of a CONFIG GET reply.
func configValue(r Reply, name string) (string, error) {
	if err := r.Error(); err != nil {
		return "", fmt.Errorf("CONFIG GET %s: %w", name, err)
	}
	if len(r.Values) != 2 || r.Values[1] == "" {
		return "", fmt.Errorf("CONFIG GET %s returned %v", name, r.Values)
	}
	return r.Values[1], nil
}

// importSnapshot loads the snapshot into a helper instance and copies the
// service's keyspace into the target index with DUMP and RESTORE. The helper
// is removed on every exit path.
func (e *Redis) importSnapshot(ctx context.Context, job *migration.Job) error {
	svc := job.Service
	srcDB := svc.Credentials.DBIndex
	log := logger.ForService(svc.Name, migration.EngineRedis.String(), "method", migration.MethodSnapshot)

	spec := container.InstanceSpec{
		Name:  "dbmigrate-restore-" + uuid.NewString()[:8],
		Image: e.image,
		Cmd:   []string{"redis-server", "--dir", restoreDir, "--dbfilename", restoreFile, "--appendonly", "no", "--save", ""},
		Seed: &container.SeedFile{
			HostPath: job.Artifact.Path,
			Dir:      restoreDir,
			Name:     restoreFile,
		},
		ReadyCmd:    []string{"redis-cli", "PING"},
		ReadyOutput: "PONG",
	}

	var restored, failed int
	var first string
	err := e.instances.With(ctx, spec, func(name string) error {
		helper := e.source(name, "")
		defer helper.Close()

		return scan(ctx, helper, srcDB, func(keys []string) error {
			read := make([][]string, 0, 2*len(keys))
			for _, k := range keys {
				read = append(read, []string{"PTTL", k}, []string{"DUMP", k})
			}
			now := e.now()
			replies, err := helper.Do(ctx, srcDB, read...)
			if err != nil {
				return err
			}

			var restores [][]string
			for i, k := range keys {
				pttl, err := replies[2*i].Int()
				if err != nil || pttl == -2 || replies[2*i+1].Nil {
					continue
				}
				if err := replies[2*i+1].Error(); err != nil {
					failed++
					if first == "" {
						first = fmt.Sprintf("DUMP %q: %v", k, err)
					}
					continue
				}
				expireAt := int64(0)
				if pttl >= 0 {
					expireAt = now.UnixMilli() + pttl
				}
				restores = append(restores, []string{"RESTORE", k, strconv.FormatInt(expireAt, 10), replies[2*i+1].String(), "ABSTTL", "REPLACE"})
			}
			if len(restores) == 0 {
				return nil
			}

			results, err := e.keyspace.Do(ctx, job.TargetIndex, restores...)
			if err != nil {
				return err
			}
			for i, r := range results {
				if r.Err != "" {
					failed++
					if first == "" {
						first = fmt.Sprintf("RESTORE %q: %s", restores[i][1], r.Err)
					}
					continue
				}
				restored++
			}
			return nil
		})
	})
	if err != nil {
		return err
	}

	log.Info("Snapshot restored", "keys", restored, "failed", failed, "index", job.TargetIndex)
	if failed > 0 {
		return fmt.Errorf("%w: %d key(s) not restored, first: %s", migration.ErrImportPartial, failed, first)
	}
	return nil
}

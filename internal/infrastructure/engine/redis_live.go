package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
)

// collectionChunk bounds the members written per command.
const collectionChunk = 100

func (e *Redis) dumpLive(ctx context.Context, job *migration.Job, dir string) (*migration.DumpArtifact, error) {
	svc := job.Service
	db := svc.Credentials.DBIndex
	log := logger.ForService(svc.Name, migration.EngineRedis.String(), "method", migration.MethodLive)

	src, tier, err := e.openSource(ctx, svc)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	path := filepath.Join(dir, svc.Name+".redis")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to create key script: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# dbmigrate key-command-script service=%s source-db=%d\n", svc.Name, db)

	var keys, skipped int64
	var warnings []string
	err = scan(ctx, src, db, func(batch []string) error {
		descs, err := e.readKeys(ctx, src, db, batch)
		if err != nil {
			return err
		}
		for i := range descs {
			d := &descs[i]
			if d.Type == migration.KeyTypeNone {
				log.Debug("Key disappeared during export", "key", d.Name)
				continue
			}
			cmds, err := SerializeKey(d)
			if errors.Is(err, migration.ErrUnsupportedKeyType) {
				msg := fmt.Sprintf("skipped key %q of type %s", d.Name, d.RawType)
				log.Warn("Skipping key", "key", d.Name, "type", d.RawType)
				warnings = append(warnings, msg)
				fmt.Fprintf(w, "# %s\n", Quote([]string{"skipped", d.RawType, d.Name}))
				skipped++
				continue
			}
			if err != nil {
				return err
			}
			for _, cmd := range cmds {
				w.WriteString(Quote(cmd))
				w.WriteByte('\n')
			}
			keys++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to export keys: %w", err)
	}
	if err := w.Flush(); err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	log.Info("Key export complete", "strategy", tier.Name, "keys", keys, "skipped", skipped)
	artifact := &migration.DumpArtifact{
		Service:       svc.Name,
		Format:        migration.FormatKeyCommandScript,
		Path:          path,
		Size:          info.Size(),
		ExpectedCount: keys,
		EmptyKeyspace: keys == 0 && skipped == 0,
		AuthTier:      tier.Name,
		Warnings:      warnings,
	}
	return artifact, artifact.Validate()
}

// readKeys fetches type, remaining TTL and content of each key.
func (e *Redis) readKeys(ctx context.Context, ks Keyspace, db int, keys []string) ([]migration.KeyDescriptor, error) {
	for range keys {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	meta := make([][]string, 0, 2*len(keys))
	for _, k := range keys {
		meta = append(meta, []string{"TYPE", k}, []string{"PTTL", k})
	}
	readAt := e.now()
	replies, err := ks.Do(ctx, db, meta...)
	if err != nil {
		return nil, err
	}

	descs := make([]migration.KeyDescriptor, len(keys))
	var reads [][]string
	var owners []int
	for i, k := range keys {
		typeReply, ttlReply := replies[2*i], replies[2*i+1]
		if err := typeReply.Error(); err != nil {
			return nil, fmt.Errorf("TYPE %q: %w", k, err)
		}
		d := migration.KeyDescriptor{
			Name:    k,
			RawType: typeReply.String(),
			Type:    migration.ParseKeyType(typeReply.String()),
			TTL:     migration.NoExpiry,
			ReadAt:  readAt,
		}
		pttl, err := ttlReply.Int()
		if err != nil {
			return nil, fmt.Errorf("PTTL %q: %w", k, err)
		}
		switch {
		case pttl == -2:
			d.Type = migration.KeyTypeNone
		case pttl >= 0:
			d.TTL = time.Duration(pttl) * time.Millisecond
		}
		descs[i] = d

		if cmd := readCommand(d.Type, k); cmd != nil {
			reads = append(reads, cmd)
			owners = append(owners, i)
		}
	}

	if len(reads) == 0 {
		return descs, nil
	}
	values, err := ks.Do(ctx, db, reads...)
	if err != nil {
		return nil, err
	}
	for j, r := range values {
		d := &descs[owners[j]]
		if r.Nil {
			d.Type = migration.KeyTypeNone
			continue
		}
		if err := r.Error(); err != nil {
			// The key changed type between TYPE and the read.
			if strings.HasPrefix(r.Err, "WRONGTYPE") {
				d.Type = migration.KeyTypeNone
				continue
			}
			return nil, fmt.Errorf("read %q: %w", d.Name, err)
		}
		d.Payload = r.Values
		if d.Type == migration.KeyTypeSortedSet {
			d.Payload = scoreFirst(r.Values)
		}
		if d.Type != migration.KeyTypeString && len(d.Payload) == 0 {
			d.Type = migration.KeyTypeNone
		}
	}
	return descs, nil
}

func readCommand(t migration.KeyType, key string) []string {
	switch t {
	case migration.KeyTypeString:
		return []string{"GET", key}
	case migration.KeyTypeHash:
		return []string{"HGETALL", key}
	case migration.KeyTypeList:
		return []string{"LRANGE", key, "0", "-1"}
	case migration.KeyTypeSet:
		return []string{"SMEMBERS", key}
	case migration.KeyTypeSortedSet:
		return []string{"ZRANGE", key, "0", "-1", "WITHSCORES"}
	default:
		return nil
	}
}

// scoreFirst turns member/score pairs into score/member pairs.
func scoreFirst(pairs []string) []string {
	out := make([]string, 0, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, pairs[i+1], pairs[i])
	}
	return out
}

// SerializeKey returns the commands that re-create d from scratch. Keys with
// a TTL get an absolute expiry so the time spent migrating is accounted for.
func SerializeKey(d *migration.KeyDescriptor) ([][]string, error) {
	var cmds [][]string
	switch d.Type {
	case migration.KeyTypeString:
		if len(d.Payload) != 1 {
			return nil, fmt.Errorf("string key %q has %d values", d.Name, len(d.Payload))
		}
		cmds = append(cmds, []string{"SET", d.Name, d.Payload[0]})
	case migration.KeyTypeHash:
		cmds = chunked(d.Name, "HSET", d.Payload, 2)
	case migration.KeyTypeList:
		cmds = chunked(d.Name, "RPUSH", d.Payload, 1)
	case migration.KeyTypeSet:
		cmds = chunked(d.Name, "SADD", d.Payload, 1)
	case migration.KeyTypeSortedSet:
		cmds = chunked(d.Name, "ZADD", d.Payload, 2)
	default:
		return nil, fmt.Errorf("%w: %s", migration.ErrUnsupportedKeyType, d.RawType)
	}
	if !d.Persistent() {
		cmds = append(cmds, []string{"PEXPIREAT", d.Name, strconv.FormatInt(d.ExpireAt().UnixMilli(), 10)})
	}
	return cmds, nil
}

// chunked emits DEL followed by op commands carrying at most
// collectionChunk groups of width items each.
func chunked(key, op string, items []string, width int) [][]string {
	cmds := [][]string{{"DEL", key}}
	step := collectionChunk * width
	for start := 0; start < len(items); start += step {
		end := min(start+step, len(items))
		cmd := append([]string{op, key}, items[start:end]...)
		cmds = append(cmds, cmd)
	}
	return cmds
}

func (e *Redis) importLive(ctx context.Context, job *migration.Job) error {
	f, err := os.Open(job.Artifact.Path)
	if err != nil {
		return fmt.Errorf("failed to open key script: %w", err)
	}
	defer f.Close()

	var (
		batch  [][]string
		failed int
		first  string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		replies, err := e.keyspace.Do(ctx, job.TargetIndex, batch...)
		if err != nil {
			return err
		}
		for i, r := range replies {
			if r.Err != "" {
				failed++
				if first == "" {
					first = fmt.Sprintf("%s %q: %s", batch[i][0], batch[i][1], r.Err)
				}
			}
		}
		batch = batch[:0]
		return nil
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 512*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		args, err := Split(line)
		if err != nil {
			return fmt.Errorf("corrupt key script: %w", err)
		}
		batch = append(batch, args)
		if len(batch) >= replayBatch {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	if failed > 0 {
		return fmt.Errorf("%w: %d command(s) rejected, first: %s", migration.ErrImportPartial, failed, first)
	}
	return nil
}

var expireLine = Quote([]string{"PEXPIREAT"}) + " "

// lapsedKeys counts the keys of a key script whose absolute expiry is not
// after now.
func lapsedKeys(path string, now time.Time) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open key script: %w", err)
	}
	defer f.Close()

	cutoff := now.UnixMilli()
	var n int64
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 512*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, expireLine) {
			continue
		}
		args, err := Split(line)
		if err != nil || len(args) != 3 {
			return 0, fmt.Errorf("corrupt expiry line: %q", line)
		}
		at, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt expiry line: %q", line)
		}
		if at <= cutoff {
			n++
		}
	}
	return n, sc.Err()
}

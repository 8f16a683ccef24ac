// Package discovery scans a services root directory and extracts normalized
// credentials from each service's key=value configuration file.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/logger"
)

// DefaultEnvFiles are the configuration file names tried in each service directory.
var DefaultEnvFiles = []string{".env", "stack.env", "db.env"}

// Resolver locates running containers. container.Executor satisfies it.
type Resolver interface {
	Running(ctx context.Context, name string) (bool, error)
	FindByProject(ctx context.Context, project, imageHint string) (string, error)
}

// Options configures a discovery pass.
type Options struct {
	// Root holds one subdirectory per service.
	Root string
	// Engine is the data-store kind being migrated.
	Engine migration.EngineKind
	// EnvFiles are tried in order; the first existing file is used.
	EnvFiles []string
	// Only restricts discovery to the named services when non-empty.
	Only []string
}

// Candidate is a discovered service. Err is set when the service must be
// skipped (incomplete credentials or no source container).
type Candidate struct {
	Service *migration.ServiceInstance
	Err     error
}

// Discoverer implements credential discovery.
type Discoverer struct {
	resolver Resolver
}

// New creates a discoverer. A nil resolver leaves containers unresolved.
func New(resolver Resolver) *Discoverer {
	return &Discoverer{resolver: resolver}
}

// Discover returns one candidate per service directory, sorted by name.
func (d *Discoverer) Discover(ctx context.Context, opts Options) ([]Candidate, error) {
	entries, err := os.ReadDir(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to read services root: %w", err)
	}
	envFiles := opts.EnvFiles
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	only := make(map[string]bool, len(opts.Only))
	for _, name := range opts.Only {
		only[strings.TrimSpace(name)] = true
	}

	var candidates []Candidate
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if len(only) > 0 && !only[entry.Name()] {
			continue
		}
		candidates = append(candidates, d.discoverService(ctx, opts, filepath.Join(opts.Root, entry.Name()), envFiles))
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Service.Name < candidates[j].Service.Name
	})
	return candidates, nil
}

func (d *Discoverer) discoverService(ctx context.Context, opts Options, dir string, envFiles []string) Candidate {
	svc := &migration.ServiceInstance{
		Name:   filepath.Base(dir),
		Engine: opts.Engine,
	}
	log := logger.ForService(svc.Name, opts.Engine.String())

	env, path, err := readConfig(dir, envFiles)
	if err != nil {
		log.Debug("No usable configuration file", "error", err)
		return Candidate{Service: svc, Err: fmt.Errorf("%w: %v", migration.ErrCredentialMissing, err)}
	}
	svc.ConfigPath = path
	svc.Credentials = Extract(env, opts.Engine)

	if other := otherEngine(env, opts.Engine); other != "" {
		return Candidate{Service: svc, Err: fmt.Errorf("%w: service is configured for %s", migration.ErrCredentialMissing, other)}
	}
	if err := svc.Credentials.Validate(opts.Engine); err != nil {
		return Candidate{Service: svc, Err: err}
	}

	if d.resolver != nil {
		name, err := d.resolveContainer(ctx, svc.Name, env, opts.Engine)
		if err != nil {
			return Candidate{Service: svc, Err: err}
		}
		svc.Container = name
	}

	log.Debug("Service discovered", "container", svc.Container, "config", path)
	return Candidate{Service: svc}
}

// readConfig parses the first existing configuration file in dir.
func readConfig(dir string, envFiles []string) (map[string]string, string, error) {
	for _, name := range envFiles {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		env, err := godotenv.Read(path)
		if err != nil {
			return nil, path, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		return env, path, nil
	}
	return nil, "", fmt.Errorf("none of %s found", strings.Join(envFiles, ", "))
}

// Extract normalizes the credential keys of env for the given engine.
func Extract(env map[string]string, kind migration.EngineKind) migration.CredentialSet {
	var creds migration.CredentialSet
	if kind == migration.EngineRedis {
		_, creds.RedisHint = first(env, redisHintKeys)
		creds.Password, _ = first(env, redisPasswordKeys)
		if v, ok := first(env, redisIndexKeys); ok {
			creds.DBIndex = atoi(v, "redis index")
		}
		if v, ok := first(env, redisPortKeys); ok {
			creds.Port = atoi(v, "port")
		}
		if url, ok := env["REDIS_URL"]; ok {
			applyRedisURL(&creds, url)
		}
		return creds
	}

	creds.Database, _ = first(env, databaseKeys)
	creds.User, _ = first(env, userKeys)
	creds.Password, _ = first(env, passwordKeys)
	creds.SuperuserPassword, _ = first(env, rootKeys)
	if v, ok := first(env, portKeys); ok {
		creds.Port = atoi(v, "port")
	}
	return creds
}

// first returns the first non-empty value among keys.
func first(env map[string]string, keys []string) (string, bool) {
	for _, k := range keys {
		if v := strings.TrimSpace(env[k]); v != "" {
			return v, true
		}
	}
	return "", false
}

func atoi(v, what string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn("Ignoring invalid value", "field", what, "value", v)
		return 0
	}
	return n
}

// applyRedisURL fills password and index from redis://[:pass@]host[:port][/db]
// when they were not set by dedicated keys.
func applyRedisURL(creds *migration.CredentialSet, url string) {
	rest, ok := strings.CutPrefix(url, "redis://")
	if !ok {
		return
	}
	if at := strings.LastIndex(rest, "@"); at >= 0 {
		userinfo := rest[:at]
		rest = rest[at+1:]
		if _, pass, ok := strings.Cut(userinfo, ":"); ok && creds.Password == "" {
			creds.Password = pass
		}
	}
	if _, db, ok := strings.Cut(rest, "/"); ok && creds.DBIndex == 0 && db != "" {
		creds.DBIndex = atoi(db, "redis index")
	}
}

// otherEngine returns the relational engine a service is explicitly tied to
// when it differs from kind.
func otherEngine(env map[string]string, kind migration.EngineKind) migration.EngineKind {
	if !kind.IsRelational() {
		return ""
	}
	if v, ok := first(env, engineHintKeys); ok {
		if hinted, err := migration.ParseEngineKind(v); err == nil && hinted != kind {
			return hinted
		}
		return ""
	}
	var other migration.EngineKind = migration.EngineMySQL
	if kind == migration.EngineMySQL {
		other = migration.EnginePostgres
	}
	own, foreign := hasPrefixed(env, namePrefixes[kind]), hasPrefixed(env, namePrefixes[other])
	if foreign && !own {
		return other
	}
	return ""
}

func hasPrefixed(env map[string]string, prefixes []string) bool {
	for k, v := range env {
		if v == "" {
			continue
		}
		for _, p := range prefixes {
			if strings.HasPrefix(k, p) {
				return true
			}
		}
	}
	return false
}

// resolveContainer finds the source container: explicit keys first, then the
// compose project label, then conventional names.
func (d *Discoverer) resolveContainer(ctx context.Context, service string, env map[string]string, kind migration.EngineKind) (string, error) {
	var tried []string
	if name, ok := first(env, containerKeys[kind]); ok {
		running, err := d.resolver.Running(ctx, name)
		if err != nil {
			return "", err
		}
		if running {
			return name, nil
		}
		tried = append(tried, name)
	}

	for _, hint := range imageHints[kind] {
		name, err := d.resolver.FindByProject(ctx, service, hint)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, migration.ErrContainerNotFound) {
			return "", err
		}
	}

	for _, hint := range imageHints[kind] {
		for _, name := range []string{service + "-" + hint, service + "_" + hint, service + "-" + hint + "-1"} {
			running, err := d.resolver.Running(ctx, name)
			if err != nil {
				return "", err
			}
			if running {
				return name, nil
			}
			tried = append(tried, name)
		}
	}
	return "", fmt.Errorf("%w: tried compose project %q and %s", migration.ErrContainerNotFound, service, strings.Join(tried, ", "))
}

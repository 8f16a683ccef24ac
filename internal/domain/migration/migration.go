// Package migration defines the domain types for consolidating per-application
// datastores (PostgreSQL, MySQL, Redis) onto a single target container.
package migration

import (
	"fmt"
	"strings"
	"time"
)

// EngineKind identifies the data-store family handled by an engine adapter.
type EngineKind string

const (
	// EnginePostgres is the PostgreSQL relational engine.
	EnginePostgres EngineKind = "postgres"
	// EngineMySQL is the MySQL/MariaDB relational engine.
	EngineMySQL EngineKind = "mysql"
	// EngineRedis is the Redis/Valkey key-value store.
	EngineRedis EngineKind = "redis"
)

// String returns the string representation of the engine kind.
func (k EngineKind) String() string {
	return string(k)
}

// IsRelational returns true for SQL engines.
func (k EngineKind) IsRelational() bool {
	return k == EnginePostgres || k == EngineMySQL
}

// IsValid checks if the engine kind is a recognized kind.
func (k EngineKind) IsValid() bool {
	switch k {
	case EnginePostgres, EngineMySQL, EngineRedis:
		return true
	default:
		return false
	}
}

// ParseEngineKind parses an engine name, accepting the common aliases.
func ParseEngineKind(s string) (EngineKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "postgres", "postgresql", "pg", "pgsql":
		return EnginePostgres, nil
	case "mysql", "mariadb":
		return EngineMySQL, nil
	case "redis", "valkey":
		return EngineRedis, nil
	default:
		return "", fmt.Errorf("invalid engine: %q (valid: postgres, mysql, redis)", s)
	}
}

// RedisMethod selects how a key-value keyspace is exported and imported.
type RedisMethod string

const (
	// MethodSnapshot saves the source to an RDB file and restores it through
	// a throwaway instance.
	MethodSnapshot RedisMethod = "snapshot"
	// MethodLive enumerates keys and re-creates them with native commands.
	MethodLive RedisMethod = "live"
)

// ParseRedisMethod parses a migration method selector.
func ParseRedisMethod(s string) (RedisMethod, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "snapshot", "rdb":
		return MethodSnapshot, nil
	case "live", "keys", "":
		return MethodLive, nil
	default:
		return "", fmt.Errorf("invalid redis method: %q (valid: snapshot, live)", s)
	}
}

// CredentialSet holds the normalized credentials discovered for one service.
// Any field may be empty; Validate decides whether the set is usable.
type CredentialSet struct {
	User              string `json:"user,omitempty" yaml:"user,omitempty"`
	Password          string `json:"-" yaml:"-"`
	SuperuserPassword string `json:"-" yaml:"-"`
	Database          string `json:"database,omitempty" yaml:"database,omitempty"`
	Port              int    `json:"port,omitempty" yaml:"port,omitempty"`
	// DBIndex is the numeric keyspace used by the source (key-value stores only).
	DBIndex int `json:"db_index,omitempty" yaml:"db_index,omitempty"`
	// RedisHint is set when any key indicating a Redis dependency was present.
	RedisHint bool `json:"-" yaml:"-"`
}

// Validate reports ErrCredentialMissing when a field required by the engine is absent.
func (c CredentialSet) Validate(kind EngineKind) error {
	var missing []string
	switch {
	case kind.IsRelational():
		if c.Database == "" {
			missing = append(missing, "database")
		}
		if c.User == "" {
			missing = append(missing, "user")
		}
		if c.Password == "" {
			missing = append(missing, "password")
		}
	case kind == EngineRedis:
		if !c.RedisHint {
			missing = append(missing, "redis settings")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrCredentialMissing, strings.Join(missing, ", "))
	}
	return nil
}

// ServiceInstance is one application whose datastore is migrated.
// It is created once per discovery pass and not modified afterwards.
type ServiceInstance struct {
	Name        string        `json:"name" yaml:"name"`
	Engine      EngineKind    `json:"engine" yaml:"engine"`
	Container   string        `json:"container,omitempty" yaml:"container,omitempty"`
	ConfigPath  string        `json:"config_path,omitempty" yaml:"config_path,omitempty"`
	Credentials CredentialSet `json:"credentials" yaml:"credentials"`
}

// ArtifactFormat tags the content of a dump artifact.
type ArtifactFormat string

const (
	FormatSQLScript        ArtifactFormat = "sql-script"
	FormatSnapshotFile     ArtifactFormat = "snapshot-file"
	FormatKeyCommandScript ArtifactFormat = "key-command-script"
)

// DumpArtifact is the portable export of one service. It is produced by an
// engine's Dump and consumed once by its Import.
type DumpArtifact struct {
	Service string         `json:"service" yaml:"service"`
	Format  ArtifactFormat `json:"format" yaml:"format"`
	Path    string         `json:"path" yaml:"path"`
	Size    int64          `json:"size" yaml:"size"`
	// ExpectedCount is the number of tables or keys the import should produce.
	ExpectedCount int64 `json:"expected_count" yaml:"expected_count"`
	// EmptyKeyspace marks a successful export of a source with nothing in it.
	EmptyKeyspace bool `json:"empty_keyspace,omitempty" yaml:"empty_keyspace,omitempty"`
	// AuthTier names the credential strategy that produced the dump.
	AuthTier string   `json:"auth_tier,omitempty" yaml:"auth_tier,omitempty"`
	Warnings []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

// NonEmpty reports whether the artifact holds any data.
func (a *DumpArtifact) NonEmpty() bool {
	return a != nil && a.Size > 0
}

// Validate returns ErrDumpEmpty for a missing or zero-length artifact.
func (a *DumpArtifact) Validate() error {
	if !a.NonEmpty() {
		return ErrDumpEmpty
	}
	return nil
}

// KeyType is the type tag of a key in the key-value store.
type KeyType string

const (
	KeyTypeString      KeyType = "string"
	KeyTypeHash        KeyType = "hash"
	KeyTypeList        KeyType = "list"
	KeyTypeSet         KeyType = "set"
	KeyTypeSortedSet   KeyType = "zset"
	KeyTypeNone        KeyType = "none"
	KeyTypeUnsupported KeyType = "unsupported"
)

// ParseKeyType maps a TYPE reply to a KeyType.
func ParseKeyType(s string) KeyType {
	switch KeyType(strings.ToLower(s)) {
	case KeyTypeString:
		return KeyTypeString
	case KeyTypeHash:
		return KeyTypeHash
	case KeyTypeList:
		return KeyTypeList
	case KeyTypeSet:
		return KeyTypeSet
	case KeyTypeSortedSet:
		return KeyTypeSortedSet
	case KeyTypeNone:
		return KeyTypeNone
	default:
		return KeyTypeUnsupported
	}
}

// NoExpiry is the TTL of a persistent key.
const NoExpiry time.Duration = -1

// KeyDescriptor is a single key read from a live keyspace.
//
// Payload depends on Type: the value for strings, alternating field/value
// for hashes, elements in order for lists, members for sets and
// alternating score/member for sorted sets.
type KeyDescriptor struct {
	Name    string
	Type    KeyType
	RawType string
	Payload []string
	TTL     time.Duration
	ReadAt  time.Time
}

// Persistent reports whether the key has no expiry.
func (k *KeyDescriptor) Persistent() bool {
	return k.TTL < 0
}

// ExpireAt returns the absolute expiry instant of the key.
func (k *KeyDescriptor) ExpireAt() time.Time {
	if k.Persistent() {
		return time.Time{}
	}
	return k.ReadAt.Add(k.TTL)
}

// Job carries a service through the pipeline phases.
type Job struct {
	Service *ServiceInstance
	// TargetIndex is the destination keyspace index (key-value stores only).
	TargetIndex int
	Artifact    *DumpArtifact
}

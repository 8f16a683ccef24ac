package cli

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
	"github.com/thetolkienblack/home-lab-automation/internal/pkg/runtime"
)

func baseViper() *viper.Viper {
	v := viper.New()
	v.Set("services-root", "/opt/stacks")
	v.Set("target", "shared-postgres")
	v.Set("engine", "postgresql")
	v.Set("redis-index-offset", 1)
	v.Set("redis-max-index", 15)
	return v
}

func TestLoadSettings(t *testing.T) {
	v := baseViper()
	v.Set("workers", 5)
	v.Set("env-files", []string{".env,db.env"})
	v.Set("only", "gitea, wiki")
	v.Set("min-free-space", "1GiB")
	v.Set("ready-timeout", "10s")
	v.Set("runtime", "podman")

	s, err := loadSettings(v)
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}

	if s.Run.Engine != migration.EnginePostgres {
		t.Errorf("expected postgres, got %s", s.Run.Engine)
	}
	if s.Run.Method != migration.MethodLive {
		t.Errorf("expected live default method, got %s", s.Run.Method)
	}
	if s.Run.Workers != 5 {
		t.Errorf("expected 5 workers, got %d", s.Run.Workers)
	}
	if strings.Join(s.Run.EnvFiles, "|") != ".env|db.env" {
		t.Errorf("unexpected env files: %v", s.Run.EnvFiles)
	}
	if strings.Join(s.Run.Only, "|") != "gitea|wiki" {
		t.Errorf("unexpected only list: %v", s.Run.Only)
	}
	if s.Run.MinFreeSpace != 1<<30 {
		t.Errorf("expected 1GiB, got %d", s.Run.MinFreeSpace)
	}
	if s.ReadyTimeout != 10*time.Second {
		t.Errorf("expected 10s ready timeout, got %s", s.ReadyTimeout)
	}
	if s.Runtime != runtime.RuntimePodman {
		t.Errorf("expected podman runtime, got %s", s.Runtime)
	}
	if s.Run.DumpDir == "" {
		t.Error("expected a default dump directory")
	}
	if s.Archive.URL != "" {
		t.Error("archive should be disabled without archive-url")
	}
}

func TestLoadSettings_Archive(t *testing.T) {
	v := baseViper()
	v.Set("archive-url", "s3://backups/db")
	v.Set("archive-endpoint", "http://minio.lan:9000")
	v.Set("archive-access-key", "key")

	s, err := loadSettings(v)
	if err != nil {
		t.Fatalf("loadSettings failed: %v", err)
	}
	if s.Archive.Endpoint != "minio.lan:9000" || s.Archive.UseSSL {
		t.Errorf("unexpected archive config: %+v", s.Archive)
	}
	if s.Archive.AccessKeyID != "key" {
		t.Errorf("expected access key, got %q", s.Archive.AccessKeyID)
	}
}

func TestLoadSettings_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  any
	}{
		{"missing root", "services-root", ""},
		{"missing target", "target", ""},
		{"bad engine", "engine", "oracle"},
		{"bad method", "redis-method", "rsync"},
		{"bad runtime", "runtime", "lxc"},
		{"bad size", "min-free-space", "lots"},
		{"offset beyond max", "redis-index-offset", 16},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := baseViper()
			v.Set(tt.key, tt.val)
			if _, err := loadSettings(v); err == nil {
				t.Errorf("expected error for %s=%v", tt.key, tt.val)
			}
		})
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want uint64
	}{
		{"", 0},
		{"1024", 1024},
		{"512mb", 512 << 20},
		{"512MiB", 512 << 20},
		{"2g", 2 << 30},
		{"10 kb", 10 << 10},
		{"7b", 7},
	}
	for _, tt := range tests {
		got, err := parseSize(tt.in)
		if err != nil {
			t.Errorf("parseSize(%q) failed: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("parseSize(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestReportTable(t *testing.T) {
	idx := 3
	report := &migration.Report{
		Engine: migration.EngineRedis,
		Records: []migration.RecordSummary{
			{Service: "cache", State: migration.StateVerified, Expected: 10, Observed: 10, TargetIndex: &idx, Artifact: "/tmp/cache.rdb", AuthTier: "service-password"},
			{Service: "queue", State: migration.StateSkipped, Reason: "CredentialMissing"},
		},
	}

	out := reportTable(report).RenderSimple()
	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[0], "INDEX") {
		t.Errorf("expected an index column for redis runs: %q", lines[0])
	}
	if f := strings.Fields(lines[2]); len(f) != 7 || f[5] != "3" {
		t.Errorf("unexpected cache row: %q", lines[2])
	}
	if f := strings.Fields(lines[3]); f[1] != "skipped" || f[2] != "CredentialMissing" || f[5] != "-" {
		t.Errorf("unexpected queue row: %q", lines[3])
	}
}

package archive

import (
	"testing"

	"github.com/thetolkienblack/home-lab-automation/internal/domain/migration"
)

func TestParseURL(t *testing.T) {
	tests := []struct {
		raw     string
		bucket  string
		prefix  string
		wantErr bool
	}{
		{raw: "s3://backups", bucket: "backups"},
		{raw: "s3://backups/db/dumps/", bucket: "backups", prefix: "db/dumps"},
		{raw: "https://backups/db", wantErr: true},
		{raw: "s3:///nobucket", wantErr: true},
	}
	for _, tt := range tests {
		bucket, prefix, err := ParseURL(tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			continue
		}
		if bucket != tt.bucket || prefix != tt.prefix {
			t.Errorf("ParseURL(%q) = %q, %q", tt.raw, bucket, prefix)
		}
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Config{URL: "s3://b"}); err == nil {
		t.Error("expected error without endpoint")
	}

	u, err := New(Config{URL: "s3://b/nightly", Endpoint: "localhost:9000", AccessKeyID: "a", SecretAccessKey: "s"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	key := u.Key("run-1", &migration.DumpArtifact{Path: "/tmp/dbmigrate/nextcloud.sql"})
	if key != "nightly/run-1/nextcloud.sql" {
		t.Errorf("unexpected key %q", key)
	}
}

func TestContentType(t *testing.T) {
	if contentType(migration.FormatSnapshotFile) != "application/octet-stream" {
		t.Error("snapshots are binary")
	}
	if contentType(migration.FormatSQLScript) != "application/sql" {
		t.Error("unexpected sql content type")
	}
}

func TestSplitEndpoint(t *testing.T) {
	tests := []struct {
		raw    string
		host   string
		secure bool
	}{
		{"http://minio.lan:9000", "minio.lan:9000", false},
		{"https://s3.example.com/", "s3.example.com", true},
		{"minio.lan:9000", "minio.lan:9000", true},
	}
	for _, tt := range tests {
		host, secure := SplitEndpoint(tt.raw)
		if host != tt.host || secure != tt.secure {
			t.Errorf("SplitEndpoint(%q) = %q, %v; want %q, %v", tt.raw, host, secure, tt.host, tt.secure)
		}
	}
}

package redact

import (
	"errors"
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	tests := []struct {
		name   string
		in     string
		secret string
	}{
		{"postgres url", "dial postgres://app:hunter2@db:5432/app failed", "hunter2"},
		{"mysql dsn", "open root:hunter2@tcp(db:3306)/app", "hunter2"},
		{"redis url", "REDIS_URL=redis://:hunter2@cache:6379/0", "hunter2"},
		{"tool env", "exec -e PGPASSWORD=hunter2 db psql", "hunter2"},
		{"create user", "CREATE USER 'app'@'%' IDENTIFIED BY 'hunter2'", "hunter2"},
		{"role password", "ALTER ROLE app WITH LOGIN PASSWORD 'it''s hunter2'", "hunter2"},
		{"key value", "password=hunter2 host=db", "hunter2"},
		{"auth command", "AUTH default hunter2", "hunter2"},
		{"secret key", "secret-key: hunter2", "hunter2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := String(tt.in)
			if strings.Contains(got, tt.secret) {
				t.Errorf("secret leaked: %q", got)
			}
			if !strings.Contains(got, maskedValue) {
				t.Errorf("expected mask in %q", got)
			}
		})
	}
}

func TestString_Untouched(t *testing.T) {
	for _, s := range []string{"", "relation \"users\" does not exist", "SELECT count(*) FROM information_schema.tables"} {
		if got := String(s); got != s {
			t.Errorf("String(%q) = %q, want unchanged", s, got)
		}
	}
}

func TestError(t *testing.T) {
	if Error(nil) != "" {
		t.Error("expected empty string for nil error")
	}
	if got := Error(errors.New("MYSQL_PWD=hunter2 rejected")); strings.Contains(got, "hunter2") {
		t.Errorf("secret leaked: %q", got)
	}
}

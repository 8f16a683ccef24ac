package logger

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestInit_RedactsAttributes(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: slog.LevelInfo, JSON: true, Output: &buf})

	Warn("Dump failed",
		"error", errors.New("dial postgres://app:hunter2@db:5432/app: refused"),
		"cmd", "exec -e PGPASSWORD=hunter2 db pg_dump")

	out := buf.String()
	if strings.Contains(out, "hunter2") {
		t.Errorf("secret leaked into log line: %s", out)
	}
	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("expected one JSON line: %v", err)
	}
	if line["msg"] != "Dump failed" || line["level"] != "WARN" {
		t.Errorf("unexpected line: %v", line)
	}
}

func TestForService(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: slog.LevelInfo, Output: &buf})

	ForService("gitea", "postgres", "method", "live").Info("Dumped")

	out := buf.String()
	for _, want := range []string{"service=gitea", "engine=postgres", "method=live", "msg=Dumped"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %s", want, out)
		}
	}
}

func TestInit_Levels(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: slog.LevelError, Output: &buf})
	Warn("hidden")
	if buf.Len() != 0 {
		t.Errorf("expected warnings to be dropped, got %s", buf.String())
	}

	buf.Reset()
	Init(Config{Level: slog.LevelError, Verbose: true, Output: &buf})
	Default().Debug("shown")
	out := buf.String()
	if !strings.Contains(out, "msg=shown") {
		t.Errorf("expected debug output in verbose mode, got %s", out)
	}
	if !strings.Contains(out, "source=logger_test.go:") {
		t.Errorf("expected a short source path, got %s", out)
	}
}

func TestWithRunID(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: slog.LevelInfo, Output: &buf})
	WithRunID("run-1").Info("Discovery complete")
	if !strings.Contains(buf.String(), "run_id=run-1") {
		t.Errorf("expected run id attribute, got %s", buf.String())
	}
}

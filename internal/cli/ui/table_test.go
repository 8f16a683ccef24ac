package ui

import (
	"strings"
	"testing"
)

func TestTable_RenderSimple(t *testing.T) {
	table := NewTable("SERVICE", "STATE")
	table.AddRow("gitea", "verified")
	table.AddRow("nextcloud", "failed")

	want := "SERVICE    STATE\n" +
		"---------  --------\n" +
		"gitea      verified\n" +
		"nextcloud  failed\n"
	if got := table.RenderSimple(); got != want {
		t.Errorf("unexpected table:\n%s\nwant:\n%s", got, want)
	}
}

func TestTable_ShortRows(t *testing.T) {
	table := NewTable("A", "B", "C")
	table.AddRow("x")

	lines := strings.Split(strings.TrimSuffix(table.RenderSimple(), "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	if lines[2] != "x" {
		t.Errorf("expected padded short row to be trimmed, got %q", lines[2])
	}
}

func TestTable_Empty(t *testing.T) {
	table := NewTable()
	if table.Render() != "" || table.RenderSimple() != "" {
		t.Error("expected empty output for a table without headers")
	}
}

func TestPadRight(t *testing.T) {
	tests := []struct {
		in    string
		width int
		want  string
	}{
		{"ab", 4, "ab  "},
		{"abcd", 2, "abcd"},
		{"", 1, " "},
	}
	for _, tt := range tests {
		if got := padRight(tt.in, tt.width); got != tt.want {
			t.Errorf("padRight(%q, %d) = %q, want %q", tt.in, tt.width, got, tt.want)
		}
	}
}

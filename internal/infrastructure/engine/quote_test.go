package engine

import (
	"reflect"
	"testing"
)

func TestQuoteSplitRoundTrip(t *testing.T) {
	tests := [][]string{
		{"SET", "k1", "hello world"},
		{"SET", "quote\"d", `back\slash`},
		{"SET", "", "empty key"},
		{"RESTORE", "k", "0", "\x00\xff\x10binary\r\n\t", "ABSTTL", "REPLACE"},
		{"HSET", "user:1", "name", "Zoë", "emoji", "🙂"},
		{"SET", "k", "\a\b"},
	}
	for _, args := range tests {
		line := Quote(args)
		got, err := Split(line)
		if err != nil {
			t.Errorf("Split(%q) error = %v", line, err)
			continue
		}
		if !reflect.DeepEqual(got, args) {
			t.Errorf("round trip of %q = %q", args, got)
		}
	}
}

func TestQuote_IsSingleLinePrintable(t *testing.T) {
	line := Quote([]string{"SET", "k", "\n\x00\xff"})
	for i := 0; i < len(line); i++ {
		if line[i] < 0x20 || line[i] >= 0x7f {
			t.Fatalf("unexpected byte %#x in %q", line[i], line)
		}
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		line    string
		want    []string
		wantErr bool
	}{
		{line: "GET foo", want: []string{"GET", "foo"}},
		{line: "  SET   'it\\'s'  \"a b\"  ", want: []string{"SET", "it's", "a b"}},
		{line: `SET k "\x41\x42"`, want: []string{"SET", "k", "AB"}},
		{line: "", want: nil},
		{line: `SET "unterminated`, wantErr: true},
		{line: `SET "a"b`, wantErr: true},
	}
	for _, tt := range tests {
		got, err := Split(tt.line)
		if (err != nil) != tt.wantErr {
			t.Errorf("Split(%q) error = %v, wantErr %v", tt.line, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Split(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}

func TestParseCSVReply(t *testing.T) {
	tests := []struct {
		line string
		want Reply
	}{
		{line: `"PONG"`, want: Reply{Values: []string{"PONG"}}},
		{line: `42`, want: Reply{Values: []string{"42"}}},
		{line: `NULL`, want: Reply{Nil: true}},
		{line: `"NULL"`, want: Reply{Values: []string{"NULL"}}},
		{line: ``, want: Reply{}},
		{line: `"0","a,b","c\"d"`, want: Reply{Values: []string{"0", "a,b", `c"d`}}},
		{line: `"\x00\xffx"`, want: Reply{Values: []string{"\x00\xffx"}}},
		{line: `ERROR,"WRONGTYPE Operation against a key"`, want: Reply{Err: "WRONGTYPE Operation against a key"}},
	}
	for _, tt := range tests {
		got, err := parseCSVReply(tt.line)
		if err != nil {
			t.Errorf("parseCSVReply(%q) error = %v", tt.line, err)
			continue
		}
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseCSVReply(%q) = %+v, want %+v", tt.line, got, tt.want)
		}
	}

	if _, err := parseCSVReply(`"open`); err == nil {
		t.Error("expected error for unterminated string")
	}
}

func TestFlatten(t *testing.T) {
	got := flatten(nil, []any{"0", []any{"a", int64(2)}, nil})
	want := []string{"0", "a", "2", "NULL"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("flatten() = %q, want %q", got, want)
	}
}

package engine

import (
	"fmt"
	"strings"
)

// Quote renders args as one redis-cli input line. Every argument is double
// quoted; bytes outside printable ASCII are written as \xHH so binary
// payloads survive the line-oriented stream.
func Quote(args []string) string {
	var b strings.Builder
	for i, arg := range args {
		if i > 0 {
			b.WriteByte(' ')
		}
		quoteArg(&b, arg)
	}
	return b.String()
}

func quoteArg(b *strings.Builder, s string) {
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch c {
		case '\\', '"':
			b.WriteByte('\\')
			b.WriteByte(c)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		case '\a':
			b.WriteString(`\a`)
		case '\b':
			b.WriteString(`\b`)
		default:
			if c < 0x20 || c >= 0x7f {
				fmt.Fprintf(b, `\x%02x`, c)
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
}

// Split parses a line written by Quote, also accepting bare words and
// single-quoted arguments the way redis-cli does.
func Split(line string) ([]string, error) {
	var args []string
	i := 0
	for {
		for i < len(line) && isSpace(line[i]) {
			i++
		}
		if i >= len(line) {
			return args, nil
		}

		var cur strings.Builder
		switch line[i] {
		case '"':
			i++
			closed := false
			for i < len(line) && !closed {
				c := line[i]
				switch {
				case c == '\\' && i+3 < len(line) && line[i+1] == 'x' && isHex(line[i+2]) && isHex(line[i+3]):
					cur.WriteByte(hexVal(line[i+2])<<4 | hexVal(line[i+3]))
					i += 4
				case c == '\\' && i+1 < len(line):
					cur.WriteByte(unescape(line[i+1]))
					i += 2
				case c == '"':
					closed = true
					i++
				default:
					cur.WriteByte(c)
					i++
				}
			}
			if !closed {
				return nil, fmt.Errorf("unbalanced quotes in %q", truncateLine(line))
			}
		case '\'':
			i++
			closed := false
			for i < len(line) && !closed {
				c := line[i]
				switch {
				case c == '\\' && i+1 < len(line) && line[i+1] == '\'':
					cur.WriteByte('\'')
					i += 2
				case c == '\'':
					closed = true
					i++
				default:
					cur.WriteByte(c)
					i++
				}
			}
			if !closed {
				return nil, fmt.Errorf("unbalanced quotes in %q", truncateLine(line))
			}
		default:
			for i < len(line) && !isSpace(line[i]) {
				cur.WriteByte(line[i])
				i++
			}
		}
		if i < len(line) && !isSpace(line[i]) {
			return nil, fmt.Errorf("closing quote must be followed by a space in %q", truncateLine(line))
		}
		args = append(args, cur.String())
	}
}

func unescape(c byte) byte {
	switch c {
	case 'n':
		return '\n'
	case 'r':
		return '\r'
	case 't':
		return '\t'
	case 'b':
		return '\b'
	case 'a':
		return '\a'
	default:
		return c
	}
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	default:
		return c - 'A' + 10
	}
}

func truncateLine(s string) string {
	if len(s) > 60 {
		return s[:60] + "..."
	}
	return s
}

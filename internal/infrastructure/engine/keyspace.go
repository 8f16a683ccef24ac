package engine

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
)

// Reply is one command reply with nested arrays flattened.
type Reply struct {
	Values []string
	// Err holds the text of an error reply.
	Err string
	// Nil marks a nil reply.
	Nil bool
}

// String returns the first value of the reply.
func (r Reply) String() string {
	if len(r.Values) == 0 {
		return ""
	}
	return r.Values[0]
}

// Int parses the reply as an integer.
func (r Reply) Int() (int64, error) {
	if r.Err != "" {
		return 0, fmt.Errorf("%s", r.Err)
	}
	return strconv.ParseInt(r.String(), 10, 64)
}

// Error returns the error reply, if any.
func (r Reply) Error() error {
	if r.Err == "" {
		return nil
	}
	return fmt.Errorf("%s", r.Err)
}

// Keyspace sends commands to a key-value server. Replies are returned in
// command order; an error reply is not an error of Do.
type Keyspace interface {
	Do(ctx context.Context, db int, cmds ...[]string) ([]Reply, error)
	Close() error
}

// CLIKeyspace runs commands through redis-cli inside a container.
type CLIKeyspace struct {
	executor  container.Executor
	container string
	password  string
}

// NewCLIKeyspace creates a keyspace that authenticates with password when set.
func NewCLIKeyspace(executor container.Executor, containerName, password string) *CLIKeyspace {
	return &CLIKeyspace{executor: executor, container: containerName, password: password}
}

func (k *CLIKeyspace) Do(ctx context.Context, db int, cmds ...[]string) ([]Reply, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	var stdin strings.Builder
	for _, cmd := range cmds {
		stdin.WriteString(Quote(cmd))
		stdin.WriteByte('\n')
	}

	var env []string
	if k.password != "" {
		env = append(env, "REDISCLI_AUTH="+k.password)
	}
	res, err := container.RunInput(ctx, k.executor, k.container, env, []byte(stdin.String()),
		"redis-cli", "--no-auth-warning", "--csv", "-n", strconv.Itoa(db))
	if err != nil {
		return nil, err
	}
	if err := res.ExitError("redis-cli"); err != nil {
		return nil, err
	}

	lines := strings.Split(strings.TrimSuffix(string(res.Stdout), "\n"), "\n")
	if len(lines) != len(cmds) {
		return nil, fmt.Errorf("redis-cli returned %d replies for %d commands: %s",
			len(lines), len(cmds), strings.TrimSpace(res.Stderr))
	}
	replies := make([]Reply, len(lines))
	for i, line := range lines {
		if replies[i], err = parseCSVReply(strings.TrimSuffix(line, "\r")); err != nil {
			return nil, err
		}
	}
	return replies, nil
}

func (k *CLIKeyspace) Close() error {
	return nil
}

// parseCSVReply decodes one reply line printed by redis-cli --csv.
func parseCSVReply(line string) (Reply, error) {
	if rest, ok := strings.CutPrefix(line, "ERROR,"); ok {
		vals, err := splitCSV(rest)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Err: strings.Join(vals, ",")}, nil
	}
	if line == "NULL" {
		return Reply{Nil: true}, nil
	}
	vals, err := splitCSV(line)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Values: vals}, nil
}

func splitCSV(line string) ([]string, error) {
	var vals []string
	i := 0
	for i < len(line) {
		var cur strings.Builder
		if line[i] == '"' {
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
				return nil, fmt.Errorf("malformed redis-cli reply: %q", truncateLine(line))
			}
		} else {
			for i < len(line) && line[i] != ',' {
				cur.WriteByte(line[i])
				i++
			}
		}
		vals = append(vals, cur.String())
		if i < len(line) {
			if line[i] != ',' {
				return nil, fmt.Errorf("malformed redis-cli reply: %q", truncateLine(line))
			}
			i++
		}
	}
	return vals, nil
}

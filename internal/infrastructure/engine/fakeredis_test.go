package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container"
	"github.com/thetolkienblack/home-lab-automation/internal/infrastructure/container/containertest"
)

// fakeEntry is one key of fakeRedis.
type fakeEntry struct {
	Type     string             `json:"type"`
	Str      string             `json:"str,omitempty"`
	Hash     map[string]string  `json:"hash,omitempty"`
	List     []string           `json:"list,omitempty"`
	Set      map[string]bool    `json:"set,omitempty"`
	ZSet     map[string]float64 `json:"zset,omitempty"`
	ExpireAt int64              `json:"expire_at,omitempty"`
}

// fakeReply is a typed reply used to render redis-cli CSV output.
type fakeReply struct {
	err   string
	isNil bool
	ints  bool
	vals  []string
}

// fakeRedis is an in-memory server understanding the commands the adapter uses.
type fakeRedis struct {
	mu       sync.Mutex
	dbs      map[int]map[string]*fakeEntry
	password string
	page     int
	config   map[string]string
	saves    int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{
		dbs:    make(map[int]map[string]*fakeEntry),
		page:   2,
		config: map[string]string{"dir": "/data", "dbfilename": "dump.rdb"},
	}
}

func (r *fakeRedis) db(n int) map[string]*fakeEntry {
	if r.dbs[n] == nil {
		r.dbs[n] = make(map[string]*fakeEntry)
	}
	return r.dbs[n]
}

// get returns a live entry, dropping it when expired.
func (r *fakeRedis) get(db int, key string) *fakeEntry {
	e := r.db(db)[key]
	if e != nil && e.ExpireAt > 0 && e.ExpireAt <= time.Now().UnixMilli() {
		delete(r.db(db), key)
		return nil
	}
	return e
}

func (r *fakeRedis) put(db int, key string, e *fakeEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.db(db)[key] = e
}

func (r *fakeRedis) keys(db int) []string {
	var out []string
	for k := range r.db(db) {
		if r.get(db, k) != nil {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// snapshot encodes every database, standing in for an RDB file.
func (r *fakeRedis) snapshot() []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, _ := json.Marshal(r.dbs)
	return data
}

func loadFakeRedis(data []byte) (*fakeRedis, error) {
	r := newFakeRedis()
	if err := json.Unmarshal(data, &r.dbs); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *fakeRedis) Do(ctx context.Context, db int, cmds ...[]string) ([]Reply, error) {
	out := make([]Reply, len(cmds))
	for i, cmd := range cmds {
		fr := r.exec(db, cmd)
		out[i] = Reply{Err: fr.err, Nil: fr.isNil, Values: fr.vals}
	}
	return out, nil
}

func (r *fakeRedis) Close() error {
	return nil
}

func okReply(vals ...string) fakeReply { return fakeReply{vals: vals} }
func integer(n int64) fakeReply        { return fakeReply{ints: true, vals: []string{strconv.FormatInt(n, 10)}} }
func errReply(format string, args ...any) fakeReply {
	return fakeReply{err: fmt.Sprintf(format, args...)}
}

func (r *fakeRedis) exec(db int, args []string) fakeReply {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(args) == 0 {
		return errReply("ERR empty command")
	}
	now := time.Now().UnixMilli()
	cmd := strings.ToUpper(args[0])
	key := ""
	if len(args) > 1 {
		key = args[1]
	}

	switch cmd {
	case "PING":
		return okReply("PONG")
	case "DBSIZE":
		return integer(int64(len(r.keys(db))))
	case "FLUSHDB":
		r.dbs[db] = nil
		return okReply("OK")
	case "SAVE":
		r.saves++
		return okReply("OK")
	case "CONFIG":
		if len(args) != 3 || strings.ToUpper(args[1]) != "GET" {
			return errReply("ERR unsupported CONFIG")
		}
		return okReply(args[2], r.config[args[2]])
	case "SCAN":
		all := r.keys(db)
		start, _ := strconv.Atoi(args[1])
		end := min(start+r.page, len(all))
		next := "0"
		if end < len(all) {
			next = strconv.Itoa(end)
		}
		return okReply(append([]string{next}, all[start:end]...)...)
	case "EXISTS":
		if r.get(db, key) != nil {
			return integer(1)
		}
		return integer(0)
	case "TYPE":
		if e := r.get(db, key); e != nil {
			return okReply(e.Type)
		}
		return okReply("none")
	case "PTTL":
		e := r.get(db, key)
		switch {
		case e == nil:
			return integer(-2)
		case e.ExpireAt == 0:
			return integer(-1)
		default:
			return integer(e.ExpireAt - now)
		}
	case "GET":
		e := r.get(db, key)
		if e == nil {
			return fakeReply{isNil: true}
		}
		if e.Type != "string" {
			return errReply("WRONGTYPE Operation against a key holding the wrong kind of value")
		}
		return okReply(e.Str)
	case "HGETALL":
		e := r.get(db, key)
		if e == nil {
			return okReply()
		}
		fields := make([]string, 0, len(e.Hash))
		for f := range e.Hash {
			fields = append(fields, f)
		}
		sort.Strings(fields)
		var vals []string
		for _, f := range fields {
			vals = append(vals, f, e.Hash[f])
		}
		return okReply(vals...)
	case "LRANGE":
		if e := r.get(db, key); e != nil {
			return okReply(e.List...)
		}
		return okReply()
	case "SMEMBERS":
		e := r.get(db, key)
		if e == nil {
			return okReply()
		}
		var vals []string
		for m := range e.Set {
			vals = append(vals, m)
		}
		sort.Strings(vals)
		return okReply(vals...)
	case "ZRANGE":
		e := r.get(db, key)
		if e == nil {
			return okReply()
		}
		members := make([]string, 0, len(e.ZSet))
		for m := range e.ZSet {
			members = append(members, m)
		}
		sort.Slice(members, func(i, j int) bool {
			if e.ZSet[members[i]] != e.ZSet[members[j]] {
				return e.ZSet[members[i]] < e.ZSet[members[j]]
			}
			return members[i] < members[j]
		})
		var vals []string
		for _, m := range members {
			vals = append(vals, m, strconv.FormatFloat(e.ZSet[m], 'f', -1, 64))
		}
		return okReply(vals...)
	case "SET":
		r.db(db)[key] = &fakeEntry{Type: "string", Str: args[2]}
		return okReply("OK")
	case "DEL":
		var n int64
		for _, k := range args[1:] {
			if r.get(db, k) != nil {
				delete(r.db(db), k)
				n++
			}
		}
		return integer(n)
	case "HSET", "RPUSH", "SADD", "ZADD":
		return r.write(db, cmd, key, args[2:])
	case "PEXPIREAT":
		e := r.get(db, key)
		if e == nil {
			return integer(0)
		}
		at, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return errReply("ERR value is not an integer or out of range")
		}
		e.ExpireAt = at
		return integer(1)
	case "DUMP":
		e := r.get(db, key)
		if e == nil {
			return fakeReply{isNil: true}
		}
		data, _ := json.Marshal(e)
		return okReply("\x00\xff" + string(data))
	case "RESTORE":
		if len(args) < 4 {
			return errReply("ERR wrong number of arguments for 'restore' command")
		}
		var e fakeEntry
		if err := json.Unmarshal([]byte(strings.TrimPrefix(args[3], "\x00\xff")), &e); err != nil {
			return errReply("ERR DUMP payload version or checksum are wrong")
		}
		ttl, _ := strconv.ParseInt(args[2], 10, 64)
		e.ExpireAt = ttl
		if r.get(db, key) != nil && !contains(args[4:], "REPLACE") {
			return errReply("BUSYKEY Target key name already exists.")
		}
		r.db(db)[key] = &e
		return okReply("OK")
	default:
		return errReply("ERR unknown command '%s'", args[0])
	}
}

func (r *fakeRedis) write(db int, cmd, key string, items []string) fakeReply {
	e := r.get(db, key)
	want := map[string]string{"HSET": "hash", "RPUSH": "list", "SADD": "set", "ZADD": "zset"}[cmd]
	if e == nil {
		e = &fakeEntry{Type: want, Hash: map[string]string{}, Set: map[string]bool{}, ZSet: map[string]float64{}}
		r.db(db)[key] = e
	}
	if e.Type != want {
		return errReply("WRONGTYPE Operation against a key holding the wrong kind of value")
	}
	switch cmd {
	case "HSET":
		for i := 0; i+1 < len(items); i += 2 {
			e.Hash[items[i]] = items[i+1]
		}
	case "RPUSH":
		e.List = append(e.List, items...)
		return integer(int64(len(e.List)))
	case "SADD":
		for _, m := range items {
			e.Set[m] = true
		}
	case "ZADD":
		for i := 0; i+1 < len(items); i += 2 {
			score, err := strconv.ParseFloat(items[i], 64)
			if err != nil {
				return errReply("ERR value is not a valid float")
			}
			e.ZSet[items[i+1]] = score
		}
	}
	return integer(int64(len(items)))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// handler serves redis-cli execs against r the way the real client does:
// commands on stdin with --csv output, or a single command on the argv.
func (r *fakeRedis) handler() containertest.Handler {
	return func(req container.ExecRequest, stdin []byte) (*container.ExecResult, error) {
		if len(req.Cmd) == 0 || req.Cmd[0] != "redis-cli" {
			return containertest.Fail(127, "not found"), nil
		}
		db := 0
		csv := false
		var argv []string
		for i := 1; i < len(req.Cmd); i++ {
			switch req.Cmd[i] {
			case "--csv":
				csv = true
			case "--no-auth-warning":
			case "-n":
				i++
				db, _ = strconv.Atoi(req.Cmd[i])
			default:
				argv = append(argv, req.Cmd[i])
			}
		}

		authed := r.password == ""
		for _, kv := range req.Env {
			if kv == "REDISCLI_AUTH="+r.password {
				authed = true
			}
		}

		run := func(args []string) fakeReply {
			if !authed {
				return errReply("NOAUTH Authentication required.")
			}
			return r.exec(db, args)
		}

		if len(argv) > 0 {
			fr := run(argv)
			if fr.err != "" {
				return containertest.Reply("(error) " + fr.err + "\n"), nil
			}
			return containertest.Reply(strings.Join(fr.vals, "\n") + "\n"), nil
		}

		var out strings.Builder
		for _, line := range strings.Split(string(stdin), "\n") {
			if strings.TrimSpace(line) == "" {
				continue
			}
			args, err := Split(line)
			if err != nil {
				out.WriteString("Invalid argument(s)\n")
				continue
			}
			fr := run(args)
			if csv {
				out.WriteString(formatCSV(fr))
			} else {
				out.WriteString(strings.Join(fr.vals, " "))
			}
			out.WriteByte('\n')
		}
		return containertest.Reply(out.String()), nil
	}
}

func formatCSV(fr fakeReply) string {
	switch {
	case fr.err != "":
		return "ERROR," + repr(fr.err)
	case fr.isNil:
		return "NULL"
	case fr.ints:
		return fr.vals[0]
	}
	parts := make([]string, len(fr.vals))
	for i, v := range fr.vals {
		parts[i] = repr(v)
	}
	return strings.Join(parts, ",")
}

// repr quotes s the way redis-cli prints strings.
func repr(s string) string {
	var b strings.Builder
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
			if c >= 0x20 && c < 0x7f {
				b.WriteByte(c)
			} else {
				fmt.Fprintf(&b, `\x%02x`, c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/redis/go-redis/v9"
)

// ClientKeyspace talks to a key-value server over the network with one
// client per logical database.
type ClientKeyspace struct {
	addr     string
	password string

	mu      sync.Mutex
	clients map[int]*redis.Client
}

// NewClientKeyspace creates a keyspace for the server at addr (host:port).
func NewClientKeyspace(addr, password string) *ClientKeyspace {
	return &ClientKeyspace{addr: addr, password: password, clients: make(map[int]*redis.Client)}
}

func (k *ClientKeyspace) client(db int) *redis.Client {
	k.mu.Lock()
	defer k.mu.Unlock()
	if c, ok := k.clients[db]; ok {
		return c
	}
	c := redis.NewClient(&redis.Options{
		Addr:     k.addr,
		Password: k.password,
		DB:       db,
		Protocol: 2,
	})
	k.clients[db] = c
	return c
}

func (k *ClientKeyspace) Do(ctx context.Context, db int, cmds ...[]string) ([]Reply, error) {
	if len(cmds) == 0 {
		return nil, nil
	}
	pipe := k.client(db).Pipeline()
	results := make([]*redis.Cmd, len(cmds))
	for i, cmd := range cmds {
		args := make([]any, len(cmd))
		for j, a := range cmd {
			args[j] = a
		}
		results[i] = pipe.Do(ctx, args...)
	}
	// Per-command failures are inspected below.
	_, _ = pipe.Exec(ctx)

	replies := make([]Reply, len(results))
	for i, res := range results {
		v, err := res.Result()
		var rerr redis.Error
		switch {
		case errors.Is(err, redis.Nil):
			replies[i] = Reply{Nil: true}
		case errors.As(err, &rerr):
			replies[i] = Reply{Err: rerr.Error()}
		case err != nil:
			return nil, fmt.Errorf("redis %s: %w", k.addr, err)
		default:
			replies[i] = Reply{Values: flatten(nil, v)}
		}
	}
	return replies, nil
}

func flatten(out []string, v any) []string {
	switch v := v.(type) {
	case nil:
		return append(out, "NULL")
	case string:
		return append(out, v)
	case int64:
		return append(out, strconv.FormatInt(v, 10))
	case []any:
		for _, e := range v {
			out = flatten(out, e)
		}
		return out
	default:
		return append(out, fmt.Sprint(v))
	}
}

func (k *ClientKeyspace) Close() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	var result *multierror.Error
	for db, c := range k.clients {
		if err := c.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		delete(k.clients, db)
	}
	return result.ErrorOrNil()
}

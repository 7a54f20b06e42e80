package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/store"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultPrefix namespaces every key this driver writes. The separator is
// added by the driver.
const DefaultPrefix = "farmgate:auth"

// compareAndDelete deletes KEYS[1] only while it still holds ARGV[1].
var compareAndDelete = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// incr bumps KEYS[1], setting its expiry (ms, ARGV[1]) only when created.
var incr = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
	redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return n
`)

// Ephemeral is a store.Ephemeral backed by Redis, so handshake state is
// shared between replicas. Expiry uses native key TTLs.
type Ephemeral struct {
	client goredis.UniversalClient
	prefix string
}

func NewEphemeral(client goredis.UniversalClient, prefix string) *Ephemeral {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Ephemeral{client: client, prefix: prefix}
}

// Open dials Redis at addr and verifies the connection.
func Open(ctx context.Context, addr, password string, db int, prefix string) (*Ephemeral, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewEphemeral(client, prefix), nil
}

func (e *Ephemeral) key(k string) string {
	return e.prefix + ":" + k
}

func (e *Ephemeral) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("redis: ttl must be positive, got %s", ttl)
	}
	if err := e.client.Set(ctx, e.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (e *Ephemeral) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := e.client.Get(ctx, e.key(key)).Bytes()
	if err != nil {
		return nil, mapNil(err)
	}
	return b, nil
}

func (e *Ephemeral) Delete(ctx context.Context, key string) error {
	if err := e.client.Del(ctx, e.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (e *Ephemeral) Take(ctx context.Context, key string) ([]byte, error) {
	b, err := e.client.GetDel(ctx, e.key(key)).Bytes()
	if err != nil {
		return nil, mapNil(err)
	}
	return b, nil
}

func (e *Ephemeral) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	n, err := compareAndDelete.Run(ctx, e.client, []string{e.key(key)}, expected).Int64()
	if err != nil {
		return false, fmt.Errorf("redis compare-and-delete: %w", err)
	}
	return n == 1, nil
}

func (e *Ephemeral) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, fmt.Errorf("redis: ttl must be positive, got %s", ttl)
	}
	n, err := incr.Run(ctx, e.client, []string{e.key(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incr: %w", err)
	}
	return n, nil
}

func (e *Ephemeral) Ping(ctx context.Context) error {
	return e.client.Ping(ctx).Err()
}

func (e *Ephemeral) Close() error {
	return e.client.Close()
}

func mapNil(err error) error {
	if errors.Is(err, goredis.Nil) {
		return store.ErrNotFound
	}
	return fmt.Errorf("redis: %w", err)
}

var _ store.Ephemeral = (*Ephemeral)(nil)

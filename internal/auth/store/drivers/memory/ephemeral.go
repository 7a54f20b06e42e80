package memory

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/aussiebroadwan/farmgate/internal/auth/store"
)

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Ephemeral is an in-process store.Ephemeral. Entries expire lazily on read;
// DeleteExpired sweeps the rest. Nothing survives a restart.
type Ephemeral struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time
}

// Option configures an Ephemeral.
type Option func(*Ephemeral)

// WithClock overrides the clock used for expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Ephemeral) { e.now = now }
}

func NewEphemeral(opts ...Option) *Ephemeral {
	e := &Ephemeral{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Ephemeral) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.entries[key] = entry{
		value:     append([]byte(nil), value...),
		expiresAt: e.now().Add(ttl),
	}
	return nil
}

func (e *Ephemeral) Get(ctx context.Context, key string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.live(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	return append([]byte(nil), ent.value...), nil
}

func (e *Ephemeral) Delete(ctx context.Context, key string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.entries, key)
	return nil
}

func (e *Ephemeral) Take(ctx context.Context, key string) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.live(key)
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(e.entries, key)
	return ent.value, nil
}

func (e *Ephemeral) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.live(key)
	if !ok || !bytes.Equal(ent.value, expected) {
		return false, nil
	}
	delete(e.entries, key)
	return true, nil
}

func (e *Ephemeral) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.live(key)
	if !ok {
		ent = entry{expiresAt: e.now().Add(ttl)}
	}

	var n int64
	if len(ent.value) > 0 {
		v, err := strconv.ParseInt(string(ent.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("memory: %q does not hold a counter", key)
		}
		n = v
	}
	n++

	ent.value = strconv.AppendInt(nil, n, 10)
	e.entries[key] = ent
	return n, nil
}

// DeleteExpired removes every expired entry and reports how many went.
func (e *Ephemeral) DeleteExpired(ctx context.Context) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	n := 0
	for k, ent := range e.entries {
		if !now.Before(ent.expiresAt) {
			delete(e.entries, k)
			n++
		}
	}
	return n, nil
}

// Len reports the number of stored entries, expired or not.
func (e *Ephemeral) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Ephemeral) Ping(ctx context.Context) error { return nil }
func (e *Ephemeral) Close() error                   { return nil }

// live returns the entry for key, dropping it when expired. Callers hold mu.
func (e *Ephemeral) live(key string) (entry, bool) {
	ent, ok := e.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.now().Before(ent.expiresAt) {
		delete(e.entries, key)
		return entry{}, false
	}
	return ent, true
}

var _ store.Ephemeral = (*Ephemeral)(nil)

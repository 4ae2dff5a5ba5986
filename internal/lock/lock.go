// Package lock provides the per-transaction processing lock that keeps
// concurrent settlement attempts from running the same body twice.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lock:settlement:"

// ErrUnavailable means the backing store could not be reached. Callers must
// treat it as "not acquired".
var ErrUnavailable = errors.New("lock store unavailable")

// Locker is a mutual-exclusion primitive keyed by transaction id.
type Locker interface {
	// Acquire returns true only if no lock existed for id, together with the
	// token that proves ownership. Already held is ("", false, nil) and has no
	// side effects.
	Acquire(ctx context.Context, id string) (string, bool, error)
	// Release removes the lock if token still owns it. Releasing a missing or
	// foreign lock is not an error.
	Release(ctx context.Context, id, token string) error
	// Held reports whether a lock currently exists for id.
	Held(ctx context.Context, id string) (bool, error)
}

// Key returns the store key used for a transaction id.
func Key(id string) string { return keyPrefix + id }

// RedisLocker implements Locker with SET NX PX so acquisition is a single
// atomic command. The TTL bounds how long a crashed holder blocks retries.
// The stored value is "<acquired-at> <token>".
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

// releaseScript deletes the key only while it still carries the caller's
// token, so a holder whose TTL ran out cannot drop its successor's lock.
var releaseScript = redis.NewScript(`
local v = redis.call("GET", KEYS[1])
if v and string.sub(v, -string.len(ARGV[1])) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// NewRedisLocker builds a Redis-backed locker.
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	return &RedisLocker{client: client, ttl: ttl, now: time.Now}
}

func (l *RedisLocker) Acquire(ctx context.Context, id string) (string, bool, error) {
	token := uuid.NewString()
	value := l.now().UTC().Format(time.RFC3339Nano) + " " + token
	ok, err := l.client.SetNX(ctx, Key(id), value, l.ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

func (l *RedisLocker) Release(ctx context.Context, id, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{Key(id)}, " "+token).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// MemoryLocker is a process-local Locker for development and tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryLease
	ttl  time.Duration
	now  func() time.Time
}

type memoryLease struct {
	at    time.Time
	token string
}

// NewMemoryLocker builds an in-process locker. A zero ttl never expires.
func NewMemoryLocker(ttl time.Duration) *MemoryLocker {
	return &MemoryLocker{held: make(map[string]memoryLease), ttl: ttl, now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, id string) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.heldLocked(id) {
		return "", false, nil
	}
	token := uuid.NewString()
	l.held[id] = memoryLease{at: l.now(), token: token}
	return token, true, nil
}

func (l *MemoryLocker) Release(_ context.Context, id, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if lease, ok := l.held[id]; ok && lease.token == token {
		delete(l.held, id)
	}
	return nil
}

func (l *MemoryLocker) Held(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.heldLocked(id), nil
}

func (l *MemoryLocker) heldLocked(id string) bool {
	lease, ok := l.held[id]
	if !ok {
		return false
	}
	if l.ttl > 0 && l.now().Sub(lease.at) >= l.ttl {
		delete(l.held, id)
		return false
	}
	return true
}

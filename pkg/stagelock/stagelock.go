// Package stagelock provides a per-execution advisory lock held while a
// worker runs one stage. The event bus can deliver a stage event more than
// once; persistence-level version checks make duplicates harmless, and the
// lock keeps them from burning provider quota in parallel first.
package stagelock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// Lease is a held lock. Release is idempotent.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out stage leases. Acquire returns acquired=false without
// error when another worker already holds the stage.
type Locker interface {
	Acquire(ctx context.Context, executionID, stage string, ttl time.Duration) (Lease, bool, error)
}

func lockKey(executionID, stage string) string {
	return fmt.Sprintf("pipecast:lock:%s:%s", executionID, stage)
}

// RedisLocker implements Locker over SET NX with a TTL. The TTL bounds how
// long a crashed worker can shadow a stage.
type RedisLocker struct {
	client redis.UniversalClient
}

// NewRedisLocker connects and verifies the redis instance.
func NewRedisLocker(ctx context.Context, addr, password string, db int) (*RedisLocker, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := client.Ping(pingCtx).Err()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisLocker{client: client}, nil
}

// releaseScript deletes the key only if this lease still owns it, so a lease
// that outlived its TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Acquire takes the stage lock for one execution.
func (l *RedisLocker) Acquire(ctx context.Context, executionID, stage string, ttl time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	key := lockKey(executionID, stage)

	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire stage lock: %w", err)
	}

	if !acquired {
		return nil, false, nil
	}

	return &redisLease{client: l.client, key: key, token: token}, true, nil
}

// Close releases the underlying redis connection.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string
}

func (r *redisLease) Release(ctx context.Context) error {
	err := releaseScript.Run(ctx, r.client, []string{r.key}, r.token).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("failed to release stage lock: %w", err)
	}

	return nil
}

// MemoryLocker is the in-process Locker used by tests and single-node runs.
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]string
	clock func() time.Time
	until map[string]time.Time
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]string),
		until: make(map[string]time.Time),
		clock: time.Now,
	}
}

// Acquire takes the stage lock if it is free or expired.
func (l *MemoryLocker) Acquire(_ context.Context, executionID, stage string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := lockKey(executionID, stage)
	now := l.clock()

	if deadline, ok := l.until[key]; ok && now.Before(deadline) {
		return nil, false, nil
	}

	token := uuid.NewString()
	l.held[key] = token
	l.until[key] = now.Add(ttl)

	return &memoryLease{locker: l, key: key, token: token}, true, nil
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (m *memoryLease) Release(_ context.Context) error {
	m.locker.mu.Lock()
	defer m.locker.mu.Unlock()

	if m.locker.held[m.key] == m.token {
		delete(m.locker.held, m.key)
		delete(m.locker.until, m.key)
	}

	return nil
}

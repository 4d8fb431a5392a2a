package redislock

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/shifu-backend/internal/platform/httpx"
	"github.com/yungbote/shifu-backend/internal/platform/logger"
)

// ErrNotAcquired is returned when the lock stayed held for the whole wait.
var ErrNotAcquired = errors.New("lock not acquired")

// ErrLeaseLost is returned by Extend once the key expired or changed hands.
var ErrLeaseLost = errors.New("lock lease lost")

const pollInterval = 50 * time.Millisecond

// Locker hands out exclusive, expiring leases on a key.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error)
}

type Lease interface {
	// Extend resets the lease TTL while the key still carries this lease's token.
	Extend(ctx context.Context, ttl time.Duration) error
	Release(ctx context.Context) error
}

// releaseScript deletes the key only while it still holds our token.
var releaseScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

var extendScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

type redisLocker struct {
	rdb *goredis.Client
	log *logger.Logger
}

func NewRedisLocker(rdb *goredis.Client, log *logger.Logger) Locker {
	return &redisLocker{rdb: rdb, log: log.With("service", "RedisLocker")}
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		ok, err := l.rdb.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &redisLease{rdb: l.rdb, key: key, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}
		if err := httpx.Sleep(ctx, pollInterval); err != nil {
			return nil, err
		}
	}
}

type redisLease struct {
	rdb   *goredis.Client
	key   string
	token string
}

func (l *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.rdb, []string{l.key}, l.token, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

func (l *redisLease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{l.key}, l.token).Err()
}

// memoryLocker serializes within one process. It is used when REDIS_ADDR is unset.
type memoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryEntry
	nowFn func() time.Time
}

type memoryEntry struct {
	token   string
	expires time.Time
}

func NewMemoryLocker() Locker {
	return &memoryLocker{held: make(map[string]memoryEntry), nowFn: time.Now}
}

func (l *memoryLocker) tryAcquire(key, token string, ttl time.Duration) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.nowFn()
	if e, ok := l.held[key]; ok && now.Before(e.expires) {
		return false
	}
	l.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}
	return true
}

func (l *memoryLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Lease, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(wait)
	for {
		if l.tryAcquire(key, token, ttl) {
			return &memoryLease{l: l, key: key, token: token}, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrNotAcquired
		}
		if err := httpx.Sleep(ctx, pollInterval/5); err != nil {
			return nil, err
		}
	}
}

type memoryLease struct {
	l     *memoryLocker
	key   string
	token string
}

func (m *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	now := m.l.nowFn()
	e, ok := m.l.held[m.key]
	if !ok || e.token != m.token || !now.Before(e.expires) {
		return ErrLeaseLost
	}
	m.l.held[m.key] = memoryEntry{token: m.token, expires: now.Add(ttl)}
	return nil
}

func (m *memoryLease) Release(context.Context) error {
	m.l.mu.Lock()
	defer m.l.mu.Unlock()
	if e, ok := m.l.held[m.key]; ok && e.token == m.token {
		delete(m.l.held, m.key)
	}
	return nil
}

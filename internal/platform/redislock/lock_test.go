package redislock

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/shifu-backend/internal/platform/logger"
	"github.com/yungbote/shifu-backend/internal/platform/redisx"
)

func exerciseLocker(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()
	key := "shifu:run:test:" + uuid.NewString()

	lease, err := l.Acquire(ctx, key, 5*time.Second, 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = l.Acquire(ctx, key, 5*time.Second, 100*time.Millisecond)
	require.True(t, errors.Is(err, ErrNotAcquired), "got %v", err)
	require.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	require.NoError(t, lease.Extend(ctx, 5*time.Second))
	require.NoError(t, lease.Release(ctx))
	require.ErrorIs(t, lease.Extend(ctx, 5*time.Second), ErrLeaseLost)
	second, err := l.Acquire(ctx, key, 5*time.Second, 0)
	require.NoError(t, err)
	require.NoError(t, second.Release(ctx))
}

func TestMemoryLocker(t *testing.T) {
	exerciseLocker(t, NewMemoryLocker())
}

func TestMemoryLocker_ExpiredLeaseIsTakenOver(t *testing.T) {
	l := NewMemoryLocker().(*memoryLocker)
	now := time.Now()
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	stale, err := l.Acquire(ctx, "k", time.Second, 0)
	require.NoError(t, err)
	now = now.Add(2 * time.Second)
	fresh, err := l.Acquire(ctx, "k", time.Second, 0)
	require.NoError(t, err)

	// the stale holder must not release the new owner's lease
	require.NoError(t, stale.Release(ctx))
	_, err = l.Acquire(ctx, "k", time.Second, 0)
	require.ErrorIs(t, err, ErrNotAcquired)
	require.NoError(t, fresh.Release(ctx))
}

func TestMemoryLocker_ExtendKeepsLeaseAlive(t *testing.T) {
	l := NewMemoryLocker().(*memoryLocker)
	now := time.Now()
	l.nowFn = func() time.Time { return now }
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "k", time.Second, 0)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		now = now.Add(600 * time.Millisecond)
		require.NoError(t, lease.Extend(ctx, time.Second))
	}
	_, err = l.Acquire(ctx, "k", time.Second, 0)
	require.ErrorIs(t, err, ErrNotAcquired, "extended lease is still held")

	now = now.Add(2 * time.Second)
	require.ErrorIs(t, lease.Extend(ctx, time.Second), ErrLeaseLost)
	other, err := l.Acquire(ctx, "k", time.Second, 0)
	require.NoError(t, err)
	require.ErrorIs(t, lease.Extend(ctx, time.Second), ErrLeaseLost, "new owner keeps the key")
	require.NoError(t, other.Release(ctx))
}

func TestMemoryLocker_WaitHonoursContext(t *testing.T) {
	l := NewMemoryLocker()
	lease, err := l.Acquire(context.Background(), "k", time.Minute, 0)
	require.NoError(t, err)
	defer lease.Release(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k", time.Minute, time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisLocker(t *testing.T) {
	if os.Getenv("REDIS_ADDR") == "" {
		t.Skip("set REDIS_ADDR to run redis lock tests")
	}
	rdb, err := redisx.NewClient(redisx.ConfigFromEnv(), logger.Nop())
	require.NoError(t, err)
	defer rdb.Close()
	exerciseLocker(t, NewRedisLocker(rdb, logger.Nop()))
}

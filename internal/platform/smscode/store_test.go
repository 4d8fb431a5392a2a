package smscode

import (
	"context"
	"os"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/shifu-backend/internal/platform/logger"
	"github.com/yungbote/shifu-backend/internal/platform/redisx"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	user := "u-" + uuid.NewString()

	code, err := s.Issue(ctx, user, "13800000000")
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^\d{6}$`), code)

	ok, err := s.Verify(ctx, user, "13800000000", "000000x")
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = s.Verify(ctx, user, "13900000000", code)
	require.NoError(t, err)
	require.False(t, ok, "code is bound to the phone it was sent to")

	ok, err = s.Verify(ctx, user, "13800000000", code)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Verify(ctx, user, "13800000000", code)
	require.NoError(t, err)
	require.False(t, ok, "codes are single use")
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestMemoryStore_Expiry(t *testing.T) {
	s := NewMemoryStore(WithTTL(time.Minute), WithGenerator(func() (string, error) { return "123456", nil })).(*memoryStore)
	now := time.Now()
	s.nowFn = func() time.Time { return now }

	code, err := s.Issue(context.Background(), "u", "p")
	require.NoError(t, err)
	require.Equal(t, "123456", code)

	now = now.Add(2 * time.Minute)
	ok, err := s.Verify(context.Background(), "u", "p", "123456")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRedisStore(t *testing.T) {
	if os.Getenv("REDIS_ADDR") == "" {
		t.Skip("set REDIS_ADDR to run redis code store tests")
	}
	rdb, err := redisx.NewClient(redisx.ConfigFromEnv(), logger.Nop())
	require.NoError(t, err)
	defer rdb.Close()
	exerciseStore(t, NewRedisStore(rdb))
}

package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *Cache) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return m, New(client, logger)
}

func TestCachePutGetForget(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, c.Put(ctx, "k", "v", time.Minute))
	value, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", value)

	removed, err := c.Forget(ctx, "k")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = c.Forget(ctx, "k")
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCacheTTLExpiry(t *testing.T) {
	m, c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, "k", "v", time.Minute))
	m.FastForward(61 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCacheRemember(t *testing.T) {
	m, c := newTestCache(t)
	ctx := context.Background()

	calls := 0
	produce := func(ctx context.Context) (string, error) {
		calls++
		return "computed", nil
	}

	value, err := c.Remember(ctx, "memo", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, "computed", value)
	assert.Equal(t, 1, calls)

	// Second read is served from the cache.
	value, err = c.Remember(ctx, "memo", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, "computed", value)
	assert.Equal(t, 1, calls)

	// After the TTL lapses the producer runs again.
	m.FastForward(61 * time.Second)
	_, err = c.Remember(ctx, "memo", time.Minute, produce)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestCacheRememberProducerError(t *testing.T) {
	_, c := newTestCache(t)
	ctx := context.Background()

	boom := errors.New("boom")
	_, err := c.Remember(ctx, "memo", time.Minute, func(ctx context.Context) (string, error) {
		return "", boom
	})
	assert.ErrorIs(t, err, boom)

	// Errors are never cached.
	_, err = c.Get(ctx, "memo")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCacheKeys(t *testing.T) {
	assert.Equal(t, "refresh_token:abc", RefreshBindingKey("abc"))
	assert.Equal(t, "otp:can_send:u1:PHONE", OTPSendMemoKey("u1", "PHONE"))
	assert.Equal(t, "otp:valid:u1:PHONE:042913", OTPValidationKey("u1", "PHONE", "042913"))
	assert.Equal(t, "reset:valid:tok", ResetValidationKey("tok"))
}

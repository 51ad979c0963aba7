package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/credstack/credstack/internal/cache"
	"github.com/credstack/credstack/internal/config"
	"github.com/credstack/credstack/internal/models"
)

func newOTPServiceForTest(t *testing.T) (*OTPService, *fakeVerificationStore, *fakeUserStore, *miniredis.Miniredis, *cache.Cache) {
	t.Helper()
	store := &fakeVerificationStore{}
	users := newFakeUserStore(testUser())
	m, cacheLayer := newTestCache(t)
	cfg := &config.OTPConfig{
		Length:        6,
		Expiry:        5 * time.Minute,
		ResendWindow:  time.Minute,
		MemoTTL:       time.Minute,
		ValidationTTL: 180 * time.Second,
	}
	svc := NewOTPService(store, users, cacheLayer, &recordingNotifier{}, cfg, newTestLogger())
	return svc, store, users, m, cacheLayer
}

func TestOTPSendIssuesSixDigitCode(t *testing.T) {
	svc, store, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	code, err := svc.Send(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)
	assert.Regexp(t, `^\d{6}$`, code)

	stored, err := store.FindLatest(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, code, stored.Token)
	assert.False(t, stored.IsUsed)
	assert.True(t, stored.ExpiresAt.After(time.Now()))
}

func TestOTPSendRateLimit(t *testing.T) {
	svc, store, _, m, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)

	// Second send inside the cool-down window is rejected.
	_, err = svc.Send(ctx, "user-1", models.ChannelPhone)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	// A different channel has its own window.
	_, err = svc.Send(ctx, "user-1", models.ChannelEmail)
	require.NoError(t, err)

	// Once the window elapses (and the memo TTL with it), sending succeeds.
	store.backdate("user-1", models.ChannelPhone, 2*time.Minute)
	m.FastForward(61 * time.Second)
	_, err = svc.Send(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)
}

func TestOTPRateLimitMemoNotRefreshedByPolling(t *testing.T) {
	svc, _, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	_, err := svc.Send(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)

	// Polling CanSend repeatedly keeps getting the memoized denial.
	for i := 0; i < 5; i++ {
		ok, err := svc.CanSend(ctx, "user-1", models.ChannelPhone)
		require.NoError(t, err)
		assert.False(t, ok)
	}
}

func TestOTPResendSharesContract(t *testing.T) {
	svc, store, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	_, err := svc.Resend(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)

	_, err = svc.Resend(ctx, "user-1", models.ChannelPhone)
	assert.ErrorIs(t, err, ErrRateLimitExceeded)

	latest, err := store.FindLatest(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)
	require.NotNil(t, latest)
}

func TestOTPValidateSingleUse(t *testing.T) {
	svc, _, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	code, err := svc.Send(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)

	require.NoError(t, svc.Validate(ctx, "user-1", models.ChannelPhone, code))

	// Replaying the same code is rejected.
	err = svc.Validate(ctx, "user-1", models.ChannelPhone, code)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestOTPValidateWrongCode(t *testing.T) {
	svc, _, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	code, err := svc.Send(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}
	assert.ErrorIs(t, svc.Validate(ctx, "user-1", models.ChannelPhone, wrong), ErrInvalidToken)

	// Wrong owner and wrong channel are equally invalid.
	assert.ErrorIs(t, svc.Validate(ctx, "user-2", models.ChannelPhone, code), ErrInvalidToken)
	assert.ErrorIs(t, svc.Validate(ctx, "user-1", models.ChannelEmail, code), ErrInvalidToken)
}

func TestOTPValidateFormat(t *testing.T) {
	svc, _, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	for _, code := range []string{"", "12345", "1234567", "12345a", "abcdef", " 42913"} {
		err := svc.Validate(ctx, "user-1", models.ChannelPhone, code)
		assert.ErrorIs(t, err, ErrInvalidFormat, "code %q", code)
	}
}

func TestOTPValidateExpired(t *testing.T) {
	svc, store, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	expired := &models.VerificationToken{
		ID:        "tok-1",
		UserID:    "user-1",
		Channel:   models.ChannelPhone,
		Token:     "042913",
		ExpiresAt: time.Now().Add(-time.Second),
		CreatedAt: time.Now().Add(-6 * time.Minute),
	}
	require.NoError(t, store.Create(ctx, expired))

	err := svc.Validate(ctx, "user-1", models.ChannelPhone, "042913")
	assert.ErrorIs(t, err, ErrExpired)

	// The row is left in place for the purge sweep.
	latest, err := store.FindLatest(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.False(t, latest.IsUsed)
}

// A cached "valid" lookup for a code that expired between cache write and
// cache read is detected, rejected, and evicted.
func TestOTPValidateExpiredWhileCached(t *testing.T) {
	svc, _, _, _, cacheLayer := newOTPServiceForTest(t)
	ctx := context.Background()

	stale := &models.VerificationToken{
		ID:        "tok-stale",
		UserID:    "user-1",
		Channel:   models.ChannelPhone,
		Token:     "042913",
		ExpiresAt: time.Now().Add(-time.Second),
		CreatedAt: time.Now().Add(-4 * time.Minute),
	}
	payload, err := json.Marshal(stale)
	require.NoError(t, err)
	key := cache.OTPValidationKey("user-1", models.ChannelPhone, "042913")
	require.NoError(t, cacheLayer.Put(ctx, key, string(payload), 180*time.Second))

	err = svc.Validate(ctx, "user-1", models.ChannelPhone, "042913")
	assert.ErrorIs(t, err, ErrExpired)

	_, err = cacheLayer.Get(ctx, key)
	assert.ErrorIs(t, err, cache.ErrMiss)
}

func TestOTPValidateResetsSendWindow(t *testing.T) {
	svc, _, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	code, err := svc.Send(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)
	require.NoError(t, svc.Validate(ctx, "user-1", models.ChannelPhone, code))

	// Validation invalidates the rate-limit memo; the next CanSend decision
	// is recomputed from the store rather than served stale.
	ok, err := svc.CanSend(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)
	assert.False(t, ok) // the row is only a few ms old, window still open
}

func TestOTPPurgeExpired(t *testing.T) {
	svc, store, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, &models.VerificationToken{
		ID: "old", UserID: "user-1", Channel: models.ChannelPhone,
		Token: "111111", ExpiresAt: time.Now().Add(-time.Minute), CreatedAt: time.Now().Add(-10 * time.Minute),
	}))
	require.NoError(t, store.Create(ctx, &models.VerificationToken{
		ID: "live", UserID: "user-1", Channel: models.ChannelPhone,
		Token: "222222", ExpiresAt: time.Now().Add(time.Minute), CreatedAt: time.Now(),
	}))

	deleted, err := svc.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	latest, err := store.FindLatest(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "live", latest.ID)
}

func TestOTPEndToEndScenario(t *testing.T) {
	svc, _, _, _, _ := newOTPServiceForTest(t)
	ctx := context.Background()

	code, err := svc.Send(ctx, "user-1", models.ChannelPhone)
	require.NoError(t, err)

	require.NoError(t, svc.Validate(ctx, "user-1", models.ChannelPhone, code))
	assert.ErrorIs(t, svc.Validate(ctx, "user-1", models.ChannelPhone, code), ErrInvalidToken)
}

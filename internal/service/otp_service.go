package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/credstack/credstack/internal/cache"
	"github.com/credstack/credstack/internal/config"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/repository"
	"github.com/credstack/credstack/internal/security"
)

// VerificationStore is the persisted side of the OTP lifecycle.
type VerificationStore interface {
	Create(ctx context.Context, token *models.VerificationToken) error
	FindLatest(ctx context.Context, userID string, channel models.Channel) (*models.VerificationToken, error)
	FindValid(ctx context.Context, userID string, channel models.Channel, code string) (*models.VerificationToken, error)
	MarkUsed(ctx context.Context, token *models.VerificationToken) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// OTPService issues, rate-limits, and validates one-time numeric codes per
// (user, channel). Codes live in the persistent store; the cache layer holds
// the short-TTL rate-limit memo and the valid-code lookup memo.
type OTPService struct {
	store       VerificationStore
	users       UserStore
	cache       *cache.Cache
	notifier    Notifier
	cfg         *config.OTPConfig
	logger      *logrus.Logger
	codePattern *regexp.Regexp
}

func NewOTPService(store VerificationStore, users UserStore, cacheLayer *cache.Cache, notifier Notifier, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:       store,
		users:       users,
		cache:       cacheLayer,
		notifier:    notifier,
		cfg:         cfg,
		logger:      logger,
		codePattern: regexp.MustCompile(fmt.Sprintf(`^\d{%d}$`, cfg.Length)),
	}
}

// CanSend reports whether the cool-down window since the last issued code has
// elapsed. The decision is memoized in the cache for a short TTL to bound
// repeated-request cost; Send invalidates the memo the instant a new code is
// created, so polling cannot refresh a blocked window.
func (s *OTPService) CanSend(ctx context.Context, userID string, channel models.Channel) (bool, error) {
	value, err := s.cache.Remember(ctx, cache.OTPSendMemoKey(userID, channel), s.cfg.MemoTTL, func(ctx context.Context) (string, error) {
		latest, err := s.store.FindLatest(ctx, userID, channel)
		if err != nil {
			return "", err
		}
		if latest == nil || !time.Now().Before(latest.CreatedAt.Add(s.cfg.ResendWindow)) {
			return "1", nil
		}
		return "0", nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to evaluate send window: %w", err)
	}
	return value == "1", nil
}

// Send issues a fresh code for (userID, channel), persists it, and dispatches
// it over the channel. Dispatch failures are swallowed: the persisted code
// stays valid and the caller can retry with Resend.
func (s *OTPService) Send(ctx context.Context, userID string, channel models.Channel) (string, error) {
	ok, err := s.CanSend(ctx, userID, channel)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrRateLimitExceeded
	}

	code, err := security.RandomNumericCode(s.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("failed to generate code: %w", err)
	}

	now := time.Now()
	token := &models.VerificationToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		Channel:   channel,
		Token:     code,
		ExpiresAt: now.Add(s.cfg.Expiry),
		CreatedAt: now,
	}

	if err := s.store.Create(ctx, token); err != nil {
		return "", err
	}

	if _, err := s.cache.Forget(ctx, cache.OTPSendMemoKey(userID, channel)); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate send memo")
	}

	s.dispatch(ctx, userID, channel, code)

	return code, nil
}

// Resend is Send under a different caller-facing message; the issuance
// contract is identical.
func (s *OTPService) Resend(ctx context.Context, userID string, channel models.Channel) (string, error) {
	return s.Send(ctx, userID, channel)
}

// Validate consumes the most recent unused code matching (userID, channel,
// code). Lookups are memoized; freshness is re-checked against expires_at on
// every read, so a code that expired between cache write and cache read is
// rejected and its stale entry evicted. Expired rows stay in place for the
// purge sweep.
func (s *OTPService) Validate(ctx context.Context, userID string, channel models.Channel, code string) error {
	if !s.codePattern.MatchString(code) {
		return ErrInvalidFormat
	}

	key := cache.OTPValidationKey(userID, channel, code)
	token, err := s.lookupValid(ctx, key, userID, channel, code)
	if err != nil {
		return err
	}
	if token == nil {
		return ErrInvalidToken
	}

	if token.Expired(time.Now()) {
		if _, err := s.cache.Forget(ctx, key); err != nil {
			s.logger.WithError(err).Warn("Failed to evict stale validation entry")
		}
		return ErrExpired
	}

	if err := s.store.MarkUsed(ctx, token); err != nil {
		if errors.Is(err, repository.ErrAlreadyUsed) {
			s.cache.Forget(ctx, key)
			return ErrInvalidToken
		}
		return err
	}

	s.cache.Forget(ctx, key)
	s.cache.Forget(ctx, cache.OTPSendMemoKey(userID, channel))

	return nil
}

// PurgeExpired removes every expired code row, used or not.
func (s *OTPService) PurgeExpired(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx, time.Now())
}

func (s *OTPService) lookupValid(ctx context.Context, key, userID string, channel models.Channel, code string) (*models.VerificationToken, error) {
	if value, err := s.cache.Get(ctx, key); err == nil {
		var token models.VerificationToken
		if err := json.Unmarshal([]byte(value), &token); err == nil {
			return &token, nil
		}
		s.cache.Forget(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		return nil, err
	}

	token, err := s.store.FindValid(ctx, userID, channel, code)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, nil
	}

	if value, err := json.Marshal(token); err == nil {
		if err := s.cache.Put(ctx, key, string(value), s.cfg.ValidationTTL); err != nil {
			s.logger.WithError(err).Warn("Failed to cache valid code lookup")
		}
	}

	return token, nil
}

func (s *OTPService) dispatch(ctx context.Context, userID string, channel models.Channel, code string) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil || user == nil {
		s.logger.WithField("user_id", userID).Warn("Skipping code dispatch: user did not resolve")
		return
	}
	if err := s.notifier.SendToChannel(ctx, user, channel, code); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"user_id": userID,
			"channel": channel,
		}).Warn("Failed to dispatch code")
	}
}

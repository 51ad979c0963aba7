package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/credstack/credstack/internal/cache"
	"github.com/credstack/credstack/internal/config"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/repository"
	"github.com/credstack/credstack/internal/security"
)

const resetTokenLength = 64

// ResetStore is the persisted side of the password reset lifecycle.
type ResetStore interface {
	Create(ctx context.Context, token *models.PasswordResetToken) error
	FindValidByToken(ctx context.Context, value string) (*models.PasswordResetToken, error)
	FindValidByUserAndToken(ctx context.Context, userID, value string) (*models.PasswordResetToken, error)
	MarkUsed(ctx context.Context, token *models.PasswordResetToken) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// UserCredentialStore extends subject lookup with the password write used by
// the reset flow.
type UserCredentialStore interface {
	UserStore
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// ResetService issues and consumes single-use password reset tokens.
type ResetService struct {
	store    ResetStore
	users    UserCredentialStore
	cache    *cache.Cache
	notifier Notifier
	cfg      *config.ResetConfig
	logger   *logrus.Logger
}

func NewResetService(store ResetStore, users UserCredentialStore, cacheLayer *cache.Cache, notifier Notifier, cfg *config.ResetConfig, logger *logrus.Logger) *ResetService {
	return &ResetService{
		store:    store,
		users:    users,
		cache:    cacheLayer,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// RequestReset issues a reset token for the user owning the identifier and
// dispatches it over the matching channel. The token value is returned to the
// caller's trust boundary only; HTTP handlers must not expose it.
func (s *ResetService) RequestReset(ctx context.Context, identifier string) (string, error) {
	user, err := s.users.GetByIdentifier(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("failed to resolve identifier: %w", err)
	}
	if user == nil {
		return "", ErrUserNotFound
	}

	value, err := security.RandomToken(resetTokenLength)
	if err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}

	now := time.Now()
	token := &models.PasswordResetToken{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		Token:     value,
		ExpiresAt: now.Add(s.cfg.Expiry),
		CreatedAt: now,
	}

	if err := s.store.Create(ctx, token); err != nil {
		return "", err
	}

	channel := models.ChannelEmail
	if user.Email == "" {
		channel = models.ChannelPhone
	}
	if err := s.notifier.SendToChannel(ctx, user, channel, value); err != nil {
		s.logger.WithError(err).WithField("user_id", user.ID).Warn("Failed to dispatch reset token")
	}

	return value, nil
}

// CheckToken verifies that value is a live reset token owned by userID
// without consuming it.
func (s *ResetService) CheckToken(ctx context.Context, userID, value string) error {
	token, err := s.store.FindValidByUserAndToken(ctx, userID, value)
	if err != nil {
		return err
	}
	if token == nil {
		return ErrInvalidToken
	}
	if token.Expired(time.Now()) {
		return ErrExpired
	}
	return nil
}

// ResetPassword consumes a reset token and rewrites the owner's password
// hash. The token is consumed before the password write, so a concurrent
// duplicate request fails the conditional mark-used and never touches the
// password.
func (s *ResetService) ResetPassword(ctx context.Context, value, newPassword string) error {
	if err := security.CheckPasswordStrength(newPassword); err != nil {
		return err
	}

	key := cache.ResetValidationKey(value)
	token, err := s.lookupValid(ctx, key, value)
	if err != nil {
		return err
	}
	if token == nil {
		return ErrInvalidToken
	}

	if token.Expired(time.Now()) {
		if _, err := s.cache.Forget(ctx, key); err != nil {
			s.logger.WithError(err).Warn("Failed to evict stale reset entry")
		}
		return ErrExpired
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return fmt.Errorf("failed to resolve token owner: %w", err)
	}
	if user == nil {
		return ErrUserNotFound
	}

	if err := s.store.MarkUsed(ctx, token); err != nil {
		if errors.Is(err, repository.ErrAlreadyUsed) {
			s.cache.Forget(ctx, key)
			return ErrInvalidToken
		}
		return err
	}
	s.cache.Forget(ctx, key)

	hash, err := security.HashPassword(newPassword)
	if err != nil {
		return err
	}
	if err := s.users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return err
	}

	return nil
}

// PurgeExpired removes every expired reset token row, used or not.
func (s *ResetService) PurgeExpired(ctx context.Context) (int, error) {
	return s.store.DeleteExpired(ctx, time.Now())
}

func (s *ResetService) lookupValid(ctx context.Context, key, value string) (*models.PasswordResetToken, error) {
	if cached, err := s.cache.Get(ctx, key); err == nil {
		var token models.PasswordResetToken
		if err := json.Unmarshal([]byte(cached), &token); err == nil {
			return &token, nil
		}
		s.cache.Forget(ctx, key)
	} else if !errors.Is(err, cache.ErrMiss) {
		return nil, err
	}

	token, err := s.store.FindValidByToken(ctx, value)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, nil
	}

	if cached, err := json.Marshal(token); err == nil {
		if err := s.cache.Put(ctx, key, string(cached), s.cfg.ValidationTTL); err != nil {
			s.logger.WithError(err).Warn("Failed to cache valid reset lookup")
		}
	}

	return token, nil
}

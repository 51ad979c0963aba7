package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/credstack/credstack/internal/cache"
	"github.com/credstack/credstack/internal/config"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/security"
)

const refreshTokenLength = 64

// UserStore resolves token subjects and contact identifiers.
type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByIdentifier(ctx context.Context, identifier string) (*models.User, error)
}

// TokenService issues bearer token pairs, validates access tokens, rotates
// via refresh tokens, and revokes refresh bindings on logout. The cache layer
// is the sole store for refresh bindings: losing it logs every session out.
type TokenService struct {
	codec  *security.Codec
	cache  *cache.Cache
	users  UserStore
	cfg    *config.JWTConfig
	logger *logrus.Logger
}

func NewTokenService(codec *security.Codec, cacheLayer *cache.Cache, users UserStore, cfg *config.JWTConfig, logger *logrus.Logger) *TokenService {
	return &TokenService{
		codec:  codec,
		cache:  cacheLayer,
		users:  users,
		cfg:    cfg,
		logger: logger,
	}
}

// IssueTokenPair mints an access token carrying a snapshot of the user and a
// fresh random refresh token, and binds the refresh token to the user in the
// cache for the refresh lifetime.
func (s *TokenService) IssueTokenPair(ctx context.Context, user *models.User) (*models.TokenPair, error) {
	now := time.Now()

	claims := &security.BearerClaims{
		User: security.SnapshotUser(user),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.cfg.Issuer,
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessExpiry)),
			ID:        uuid.New().String(),
		},
	}

	accessToken, err := s.codec.Encode(claims)
	if err != nil {
		s.logger.WithError(err).Error("Failed to encode access token")
		return nil, fmt.Errorf("failed to encode access token: %w", err)
	}

	refreshToken, err := security.RandomToken(refreshTokenLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate refresh token: %w", err)
	}

	if err := s.cache.Put(ctx, cache.RefreshBindingKey(refreshToken), user.ID, s.cfg.RefreshExpiry); err != nil {
		return nil, fmt.Errorf("failed to store refresh binding: %w", err)
	}

	return &models.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.cfg.AccessExpiry.Seconds()),
	}, nil
}

// ValidateAccessToken returns the token's claims, or nil on any failure.
// Malformed, tampered, expired, and orphaned tokens are indistinguishable to
// the caller so that the result carries no oracle signal.
func (s *TokenService) ValidateAccessToken(ctx context.Context, raw string) *security.BearerClaims {
	claims, _ := s.resolveToken(ctx, raw)
	return claims
}

// GetUserFromToken validates raw and resolves its subject, or returns nil.
func (s *TokenService) GetUserFromToken(ctx context.Context, raw string) *models.User {
	_, user := s.resolveToken(ctx, raw)
	return user
}

func (s *TokenService) resolveToken(ctx context.Context, raw string) (*security.BearerClaims, *models.User) {
	claims, err := s.codec.Decode(raw)
	if err != nil {
		s.logger.WithError(err).Debug("Access token decode failed")
		return nil, nil
	}

	if claims.ExpiresAt == nil || !claims.ExpiresAt.After(time.Now()) {
		return nil, nil
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		s.logger.WithError(err).Error("Failed to resolve token subject")
		return nil, nil
	}
	if user == nil {
		return nil, nil
	}

	return claims, user
}

// RefreshAccessToken exchanges a live refresh token for a new token pair. An
// absent binding means the token is invalid, revoked, or expired; the caller
// must re-authenticate. The presented binding stays live until logout.
func (s *TokenService) RefreshAccessToken(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	userID, err := s.cache.Get(ctx, cache.RefreshBindingKey(refreshToken))
	if errors.Is(err, cache.ErrMiss) {
		return nil, ErrInvalidToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up refresh binding: %w", err)
	}

	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve refresh binding owner: %w", err)
	}
	if user == nil {
		return nil, ErrUserNotFound
	}

	return s.IssueTokenPair(ctx, user)
}

// InvalidateRefreshToken deletes the refresh binding and reports whether one
// existed. This is the only explicit revocation path.
func (s *TokenService) InvalidateRefreshToken(ctx context.Context, refreshToken string) (bool, error) {
	removed, err := s.cache.Forget(ctx, cache.RefreshBindingKey(refreshToken))
	if err != nil {
		return false, fmt.Errorf("failed to delete refresh binding: %w", err)
	}
	return removed, nil
}

package service

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/credstack/credstack/internal/cache"
	"github.com/credstack/credstack/internal/models"
	"github.com/credstack/credstack/internal/repository"
)

func newTestCache(t *testing.T) (*miniredis.Miniredis, *cache.Cache) {
	t.Helper()
	m := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return m, cache.New(client, logger)
}

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// --- fakes ---

type fakeUserStore struct {
	mu        sync.Mutex
	users     map[string]*models.User
	passwords map[string]string
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	s := &fakeUserStore{
		users:     make(map[string]*models.User),
		passwords: make(map[string]string),
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) GetByID(ctx context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *user
	return &copied, nil
}

func (s *fakeUserStore) GetByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Phone == identifier || user.Email == identifier {
			copied := *user
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *fakeUserStore) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passwords[userID] = passwordHash
	return nil
}

func (s *fakeUserStore) remove(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
}

type fakeVerificationStore struct {
	mu     sync.Mutex
	tokens []*models.VerificationToken
}

func (s *fakeVerificationStore) Create(ctx context.Context, token *models.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens = append(s.tokens, &copied)
	return nil
}

func (s *fakeVerificationStore) FindLatest(ctx context.Context, userID string, channel models.Channel) (*models.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *models.VerificationToken
	for _, token := range s.tokens {
		if token.UserID != userID || token.Channel != channel {
			continue
		}
		if latest == nil || token.CreatedAt.After(latest.CreatedAt) {
			latest = token
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *fakeVerificationStore) FindValid(ctx context.Context, userID string, channel models.Channel, code string) (*models.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var match *models.VerificationToken
	for _, token := range s.tokens {
		if token.UserID != userID || token.Channel != channel || token.Token != code || token.IsUsed {
			continue
		}
		if match == nil || token.CreatedAt.After(match.CreatedAt) {
			match = token
		}
	}
	if match == nil {
		return nil, nil
	}
	copied := *match
	return &copied, nil
}

func (s *fakeVerificationStore) MarkUsed(ctx context.Context, token *models.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.tokens {
		if stored.ID == token.ID {
			if stored.IsUsed {
				return repository.ErrAlreadyUsed
			}
			stored.IsUsed = true
			token.IsUsed = true
			return nil
		}
	}
	return repository.ErrAlreadyUsed
}

func (s *fakeVerificationStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []*models.VerificationToken
	deleted := 0
	for _, token := range s.tokens {
		if token.Expired(now) {
			deleted++
			continue
		}
		kept = append(kept, token)
	}
	s.tokens = kept
	return deleted, nil
}

// backdate shifts the latest row for (userID, channel) into the past, as if
// the cool-down window had elapsed.
func (s *fakeVerificationStore) backdate(userID string, channel models.Channel, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, token := range s.tokens {
		if token.UserID == userID && token.Channel == channel {
			token.CreatedAt = token.CreatedAt.Add(-by)
		}
	}
}

type fakeResetStore struct {
	mu     sync.Mutex
	tokens map[string]*models.PasswordResetToken
}

func newFakeResetStore() *fakeResetStore {
	return &fakeResetStore{tokens: make(map[string]*models.PasswordResetToken)}
}

func (s *fakeResetStore) Create(ctx context.Context, token *models.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *token
	s.tokens[token.Token] = &copied
	return nil
}

func (s *fakeResetStore) FindValidByToken(ctx context.Context, value string) (*models.PasswordResetToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	token, ok := s.tokens[value]
	if !ok || token.IsUsed {
		return nil, nil
	}
	copied := *token
	return &copied, nil
}

func (s *fakeResetStore) FindValidByUserAndToken(ctx context.Context, userID, value string) (*models.PasswordResetToken, error) {
	token, err := s.FindValidByToken(ctx, value)
	if err != nil || token == nil {
		return nil, err
	}
	if token.UserID != userID {
		return nil, nil
	}
	return token, nil
}

func (s *fakeResetStore) MarkUsed(ctx context.Context, token *models.PasswordResetToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.tokens[token.Token]
	if !ok || stored.IsUsed {
		return repository.ErrAlreadyUsed
	}
	stored.IsUsed = true
	token.IsUsed = true
	return nil
}

func (s *fakeResetStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for value, token := range s.tokens {
		if token.Expired(now) {
			delete(s.tokens, value)
			deleted++
		}
	}
	return deleted, nil
}

func (s *fakeResetStore) expire(value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if token, ok := s.tokens[value]; ok {
		token.ExpiresAt = time.Now().Add(-time.Second)
	}
}

type recordingNotifier struct {
	mu       sync.Mutex
	payloads []string
	err      error
}

func (n *recordingNotifier) SendToChannel(ctx context.Context, user *models.User, channel models.Channel, payload string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.payloads = append(n.payloads, payload)
	return nil
}

package models

import (
	"fmt"
	"time"
)

// Channel is the contact channel a verification code is bound to.
type Channel string

const (
	ChannelPhone Channel = "PHONE"
	ChannelEmail Channel = "EMAIL"
)

func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelPhone, ChannelEmail:
		return Channel(s), nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

// VerificationToken is a persisted 6-digit one-time code. Rows accumulate per
// (UserID, Channel); only the most recent unused, unexpired row is
// authoritative for validation. IsUsed transitions false to true exactly once.
type VerificationToken struct {
	ID        string    `json:"id" dynamodbav:"id"`
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Channel   Channel   `json:"type" dynamodbav:"channel"`
	Token     string    `json:"token" dynamodbav:"token"`
	IsUsed    bool      `json:"is_used" dynamodbav:"is_used"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

func (t *VerificationToken) GetPK() string {
	return fmt.Sprintf("OTP#%s#%s", t.UserID, t.Channel)
}

func (t *VerificationToken) GetSK() string {
	return fmt.Sprintf("CODE#%s#%s", t.CreatedAt.UTC().Format(time.RFC3339Nano), t.ID)
}

func (t *VerificationToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

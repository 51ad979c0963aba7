package models

import (
	"time"
)

// PasswordResetToken is a persisted single-use reset token, looked up by its
// 64-character value alone or by (UserID, value).
type PasswordResetToken struct {
	ID        string    `json:"id" dynamodbav:"id"`
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Token     string    `json:"token" dynamodbav:"token"`
	IsUsed    bool      `json:"is_used" dynamodbav:"is_used"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

func (t *PasswordResetToken) GetPK() string {
	return "RESET#" + t.Token
}

func (t *PasswordResetToken) GetSK() string {
	return "METADATA"
}

func (t *PasswordResetToken) Expired(now time.Time) bool {
	return !t.ExpiresAt.After(now)
}

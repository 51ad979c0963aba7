package models

import (
	"time"
)

type UserStatus string

const (
	UserStatusActive  UserStatus = "active"
	UserStatusBlocked UserStatus = "blocked"
)

type User struct {
	ID           string     `json:"id" dynamodbav:"id"`
	Phone        string     `json:"phone,omitempty" dynamodbav:"phone,omitempty"`
	Email        string     `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Status       UserStatus `json:"status" dynamodbav:"status"`
	PasswordHash string     `json:"-" dynamodbav:"password_hash,omitempty"`
	CreatedAt    time.Time  `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

// Identifiers lists the contact values a user can be looked up by.
func (u *User) Identifiers() []string {
	var ids []string
	if u.Phone != "" {
		ids = append(ids, u.Phone)
	}
	if u.Email != "" {
		ids = append(ids, u.Email)
	}
	return ids
}

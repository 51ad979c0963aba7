package security

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

const minPasswordLength = 8

// WeakPasswordError names the strength rule a candidate password failed.
type WeakPasswordError struct {
	Rule string
}

func (e *WeakPasswordError) Error() string {
	return fmt.Sprintf("password too weak: %s", e.Rule)
}

// CheckPasswordStrength enforces the local password policy: minimum length 8
// with at least one upper-case letter, one lower-case letter, and one digit.
// Pure function, no I/O.
func CheckPasswordStrength(password string) error {
	if len(password) < minPasswordLength {
		return &WeakPasswordError{Rule: fmt.Sprintf("must be at least %d characters", minPasswordLength)}
	}

	var hasUpper, hasLower, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}

	switch {
	case !hasUpper:
		return &WeakPasswordError{Rule: "must contain an upper-case letter"}
	case !hasLower:
		return &WeakPasswordError{Rule: "must contain a lower-case letter"}
	case !hasDigit:
		return &WeakPasswordError{Rule: "must contain a digit"}
	}
	return nil
}

func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashed), nil
}

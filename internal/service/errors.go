package service

import "errors"

// Expected-failure taxonomy returned by the three credential services.
// Callers branch with errors.Is; infrastructure failures are wrapped
// separately and never collapse into these.
var (
	// ErrInvalidToken covers a wrong value, wrong owner, or already-used
	// token or code.
	ErrInvalidToken = errors.New("invalid token")

	// ErrExpired marks a structurally valid token or code past its expiry.
	ErrExpired = errors.New("token expired")

	// ErrInvalidFormat marks an OTP code that is not the required digit
	// pattern.
	ErrInvalidFormat = errors.New("invalid code format")

	// ErrRateLimitExceeded marks an issuance request inside the cool-down
	// window.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrUserNotFound marks a subject identifier that does not resolve.
	ErrUserNotFound = errors.New("user not found")
)

package cache

import (
	"fmt"

	"github.com/credstack/credstack/internal/models"
)

// Cache key builders shared by the token, OTP, and reset services. Keeping
// them together makes every invalidation site use the exact key its writer
// used.

// RefreshBindingKey maps a refresh token value to its owning user. The cache
// is the sole store for these bindings; there is no persisted backing.
func RefreshBindingKey(refreshToken string) string {
	return "refresh_token:" + refreshToken
}

// OTPSendMemoKey memoizes the can-send rate-limit decision per (user, channel).
func OTPSendMemoKey(userID string, channel models.Channel) string {
	return fmt.Sprintf("otp:can_send:%s:%s", userID, channel)
}

// OTPValidationKey memoizes the valid-code lookup for an exact
// (user, channel, code) triple.
func OTPValidationKey(userID string, channel models.Channel, code string) string {
	return fmt.Sprintf("otp:valid:%s:%s:%s", userID, channel, code)
}

// ResetValidationKey memoizes the valid-token lookup for a reset token value.
func ResetValidationKey(token string) string {
	return "reset:valid:" + token
}

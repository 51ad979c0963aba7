package security

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/credstack/credstack/internal/models"
)

var (
	ErrMalformedToken   = errors.New("malformed token")
	ErrInvalidSignature = errors.New("invalid token signature")
)

// UserSnapshot is the user state captured into a bearer token at issuance.
type UserSnapshot struct {
	ID     string            `json:"id"`
	Phone  string            `json:"phone,omitempty"`
	Email  string            `json:"email,omitempty"`
	Status models.UserStatus `json:"status"`
}

// BearerClaims is the payload of a bearer access token. ExpiresAt is always
// after IssuedAt and ID carries a per-issuance nonce, so two tokens minted in
// the same second never collide.
type BearerClaims struct {
	User UserSnapshot `json:"user"`
	jwt.RegisteredClaims
}

func SnapshotUser(u *models.User) UserSnapshot {
	return UserSnapshot{
		ID:     u.ID,
		Phone:  u.Phone,
		Email:  u.Email,
		Status: u.Status,
	}
}

// Codec encodes and decodes the three-part bearer token
// base64url(header).base64url(payload).base64url(signature). The wire format
// is a minimal HS256 JWT so that other services can parse it independently.
// The codec performs no expiry or subject validation; that belongs to callers.
type Codec struct {
	signer *Signer
}

func NewCodec(signer *Signer) *Codec {
	return &Codec{signer: signer}
}

func (c *Codec) Encode(claims *BearerClaims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signingString, err := token.SigningString()
	if err != nil {
		return "", err
	}
	signature := c.signer.Sign([]byte(signingString))
	return signingString + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

// Decode splits the token, verifies its signature over the first two
// segments, and parses the payload. Signature verification happens before any
// payload parsing, so a tampered token is never partially trusted.
func (c *Codec) Decode(raw string) (*BearerClaims, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 {
		return nil, ErrMalformedToken
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if !c.signer.Verify([]byte(parts[0]+"."+parts[1]), signature) {
		return nil, ErrInvalidSignature
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrMalformedToken
	}

	var claims BearerClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrMalformedToken
	}

	return &claims, nil
}

package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
)

// Signer produces and verifies HMAC-SHA256 signatures with a server-held
// secret. The secret is injected at construction and never exposed or logged.
type Signer struct {
	secret []byte
}

func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) < 32 {
		return nil, fmt.Errorf("signing secret must be at least 32 bytes")
	}
	return &Signer{secret: secret}, nil
}

func (s *Signer) Sign(message []byte) []byte {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(message)
	return mac.Sum(nil)
}

// Verify reports whether signature matches message. Comparison is constant
// time; malformed inputs simply fail to match.
func (s *Signer) Verify(message, signature []byte) bool {
	return hmac.Equal(s.Sign(message), signature)
}

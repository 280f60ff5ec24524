package jwtx

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// MinHS256SecretSize is the shortest shared secret we accept (256 bits).
const MinHS256SecretSize = 32

// HS256Signer implements Signer with a shared HMAC secret.
type HS256Signer struct {
	kid    string
	secret []byte
}

func newHS256Signer(kid string, secret []byte) (*HS256Signer, error) {
	if len(secret) < MinHS256SecretSize {
		return nil, fmt.Errorf("jwtx: HS256 secret must be at least %d bytes, got %d", MinHS256SecretSize, len(secret))
	}

	// Keep our own copy so callers can't mutate the key underneath us
	buf := make([]byte, len(secret))
	copy(buf, secret)

	return &HS256Signer{kid: kid, secret: buf}, nil
}

func (s *HS256Signer) Alg() string { return jwt.SigningMethodHS256.Alg() }
func (s *HS256Signer) KID() string { return s.kid }

func (s *HS256Signer) Sign(claims Claims) (string, error) {
	return signWith(jwt.SigningMethodHS256, s.kid, s.secret, claims)
}

func (s *HS256Signer) VerificationKey() any { return s.secret }

func (s *HS256Signer) Validate() error {
	if len(s.secret) < MinHS256SecretSize {
		return fmt.Errorf("jwtx: HS256 secret too short")
	}
	return nil
}

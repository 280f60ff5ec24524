package jwtx

import (
	"crypto/ed25519"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// EdDSASigner implements Signer with an Ed25519 key pair.
type EdDSASigner struct {
	kid  string
	priv ed25519.PrivateKey
}

// newEdDSASigner accepts a PKCS8 "PRIVATE KEY" PEM block, which is what
// cryptox.GenerateEd25519Key writes.
func newEdDSASigner(kid string, pemKey []byte) (*EdDSASigner, error) {
	key, err := jwt.ParseEdPrivateKeyFromPEM(pemKey)
	if err != nil {
		return nil, fmt.Errorf("jwtx: EdDSA key: %w", err)
	}

	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("jwtx: EdDSA key is %T, want ed25519.PrivateKey", key)
	}

	return &EdDSASigner{kid: kid, priv: priv}, nil
}

func (s *EdDSASigner) Alg() string { return jwt.SigningMethodEdDSA.Alg() }
func (s *EdDSASigner) KID() string { return s.kid }

func (s *EdDSASigner) Sign(claims Claims) (string, error) {
	return signWith(jwt.SigningMethodEdDSA, s.kid, s.priv, claims)
}

func (s *EdDSASigner) VerificationKey() any { return s.priv.Public() }

func (s *EdDSASigner) Validate() error {
	if len(s.priv) != ed25519.PrivateKeySize {
		return fmt.Errorf("jwtx: EdDSA private key is %d bytes", len(s.priv))
	}
	return nil
}

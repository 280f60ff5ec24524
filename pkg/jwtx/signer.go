package jwtx

import "github.com/golang-jwt/jwt/v5"

// Signer is our interface for anything that can sign JWTs.
type Signer interface {
	Alg() string
	KID() string
	Sign(Claims) (string, error)

	// VerificationKey is the key a verifier needs for tokens from this
	// signer: the shared secret for HMAC, the public key otherwise.
	VerificationKey() any

	Validate() error
}

// NewSignerHS256 creates an HMAC-SHA256 signer from a shared secret.
func NewSignerHS256(kid string, secret []byte) (Signer, error) {
	return newHS256Signer(kid, secret)
}

// NewSignerEdDSA creates an EdDSA signer from PEM bytes.
// Ed25519 keys must be in PKCS8 format.
func NewSignerEdDSA(kid string, pemKey []byte) (Signer, error) {
	return newEdDSASigner(kid, pemKey)
}

// signWith stamps the kid header so verifiers can pick the key.
func signWith(method jwt.SigningMethod, kid string, key any, claims Claims) (string, error) {
	t := jwt.NewWithClaims(method, claims)
	t.Header["kid"] = kid
	return t.SignedString(key)
}

package service

import (
	"fmt"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
)

// DigestMode selects how numeric codes are digested. Opaque secrets always
// use the fast SHA-256 fingerprint because they are looked up by digest.
type DigestMode string

const (
	DigestSHA256 DigestMode = "sha256"
	DigestArgon2 DigestMode = "argon2"
)

type SecretCodec struct {
	Mode   DigestMode
	Hasher cryptox.Hasher
}

// NewOpaque returns a random base64url secret of size bytes and its digest.
func (c SecretCodec) NewOpaque(size int) (raw, digest string, err error) {
	raw, err = cryptox.GenerateToken(size)
	if err != nil {
		return "", "", err
	}
	return raw, c.DigestOpaque(raw), nil
}

func (c SecretCodec) DigestOpaque(raw string) string {
	return cryptox.FingerprintToken(raw)
}

// NewCode returns a numeric code bound to recordID and its digest. Binding
// the id keeps equal codes on different records from sharing a digest.
func (c SecretCodec) NewCode(recordID string, digits int) (raw, digest string, err error) {
	raw, err = cryptox.GenerateCode(digits)
	if err != nil {
		return "", "", err
	}

	bound := recordID + ":" + raw
	if c.Mode == DigestArgon2 {
		digest, err = c.Hasher.Hash(bound)
		if err != nil {
			return "", "", fmt.Errorf("failed to hash code: %w", err)
		}
		return raw, digest, nil
	}
	return raw, cryptox.FingerprintToken(bound), nil
}

// NewSecret generates whatever the policy asks for.
func (c SecretCodec) NewSecret(recordID string, pol domain.Policy) (raw, digest string, err error) {
	if pol.Secret == domain.SecretNumeric {
		return c.NewCode(recordID, pol.Digits)
	}
	return c.NewOpaque(pol.SecretBytes)
}

// Match compares a presented secret against the stored digest in constant
// time. The digest format decides the algorithm, so records written before a
// mode change still verify.
func (c SecretCodec) Match(rec domain.CredentialRecord, presented string, kind domain.SecretKind) bool {
	if kind == domain.SecretOpaque {
		return cryptox.EqualFingerprints(cryptox.FingerprintToken(presented), rec.SecretDigest)
	}

	bound := rec.ID + ":" + presented
	if cryptox.IsPHC(rec.SecretDigest) {
		return c.Hasher.Verify(bound, rec.SecretDigest) == nil
	}
	return cryptox.EqualFingerprints(cryptox.FingerprintToken(bound), rec.SecretDigest)
}

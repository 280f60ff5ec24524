package jwtx

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verifier validates a JWT and gives you back the claims if it's legit.
type Verifier interface {
	Verify(token string) (Claims, error)
}

// VerifyOptions captures common expectations used by verifiers.
type VerifyOptions struct {
	// Issuer the token must have (claims.iss). Empty means "don't care".
	Issuer string

	// Audience values the token must contain (claims.aud). Empty means "don't care".
	Audience []string

	// Leeway allows small clock skew when validating exp/nbf.
	// Because time sync is never perfect.
	Leeway time.Duration

	// Now is the time source for expiry checks. Defaults to time.Now.
	Now func() time.Time
}

var (
	ErrMalformed   = errors.New("jwtx: malformed token")
	ErrAlgMismatch = errors.New("jwtx: algorithm mismatch")
	ErrUnknownKID  = errors.New("jwtx: unknown kid")
	ErrInvalidSig  = errors.New("jwtx: invalid signature")

	ErrIssuer       = errors.New("jwtx: issuer mismatch")
	ErrAudience     = errors.New("jwtx: audience mismatch")
	ErrExpired      = errors.New("jwtx: token expired")
	ErrNotYetValid  = errors.New("jwtx: token not yet valid")
	ErrInvalidClaim = errors.New("jwtx: invalid claims")
)

// KeySetVerifier verifies tokens signed by any key in a KeySet.
type KeySetVerifier struct {
	keys *KeySet
	opts VerifyOptions
}

// NewVerifier returns a Verifier bound to keys.
func NewVerifier(keys *KeySet, opts VerifyOptions) *KeySetVerifier {
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &KeySetVerifier{keys: keys, opts: opts}
}

// Verify checks the signature first and only then looks at the claims.
// Registered claim validation inside the jwt library is disabled so that
// expiry is judged against our own clock.
func (v *KeySetVerifier) Verify(tokenStr string) (Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{v.keys.Alg()}),
		jwt.WithoutClaimsValidation(),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		// Need the kid to know which key to use
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownKID
		}

		key, err := v.keys.Get(kid)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownKID, kid)
		}
		return key, nil
	})
	if err != nil {
		return Claims{}, mapParseError(err)
	}
	if !token.Valid {
		return Claims{}, ErrInvalidSig
	}

	if err := claims.ValidateIssuer(v.opts.Issuer); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateAudience(v.opts.Audience); err != nil {
		return Claims{}, err
	}
	if err := claims.ValidateExpiry(v.opts.Now(), v.opts.Leeway); err != nil {
		return Claims{}, err
	}

	return *claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownKID):
		return fmt.Errorf("%w: %v", ErrUnknownKID, err)
	case errors.Is(err, jwt.ErrTokenMalformed):
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrSignatureInvalid):
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSig, err)
	}
}

package service

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/clockx"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

const (
	DefaultAccessTTL     = 15 * time.Minute
	DefaultOnboardingTTL = 15 * time.Minute
)

// TokenAssembler issues and parses the stateless signed tokens. Refresh
// tokens are not signed; they live in the credential store.
type TokenAssembler struct {
	Keys          *jwtx.KeyManager
	Issuer        string
	Audience      []string
	AccessTTL     time.Duration
	OnboardingTTL time.Duration
	Clock         clockx.Clock
}

func (t *TokenAssembler) now() time.Time {
	if t.Clock == nil {
		return time.Now().UTC()
	}
	return t.Clock.Now().UTC()
}

// DefaultAccessTTL is the lifetime used when a caller passes no ttl.
func (t *TokenAssembler) DefaultAccessTTL() time.Duration {
	if t.AccessTTL <= 0 {
		return DefaultAccessTTL
	}
	return t.AccessTTL
}

// IssueAccessToken signs claims for owner. The caller supplies the profile
// and authentication claims; registered claims are overwritten.
func (t *TokenAssembler) IssueAccessToken(owner string, claims jwtx.Claims, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = t.DefaultAccessTTL()
	}
	claims.Scope = ""
	claims.MFAVerified = nil
	return t.sign(owner, claims, ttl)
}

// IssueOnboardingToken signs a narrow-scope token that downstream
// authorisation must refuse for anything but finishing login or onboarding.
func (t *TokenAssembler) IssueOnboardingToken(owner string, claims jwtx.Claims, ttl time.Duration, mfaRequired bool) (string, error) {
	if ttl <= 0 {
		ttl = t.OnboardingTTL
	}
	if ttl <= 0 {
		ttl = DefaultOnboardingTTL
	}

	scopes := []string{jwtx.ScopeOnboarding}
	if mfaRequired {
		scopes = append(scopes, jwtx.ScopeMFARequired)
	}
	claims.Scope = strings.Join(scopes, " ")
	claims.MFA = nil
	claims.AMR = []string{"pwd"}
	claims.MFAVerified = jwtx.Bool(false)
	claims.EmailVerified = jwtx.Bool(false)
	return t.sign(owner, claims, ttl)
}

func (t *TokenAssembler) sign(owner string, claims jwtx.Claims, ttl time.Duration) (string, error) {
	if t.Keys == nil || !t.Keys.IsReady() {
		return "", errors.New("no signing key available")
	}

	claims.RegisteredClaims = jwtx.NewClaims(owner, t.Issuer, t.Audience, ttl, t.now()).RegisteredClaims

	token, err := t.Keys.GetSigner().Sign(claims)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return token, nil
}

// Parse verifies the signature and then the claims. Expiry is judged by the
// key manager's clock.
func (t *TokenAssembler) Parse(token string) (jwtx.Claims, error) {
	claims, err := t.Keys.Verifier.Verify(token)
	switch {
	case err == nil:
		return claims, nil
	case errors.Is(err, jwtx.ErrExpired), errors.Is(err, jwtx.ErrNotYetValid):
		return jwtx.Claims{}, fmt.Errorf("%w: %v", ErrExpired, err)
	default:
		return jwtx.Claims{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

// IsOnboarding reports whether claims belong to an onboarding token.
func IsOnboarding(claims jwtx.Claims) bool {
	return claims.HasScope(jwtx.ScopeOnboarding)
}

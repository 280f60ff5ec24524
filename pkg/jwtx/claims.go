package jwtx

import (
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Scope values carried by narrow-scope tokens.
const (
	ScopeOnboarding  = "onboarding"
	ScopeMFARequired = "mfa_required"
)

// Claims is the claim set shared by access and onboarding tokens. Flags
// that only some token kinds carry are pointers so that "absent" and
// "false" stay distinguishable on the wire.
type Claims struct {
	jwt.RegisteredClaims

	Username string   `json:"username,omitempty"`
	Email    string   `json:"email,omitempty"`
	Roles    []string `json:"roles,omitempty"`

	// Authentication Methods Reference ["pwd","otp"]
	AMR []string `json:"amr,omitempty"`

	// MFA reports whether the second factor was satisfied for this session.
	MFA *bool `json:"mfa,omitempty"`

	// Scope is a space separated list. Onboarding tokens carry
	// "onboarding" and optionally "mfa_required".
	Scope string `json:"scope,omitempty"`

	MFAVerified   *bool `json:"mfa_verified,omitempty"`
	EmailVerified *bool `json:"email_verified,omitempty"`
}

// NewClaims builds the registered part of a claim set valid from now for ttl.
func NewClaims(subject, issuer string, audience []string, ttl time.Duration, now time.Time) Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings(audience),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        NewJTI(),
		},
	}
}

// NewJTI returns a unique identifier for the "jti" claim.
func NewJTI() string {
	return uuid.NewString()
}

// Bool is a small helper for the optional flag claims.
func Bool(v bool) *bool { return &v }

// Scopes splits the scope claim.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// HasScope reports whether s is one of the space separated scope values.
func (c *Claims) HasScope(s string) bool {
	return slices.Contains(c.Scopes(), s)
}

// MFASatisfied is true only when the mfa claim is present and true.
func (c *Claims) MFASatisfied() bool {
	return c.MFA != nil && *c.MFA
}

// ValidateIssuer checks if the issuer matches expected value.
func (c *Claims) ValidateIssuer(expected string) error {
	if expected == "" {
		return nil // nothing to enforce
	}

	if c.Issuer != expected {
		return ErrIssuer
	}

	return nil
}

// ValidateAudience checks if at least one expected audience is present.
func (c *Claims) ValidateAudience(expected []string) error {
	if len(expected) == 0 {
		return nil // nothing to enforce
	}

	for _, want := range expected {
		if slices.Contains(c.Audience, want) {
			return nil
		}
	}

	return ErrAudience
}

// ValidateExpiry checks exp and nbf against now, allowing leeway for clock
// skew. A token is still valid at exactly its exp instant.
func (c *Claims) ValidateExpiry(now time.Time, leeway time.Duration) error {
	if c.ExpiresAt == nil {
		return ErrInvalidClaim
	}

	if now.After(c.ExpiresAt.Add(leeway)) {
		return ErrExpired
	}

	if c.NotBefore != nil && now.Before(c.NotBefore.Add(-leeway)) {
		return ErrNotYetValid
	}

	return nil
}

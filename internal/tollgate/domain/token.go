package domain

import "time"

// TokenPair is what a successful login or refresh hands back.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"` // always "Bearer"
	ExpiresIn    int64  `json:"expires_in"` // seconds until the access token expires
}

// Challenge describes a live MFA code without exposing it.
type Challenge struct {
	ID          string
	OwnerID     string
	ExpiresAt   time.Time
	Destination string // masked
	Method      MFAMethod
	Reused      bool // true when the cooldown returned an existing challenge
}

// LoginResult is either a token pair or an onboarding token plus challenge.
type LoginResult struct {
	Tokens          *TokenPair
	OnboardingToken string
	Challenge       *Challenge
}

func (r LoginResult) MFARequired() bool { return r.Challenge != nil }

type AuthenticatorEnrollment struct {
	Secret  string // Base32 encoded secret for TOTP
	URL     string // otpauth:// URL for QR code generation
	Issuer  string
	Account string
}

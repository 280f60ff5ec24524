package service

import (
	"context"
	"errors"
	"sync"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// SessionService ties password login, the MFA challenge and refresh tokens
// into token pairs.
type SessionService struct {
	Engine        *CredentialEngine
	Directory     PrincipalDirectory
	Tokens        *TokenAssembler
	RefreshTokens *RefreshService
	MFA           *MFAService
	Passwords     cryptox.Hasher

	// MFARequired forces a second factor for every principal, enrolled or not.
	MFARequired bool

	dummyOnce sync.Once
	dummyHash string
}

// Login checks the password and either returns tokens or starts an MFA
// challenge and returns an onboarding token alongside it.
func (s *SessionService) Login(ctx context.Context, login, password string) (domain.LoginResult, error) {
	l := slogx.FromContext(ctx)

	tctx, cancel := s.Engine.withTimeout(ctx)
	p, err := s.Engine.Store.Principals().GetPrincipalByLogin(tctx, login)
	cancel()
	if errors.Is(err, store.ErrNotFound) {
		// Burn the same argon2 cost as a real check so unknown logins are
		// not distinguishable by timing
		_ = s.Passwords.Verify(password, s.dummy())
		return domain.LoginResult{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.LoginResult{}, unavailable("load principal", err)
	}

	if p.PasswordHash == "" || s.Passwords.Verify(password, p.PasswordHash) != nil {
		l.Info("login rejected", "owner_id", p.ID)
		return domain.LoginResult{}, ErrInvalidCredentials
	}

	if s.MFARequired || p.MFAEnrolled {
		challenge, err := s.MFA.Start(ctx, p.ID)
		if err != nil {
			return domain.LoginResult{}, err
		}

		token, err := s.Tokens.IssueOnboardingToken(p.ID, claimsFor(p), 0, true)
		if err != nil {
			return domain.LoginResult{}, err
		}

		return domain.LoginResult{OnboardingToken: token, Challenge: &challenge}, nil
	}

	pair, err := s.issue(ctx, p, false)
	if err != nil {
		return domain.LoginResult{}, err
	}

	l.Info("login succeeded", "owner_id", p.ID, "mfa", false)
	return domain.LoginResult{Tokens: &pair}, nil
}

// CompleteMFA finishes a login that was paused on a challenge.
func (s *SessionService) CompleteMFA(ctx context.Context, challengeID, code string) (domain.TokenPair, error) {
	ownerID, err := s.MFA.Verify(ctx, challengeID, code)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return s.IssueTokenPair(ctx, ownerID, true)
}

// IssueTokenPair builds an access token from the directory profile and
// issues a new refresh token.
func (s *SessionService) IssueTokenPair(ctx context.Context, ownerID string, mfa bool) (domain.TokenPair, error) {
	p, err := s.Directory.Lookup(ctx, ownerID)
	if err != nil {
		return domain.TokenPair{}, err
	}
	return s.issue(ctx, p, mfa)
}

func (s *SessionService) issue(ctx context.Context, p domain.Principal, mfa bool) (domain.TokenPair, error) {
	claims := claimsFor(p)
	claims.MFA = jwtx.Bool(mfa)
	claims.AMR = []string{"pwd"}
	if mfa {
		claims.AMR = []string{"pwd", "otp"}
	}

	access, err := s.Tokens.IssueAccessToken(p.ID, claims, 0)
	if err != nil {
		return domain.TokenPair{}, err
	}

	refresh, _, err := s.RefreshTokens.Issue(ctx, p.ID)
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.Tokens.DefaultAccessTTL().Seconds()),
	}, nil
}

// Refresh exchanges a refresh token for a new access token. With rotation
// on, the presented token is spent and a new one comes back.
func (s *SessionService) Refresh(ctx context.Context, secret string) (domain.TokenPair, error) {
	rec, err := s.RefreshTokens.Validate(ctx, secret)
	if err != nil {
		return domain.TokenPair{}, invalidRefresh(err)
	}

	next := secret
	if s.RefreshTokens.RotateOnUse {
		if next, _, err = s.RefreshTokens.Rotate(ctx, rec.ID); err != nil {
			return domain.TokenPair{}, invalidRefresh(err)
		}
	}

	p, err := s.Directory.Lookup(ctx, rec.OwnerID)
	if errors.Is(err, ErrNotFound) {
		return domain.TokenPair{}, ErrInvalidRefresh
	}
	if err != nil {
		return domain.TokenPair{}, err
	}

	// A refresh never re-proves the second factor
	claims := claimsFor(p)
	claims.MFA = jwtx.Bool(false)

	access, err := s.Tokens.IssueAccessToken(p.ID, claims, 0)
	if err != nil {
		return domain.TokenPair{}, err
	}

	return domain.TokenPair{
		AccessToken:  access,
		RefreshToken: next,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.Tokens.DefaultAccessTTL().Seconds()),
	}, nil
}

// Logout revokes one refresh token. Unknown tokens succeed.
func (s *SessionService) Logout(ctx context.Context, secret string) error {
	return s.RefreshTokens.Revoke(ctx, secret)
}

func (s *SessionService) LogoutEverywhere(ctx context.Context, ownerID string) error {
	_, err := s.RefreshTokens.RevokeAll(ctx, ownerID)
	return err
}

func (s *SessionService) dummy() string {
	s.dummyOnce.Do(func() {
		h, err := s.Passwords.Hash("tollgate-timing-equaliser")
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}

func claimsFor(p domain.Principal) jwtx.Claims {
	return jwtx.Claims{
		Username:      p.Username,
		Email:         p.Email,
		Roles:         p.Roles,
		EmailVerified: jwtx.Bool(p.EmailVerified),
	}
}

// invalidRefresh collapses every domain outcome into one error so callers
// cannot probe token state. Store failures keep their identity.
func invalidRefresh(err error) error {
	if errors.Is(err, ErrStoreUnavailable) || !IsDomainError(err) {
		return err
	}
	return ErrInvalidRefresh
}

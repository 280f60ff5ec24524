package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/delivery"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

const DefaultResendCooldown = 30 * time.Second

// MFAService runs login second-factor challenges. Each challenge is a
// LOGIN_MFA credential record; its id is handed to the client and the code
// goes out through the delivery channel.
type MFAService struct {
	Engine         *CredentialEngine
	Directory      PrincipalDirectory
	Sender         delivery.Sender
	Authenticator  *AuthenticatorService
	ResendCooldown time.Duration

	// DefaultMethod is used for principals that never chose one.
	DefaultMethod domain.MFAMethod
}

// Start issues a challenge for owner, or returns the live one when it was
// created inside the resend cooldown.
func (s *MFAService) Start(ctx context.Context, ownerID string) (domain.Challenge, error) {
	l := slogx.FromContext(ctx)

	p, err := s.Directory.Lookup(ctx, ownerID)
	if err != nil {
		return domain.Challenge{}, err
	}
	method := s.method(p)

	// Inside the cooldown the existing challenge is handed back untouched
	code, rec, err := s.Engine.ReplaceOutsideCooldown(ctx, ownerID, domain.PurposeLoginMFA, s.ResendCooldown)
	if errors.Is(err, ErrCooldownActive) {
		l.Info("mfa challenge reused inside cooldown", "owner_id", ownerID, "challenge_id", rec.ID)
		return s.challenge(rec, p, method, true), nil
	}
	if err != nil {
		return domain.Challenge{}, err
	}

	l.Info("mfa challenge started",
		"owner_id", ownerID,
		"challenge_id", rec.ID,
		"method", method,
	)

	// TOTP principals read the code from their authenticator app
	if method != domain.MFAMethodTOTP {
		s.deliver(ctx, p, method, code, rec.ExpiresAt.Sub(rec.CreatedAt))
	}

	return s.challenge(rec, p, method, false), nil
}

// Verify checks code against the challenge and returns the owner on success.
func (s *MFAService) Verify(ctx context.Context, challengeID, code string) (string, error) {
	rec, err := s.Engine.Get(ctx, challengeID)
	if errors.Is(err, ErrNotFound) {
		return "", ErrInvalidSecret
	}
	if err != nil {
		return "", err
	}
	if rec.Purpose != domain.PurposeLoginMFA {
		return "", ErrInvalidSecret
	}

	match := func(ctx context.Context) (bool, error) {
		return s.Engine.Codec.Match(rec, code, domain.SecretNumeric), nil
	}

	p, err := s.Directory.Lookup(ctx, rec.OwnerID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}
	if err == nil && s.method(p) == domain.MFAMethodTOTP && s.Authenticator != nil {
		match = func(ctx context.Context) (bool, error) {
			return s.Authenticator.VerifySecondFactor(ctx, rec.OwnerID, code)
		}
	}

	if err := s.Engine.VerifyCode(ctx, rec, match, nil); err != nil {
		return "", err
	}

	slogx.FromContext(ctx).Info("mfa challenge verified", "owner_id", rec.OwnerID, "challenge_id", rec.ID)
	return rec.OwnerID, nil
}

// Resend restarts the challenge for the owner of challengeID. The cooldown
// still applies.
func (s *MFAService) Resend(ctx context.Context, challengeID string) (domain.Challenge, error) {
	rec, err := s.Engine.Get(ctx, challengeID)
	if errors.Is(err, ErrNotFound) {
		return domain.Challenge{}, ErrInvalidSecret
	}
	if err != nil {
		return domain.Challenge{}, err
	}
	if rec.Purpose != domain.PurposeLoginMFA {
		return domain.Challenge{}, ErrInvalidSecret
	}

	return s.Start(ctx, rec.OwnerID)
}

func (s *MFAService) method(p domain.Principal) domain.MFAMethod {
	if p.MFAMethod.Valid() {
		return p.MFAMethod
	}
	if s.DefaultMethod.Valid() {
		return s.DefaultMethod
	}
	return domain.MFAMethodEmail
}

func (s *MFAService) challenge(rec domain.CredentialRecord, p domain.Principal, method domain.MFAMethod, reused bool) domain.Challenge {
	c := domain.Challenge{
		ID:        rec.ID,
		OwnerID:   rec.OwnerID,
		ExpiresAt: rec.ExpiresAt,
		Method:    method,
		Reused:    reused,
	}
	switch method {
	case domain.MFAMethodEmail:
		c.Destination = domain.MaskEmail(p.Email)
	case domain.MFAMethodSMS:
		c.Destination = domain.MaskPhone(p.Phone)
	}
	return c
}

// deliver hands the code to the sender. Failure is logged only; the
// challenge stays valid and the user can ask for a resend.
func (s *MFAService) deliver(ctx context.Context, p domain.Principal, method domain.MFAMethod, code string, ttl time.Duration) {
	if s.Sender == nil {
		return
	}

	destination, subject, body := p.Email, "Your verification code",
		fmt.Sprintf("Your verification code is: %s (valid %d minutes)", code, int(ttl.Minutes()))
	if method == domain.MFAMethodSMS {
		destination, subject, body = p.Phone, "Verification code",
			fmt.Sprintf("Your code: %s (valid %dm)", code, int(ttl.Minutes()))
	}
	if destination == "" {
		slogx.FromContext(ctx).Warn("no destination for mfa code", "owner_id", p.ID, "method", method)
		return
	}

	if err := s.Sender.SendMessage(ctx, destination, subject, body); err != nil {
		slogx.FromContext(ctx).Warn("failed to deliver mfa code", "owner_id", p.ID, "method", method, "error", err)
	}
}

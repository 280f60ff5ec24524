package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/delivery"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

const DefaultMinPasswordLength = 8

// PasswordResetService runs the emailed-code password reset. The reset is
// addressed by login, never by record id, so only the newest code counts.
type PasswordResetService struct {
	Engine            *CredentialEngine
	Directory         PrincipalDirectory
	Sender            delivery.Sender
	Passwords         cryptox.Hasher
	MinPasswordLength int
}

// Request sends a reset code to the principal behind login. Unknown logins
// succeed without sending anything.
func (s *PasswordResetService) Request(ctx context.Context, login string) error {
	l := slogx.FromContext(ctx)

	p, err := s.principal(ctx, login)
	if errors.Is(err, ErrNotFound) {
		l.Debug("password reset requested for unknown login")
		return nil
	}
	if err != nil {
		return err
	}

	code, rec, err := s.Engine.Replace(ctx, p.ID, domain.PurposePasswordReset, 0)
	if err != nil {
		return err
	}

	l.Info("password reset requested", "owner_id", p.ID, "credential_id", rec.ID)
	s.deliver(ctx, p, code, rec.ExpiresAt.Sub(rec.CreatedAt))
	return nil
}

// Confirm checks the code and sets the new password. Every refresh token of
// the owner is revoked in the same transaction.
func (s *PasswordResetService) Confirm(ctx context.Context, login, code, newPassword string) error {
	minLen := s.MinPasswordLength
	if minLen <= 0 {
		minLen = DefaultMinPasswordLength
	}
	if len(newPassword) < minLen {
		return ErrWeakPassword
	}

	p, err := s.principal(ctx, login)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidSecret
	}
	if err != nil {
		return err
	}

	rec, err := s.Engine.FindActiveForOwnerAndPurpose(ctx, p.ID, domain.PurposePasswordReset)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidSecret
	}
	if err != nil {
		return err
	}

	// Hash outside the transaction; argon2 is slow and sqlite has one writer
	hash, err := s.Passwords.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	match := func(context.Context) (bool, error) {
		return s.Engine.Codec.Match(rec, code, domain.SecretNumeric), nil
	}
	then := func(ctx context.Context, tx store.Tx) error {
		now := s.Engine.now()
		if err := tx.Principals().UpdatePrincipal(ctx, p.ID, domain.PrincipalUpdate{PasswordHash: &hash}, now); err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}
		if _, err := tx.Credentials().RevokeCredentialsForOwner(ctx, p.ID, domain.PurposeRefresh, now); err != nil {
			return fmt.Errorf("failed to revoke refresh tokens: %w", err)
		}
		return nil
	}

	if err := s.Engine.VerifyCode(ctx, rec, match, then); err != nil {
		return err
	}

	if s.Directory != nil {
		if err := s.Directory.Invalidate(ctx, p.ID); err != nil {
			slogx.FromContext(ctx).Warn("failed to invalidate principal", "owner_id", p.ID, "error", err)
		}
	}

	slogx.FromContext(ctx).Info("password reset completed", "owner_id", p.ID)
	return nil
}

func (s *PasswordResetService) principal(ctx context.Context, login string) (domain.Principal, error) {
	ctx, cancel := s.Engine.withTimeout(ctx)
	defer cancel()

	p, err := s.Engine.Store.Principals().GetPrincipalByLogin(ctx, login)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Principal{}, ErrNotFound
	}
	if err != nil {
		return domain.Principal{}, unavailable("load principal", err)
	}
	return p, nil
}

func (s *PasswordResetService) deliver(ctx context.Context, p domain.Principal, code string, ttl time.Duration) {
	if s.Sender == nil {
		return
	}

	destination := p.Email
	if destination == "" {
		destination = p.Phone
	}
	if destination == "" {
		slogx.FromContext(ctx).Warn("no destination for password reset", "owner_id", p.ID)
		return
	}

	body := fmt.Sprintf("Your password reset code is: %s (valid %d minutes)", code, int(ttl.Minutes()))
	if err := s.Sender.SendMessage(ctx, destination, "Reset your password", body); err != nil {
		slogx.FromContext(ctx).Warn("failed to deliver password reset code", "owner_id", p.ID, "error", err)
	}
}

package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

const backupCodeCount = 10 // Number of backup codes to generate

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// AuthenticatorService enrols TOTP authenticator apps. Backup codes are
// MFA_BACKUP credential records and share the engine's lifecycle.
type AuthenticatorService struct {
	Engine    *CredentialEngine
	Directory PrincipalDirectory
	Issuer    string // Issuer name shown in the authenticator app
}

// Enroll generates a TOTP secret for the owner and returns it with the
// otpauth URL. MFA is not switched on until Confirm succeeds.
func (s *AuthenticatorService) Enroll(ctx context.Context, ownerID string) (domain.AuthenticatorEnrollment, error) {
	ctx, cancel := s.Engine.withTimeout(ctx)
	defer cancel()

	p, err := principalIn(ctx, s.Engine.Store, ownerID)
	if err != nil {
		return domain.AuthenticatorEnrollment{}, err
	}
	if p.MFAMethod == domain.MFAMethodTOTP {
		return domain.AuthenticatorEnrollment{}, ErrMFAAlreadyEnabled
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.Issuer,
		AccountName: p.Username,
		Period:      totpOpts.Period,
		Digits:      totpOpts.Digits,
		Algorithm:   totpOpts.Algorithm,
	})
	if err != nil {
		return domain.AuthenticatorEnrollment{}, fmt.Errorf("failed to generate TOTP key: %w", err)
	}

	secret := key.Secret()
	upd := domain.PrincipalUpdate{TOTPSecret: &secret}
	if err := s.Engine.Store.Principals().UpdatePrincipal(ctx, ownerID, upd, s.Engine.now()); err != nil {
		return domain.AuthenticatorEnrollment{}, unavailable("store TOTP secret", err)
	}

	return domain.AuthenticatorEnrollment{
		Secret:  secret,
		URL:     key.URL(),
		Issuer:  s.Issuer,
		Account: p.Username,
	}, nil
}

// Confirm checks the first code from the app, switches the owner to TOTP and
// returns freshly issued backup codes. The codes are shown exactly once.
func (s *AuthenticatorService) Confirm(ctx context.Context, ownerID, code string) ([]string, error) {
	ctx, cancel := s.Engine.withTimeout(ctx)
	defer cancel()

	p, err := principalIn(ctx, s.Engine.Store, ownerID)
	if err != nil {
		return nil, err
	}
	if p.TOTPSecret == "" {
		return nil, ErrMFANotEnabled
	}
	if p.MFAMethod == domain.MFAMethodTOTP {
		return nil, ErrMFAAlreadyEnabled
	}
	if !s.validate(p.TOTPSecret, code) {
		return nil, ErrInvalidSecret
	}

	var codes []string
	err = s.Engine.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		if codes, err = s.issueBackupCodes(ctx, tx, ownerID); err != nil {
			return err
		}

		method, enrolled := domain.MFAMethodTOTP, true
		upd := domain.PrincipalUpdate{MFAMethod: &method, MFAEnrolled: &enrolled}
		if err := tx.Principals().UpdatePrincipal(ctx, ownerID, upd, s.Engine.now()); err != nil {
			return fmt.Errorf("failed to enable MFA: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, unavailable("confirm authenticator", err)
	}

	s.invalidate(ctx, ownerID)
	slogx.FromContext(ctx).Info("authenticator enrolled", "owner_id", ownerID)
	return codes, nil
}

// RegenerateBackupCodes replaces every unused backup code after checking a
// current TOTP code.
func (s *AuthenticatorService) RegenerateBackupCodes(ctx context.Context, ownerID, code string) ([]string, error) {
	ctx, cancel := s.Engine.withTimeout(ctx)
	defer cancel()

	if err := s.requireTOTP(ctx, ownerID, code); err != nil {
		return nil, err
	}

	var codes []string
	err := s.Engine.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		codes, err = s.issueBackupCodes(ctx, tx, ownerID)
		return err
	})
	if err != nil {
		return nil, unavailable("regenerate backup codes", err)
	}
	return codes, nil
}

// Remove turns TOTP off after checking a current code. Remaining backup
// codes are revoked and the owner falls back to email codes.
func (s *AuthenticatorService) Remove(ctx context.Context, ownerID, code string) error {
	ctx, cancel := s.Engine.withTimeout(ctx)
	defer cancel()

	if err := s.requireTOTP(ctx, ownerID, code); err != nil {
		return err
	}

	err := s.Engine.Store.WithTx(ctx, func(tx store.Tx) error {
		now := s.Engine.now()
		if _, err := tx.Credentials().RevokeCredentialsForOwner(ctx, ownerID, domain.PurposeMFABackup, now); err != nil {
			return fmt.Errorf("failed to revoke backup codes: %w", err)
		}

		method, secret := domain.MFAMethodEmail, ""
		upd := domain.PrincipalUpdate{MFAMethod: &method, TOTPSecret: &secret}
		if err := tx.Principals().UpdatePrincipal(ctx, ownerID, upd, now); err != nil {
			return fmt.Errorf("failed to disable MFA: %w", err)
		}
		return nil
	})
	if err != nil {
		return unavailable("remove authenticator", err)
	}

	s.invalidate(ctx, ownerID)
	return nil
}

// RedeemBackupCode consumes one backup code belonging to owner.
func (s *AuthenticatorService) RedeemBackupCode(ctx context.Context, ownerID, code string) error {
	rec, err := s.Engine.GetBySecret(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return ErrInvalidSecret
	}
	if err != nil {
		return err
	}
	// Someone else's code looks exactly like an unknown one
	if rec.Purpose != domain.PurposeMFABackup || rec.OwnerID != ownerID {
		return ErrInvalidSecret
	}
	if err := stateError(rec, s.Engine.now()); err != nil {
		return err
	}

	if err := s.Engine.Consume(ctx, rec.ID); err != nil {
		return err
	}

	s.Engine.Metrics.Verified(ctx, domain.PurposeMFABackup)
	slogx.FromContext(ctx).Info("backup code redeemed", "owner_id", ownerID, "credential_id", rec.ID)
	return nil
}

// VerifySecondFactor accepts either a current TOTP code or an unused backup
// code. A rejected code is (false, nil); only store failures are errors.
func (s *AuthenticatorService) VerifySecondFactor(ctx context.Context, ownerID, code string) (bool, error) {
	tctx, cancel := s.Engine.withTimeout(ctx)
	p, err := principalIn(tctx, s.Engine.Store, ownerID)
	cancel()
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if p.TOTPSecret != "" && s.validate(p.TOTPSecret, code) {
		return true, nil
	}

	err = s.RedeemBackupCode(ctx, ownerID, code)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrStoreUnavailable):
		return false, err
	default:
		return false, nil
	}
}

func (s *AuthenticatorService) requireTOTP(ctx context.Context, ownerID, code string) error {
	p, err := principalIn(ctx, s.Engine.Store, ownerID)
	if err != nil {
		return err
	}
	if p.MFAMethod != domain.MFAMethodTOTP || p.TOTPSecret == "" {
		return ErrMFANotEnabled
	}
	if !s.validate(p.TOTPSecret, code) {
		return ErrInvalidSecret
	}
	return nil
}

// issueBackupCodes revokes any previous set and stores new codes as digests.
func (s *AuthenticatorService) issueBackupCodes(ctx context.Context, tx store.Tx, ownerID string) ([]string, error) {
	pol, err := s.Engine.policy(domain.PurposeMFABackup)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Credentials().RevokeCredentialsForOwner(ctx, ownerID, domain.PurposeMFABackup, s.Engine.now()); err != nil {
		return nil, fmt.Errorf("failed to revoke old backup codes: %w", err)
	}

	codes := make([]string, backupCodeCount)
	for i := range backupCodeCount {
		raw, _, err := s.Engine.Codec.NewOpaque(pol.SecretBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to generate backup code: %w", err)
		}
		if _, err := s.Engine.createWithSecret(ctx, tx.Credentials(), ownerID, domain.PurposeMFABackup, raw); err != nil {
			return nil, err
		}
		codes[i] = raw
	}
	return codes, nil
}

func (s *AuthenticatorService) validate(secret, code string) bool {
	ok, err := totp.ValidateCustom(code, secret, s.Engine.now(), totpOpts)
	return err == nil && ok
}

func (s *AuthenticatorService) invalidate(ctx context.Context, ownerID string) {
	if s.Directory == nil {
		return
	}
	if err := s.Directory.Invalidate(ctx, ownerID); err != nil {
		slogx.FromContext(ctx).Warn("failed to invalidate principal", "owner_id", ownerID, "error", err)
	}
}

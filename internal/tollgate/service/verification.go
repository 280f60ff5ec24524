package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/delivery"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// VerificationService proves ownership of an email address with a link.
type VerificationService struct {
	Engine          *CredentialEngine
	Directory       PrincipalDirectory
	Sender          delivery.Sender
	FrontendBaseURL string
}

// Request mails a fresh verification link, superseding any earlier one.
func (s *VerificationService) Request(ctx context.Context, ownerID string) error {
	p, err := s.Directory.Lookup(ctx, ownerID)
	if err != nil {
		return err
	}
	if p.Email == "" {
		return fmt.Errorf("principal %s has no email address", ownerID)
	}

	raw, rec, err := s.Engine.Replace(ctx, ownerID, domain.PurposeEmailVerify, 0)
	if err != nil {
		return err
	}

	slogx.FromContext(ctx).Info("email verification requested", "owner_id", ownerID, "credential_id", rec.ID)

	if s.Sender == nil {
		return nil
	}
	body := fmt.Sprintf("Verify your email by opening %s (valid %d minutes)",
		s.link(raw), int(rec.ExpiresAt.Sub(rec.CreatedAt).Minutes()))
	if err := s.Sender.SendMessage(ctx, p.Email, "Verify your email", body); err != nil {
		slogx.FromContext(ctx).Warn("failed to deliver verification link", "owner_id", ownerID, "error", err)
	}
	return nil
}

// Confirm consumes the secret from the link and marks the address verified.
// A superseded link reads as unknown.
func (s *VerificationService) Confirm(ctx context.Context, secret string) (string, error) {
	rec, err := s.Engine.GetBySecret(ctx, secret)
	if errors.Is(err, ErrNotFound) {
		return "", ErrInvalidSecret
	}
	if err != nil {
		return "", err
	}
	if rec.Purpose != domain.PurposeEmailVerify {
		return "", ErrInvalidSecret
	}

	err = stateError(rec, s.Engine.now())
	if err == nil {
		err = s.Engine.ConsumeWith(ctx, rec.ID, func(ctx context.Context, tx store.Tx) error {
			verified := true
			upd := domain.PrincipalUpdate{EmailVerified: &verified, MFAEnrolled: &verified}
			return tx.Principals().UpdatePrincipal(ctx, rec.OwnerID, upd, s.Engine.now())
		})
	}
	if errors.Is(err, ErrRevoked) {
		err = ErrInvalidSecret
	}
	if err != nil {
		s.Engine.Metrics.Rejected(ctx, domain.PurposeEmailVerify, reason(err))
		return "", err
	}

	if err := s.Directory.Invalidate(ctx, rec.OwnerID); err != nil {
		slogx.FromContext(ctx).Warn("failed to invalidate principal", "owner_id", rec.OwnerID, "error", err)
	}

	s.Engine.Metrics.Verified(ctx, domain.PurposeEmailVerify)
	slogx.FromContext(ctx).Info("email verified", "owner_id", rec.OwnerID)
	return rec.OwnerID, nil
}

func (s *VerificationService) link(raw string) string {
	return strings.TrimRight(s.FrontendBaseURL, "/") + "/verify?token=" + url.QueryEscape(raw)
}

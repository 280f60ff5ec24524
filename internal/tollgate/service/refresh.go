package service

import (
	"context"
	"errors"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

const DefaultMaxActiveRefresh = 5

// RefreshService manages opaque, store-backed refresh tokens. An owner holds
// at most MaxActive live tokens; issuing past the cap revokes the least
// recently used ones.
type RefreshService struct {
	Engine      *CredentialEngine
	MaxActive   int
	RotateOnUse bool
}

func (s *RefreshService) maxActive() int {
	if s.MaxActive <= 0 {
		return DefaultMaxActiveRefresh
	}
	return s.MaxActive
}

// Issue creates a refresh token for owner and enforces the cap in the same
// transaction.
func (s *RefreshService) Issue(ctx context.Context, ownerID string) (string, domain.CredentialRecord, error) {
	unlock := s.Engine.lockOwner(ownerID)
	defer unlock()

	ctx, cancel := s.Engine.withTimeout(ctx)
	defer cancel()

	var (
		raw     string
		rec     domain.CredentialRecord
		evicted int64
	)
	err := s.Engine.Store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		raw, rec, err = s.Engine.createIn(ctx, tx.Credentials(), ownerID, domain.PurposeRefresh, 0)
		if err != nil {
			return err
		}

		evicted, err = tx.Credentials().EvictExcessCredentials(ctx, ownerID, domain.PurposeRefresh, s.maxActive(), s.Engine.now())
		return err
	})
	if err != nil {
		return "", domain.CredentialRecord{}, unavailable("issue refresh token", err)
	}

	s.evicted(ctx, ownerID, evicted)
	return raw, rec, nil
}

// Validate resolves a presented refresh token and stamps its last use. It
// does not consume the token.
func (s *RefreshService) Validate(ctx context.Context, secret string) (domain.CredentialRecord, error) {
	rec, err := s.lookup(ctx, secret)
	if err != nil {
		s.Engine.Metrics.Rejected(ctx, domain.PurposeRefresh, reason(err))
		return domain.CredentialRecord{}, err
	}

	if err := s.Engine.Touch(ctx, rec.ID); err != nil {
		err = refreshStateError(err)
		s.Engine.Metrics.Rejected(ctx, domain.PurposeRefresh, reason(err))
		return domain.CredentialRecord{}, err
	}

	now := s.Engine.now()
	rec.LastUsedAt = &now
	s.Engine.Metrics.Verified(ctx, domain.PurposeRefresh)
	return rec, nil
}

// Rotate revokes oldID and issues a replacement for the same owner. Expired
// or revoked tokens are refused, and only one of several concurrent rotations
// of the same token succeeds.
func (s *RefreshService) Rotate(ctx context.Context, oldID string) (string, domain.CredentialRecord, error) {
	old, err := s.Engine.Get(ctx, oldID)
	if errors.Is(err, ErrNotFound) {
		return "", domain.CredentialRecord{}, ErrInvalidSecret
	}
	if err != nil {
		return "", domain.CredentialRecord{}, err
	}
	if old.Purpose != domain.PurposeRefresh {
		return "", domain.CredentialRecord{}, ErrInvalidSecret
	}
	if err := stateError(old, s.Engine.now()); err != nil {
		err = refreshStateError(err)
		s.Engine.Metrics.Rejected(ctx, domain.PurposeRefresh, reason(err))
		return "", domain.CredentialRecord{}, err
	}

	unlock := s.Engine.lockOwner(old.OwnerID)
	defer unlock()

	ctx, cancel := s.Engine.withTimeout(ctx)
	defer cancel()

	var (
		raw     string
		rec     domain.CredentialRecord
		evicted int64
	)
	err = s.Engine.Store.WithTx(ctx, func(tx store.Tx) error {
		now := s.Engine.now()

		// Expiry is judged at the same instant the revoke runs, so a token
		// that lapses mid-rotation never yields a successor.
		cur, err := tx.Credentials().GetCredentialByID(ctx, oldID)
		if err != nil {
			return err
		}
		if err := stateError(cur, now); err != nil {
			return refreshStateError(err)
		}

		n, err := tx.Credentials().RevokeCredential(ctx, oldID, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrRevoked
		}

		raw, rec, err = s.Engine.createIn(ctx, tx.Credentials(), old.OwnerID, domain.PurposeRefresh, 0)
		if err != nil {
			return err
		}

		evicted, err = tx.Credentials().EvictExcessCredentials(ctx, old.OwnerID, domain.PurposeRefresh, s.maxActive(), now)
		return err
	})
	if err != nil {
		return "", domain.CredentialRecord{}, unavailable("rotate refresh token", err)
	}

	slogx.FromContext(ctx).Info("refresh token rotated", "owner_id", old.OwnerID, "old_id", oldID, "new_id", rec.ID)
	s.evicted(ctx, old.OwnerID, evicted)
	return raw, rec, nil
}

// Revoke revokes a single token by its raw value. Unknown tokens are not an
// error so logout stays idempotent.
func (s *RefreshService) Revoke(ctx context.Context, secret string) error {
	rec, err := s.Engine.GetBySecret(ctx, secret)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if rec.Purpose != domain.PurposeRefresh {
		return nil
	}

	_, err = s.Engine.Revoke(ctx, rec.ID)
	return err
}

// RevokeAll logs the owner out everywhere.
func (s *RefreshService) RevokeAll(ctx context.Context, ownerID string) (int64, error) {
	n, err := s.Engine.RevokeAllForOwner(ctx, ownerID, domain.PurposeRefresh)
	if err != nil {
		return 0, err
	}

	slogx.FromContext(ctx).Info("refresh tokens revoked", "owner_id", ownerID, "count", n)
	return n, nil
}

func (s *RefreshService) lookup(ctx context.Context, secret string) (domain.CredentialRecord, error) {
	rec, err := s.Engine.GetBySecret(ctx, secret)
	if errors.Is(err, ErrNotFound) {
		return domain.CredentialRecord{}, ErrInvalidSecret
	}
	if err != nil {
		return domain.CredentialRecord{}, err
	}
	if rec.Purpose != domain.PurposeRefresh {
		return domain.CredentialRecord{}, ErrInvalidSecret
	}

	if err := stateError(rec, s.Engine.now()); err != nil {
		return domain.CredentialRecord{}, refreshStateError(err)
	}
	return rec, nil
}

func (s *RefreshService) evicted(ctx context.Context, ownerID string, n int64) {
	if n == 0 {
		return
	}
	slogx.FromContext(ctx).Info("refresh tokens evicted",
		"owner_id", ownerID,
		"count", n,
		"reason", ErrCapExceeded.Error(),
	)
	s.Engine.Metrics.Evicted(ctx, n)
}

// refreshStateError folds CONSUMED into revoked. Refresh tokens are never
// consumed directly, only rotated away.
func refreshStateError(err error) error {
	if errors.Is(err, ErrAlreadyUsed) {
		return ErrRevoked
	}
	return err
}

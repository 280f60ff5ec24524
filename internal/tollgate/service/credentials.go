package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/metrics"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/clockx"
	"github.com/aussiebroadwan/tollgate/pkg/idx"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

const (
	// DefaultStoreTimeout bounds every store round trip made by a service.
	DefaultStoreTimeout = 3 * time.Second

	ownerLockStripes = 64
)

// CredentialEngine is the shared lifecycle for every credential purpose. It
// owns the clock, id generation and the mapping from store outcomes to
// domain errors. Persisted state is always authoritative.
type CredentialEngine struct {
	Store        store.Store
	Clock        clockx.Clock
	IDs          *idx.Generator
	Codec        SecretCodec
	Policies     domain.Policies
	StoreTimeout time.Duration
	Metrics      *metrics.Metrics

	ownerLocks [ownerLockStripes]sync.Mutex
}

// NewCredentialEngine fills in defaults for anything left zero.
func NewCredentialEngine(st store.Store, clock clockx.Clock, codec SecretCodec, policies domain.Policies) *CredentialEngine {
	if clock == nil {
		clock = clockx.System()
	}
	if policies == nil {
		policies = domain.DefaultPolicies()
	}
	return &CredentialEngine{
		Store:        st,
		Clock:        clock,
		IDs:          idx.NewGenerator(clock),
		Codec:        codec,
		Policies:     policies,
		StoreTimeout: DefaultStoreTimeout,
	}
}

func (e *CredentialEngine) now() time.Time { return e.Clock.Now().UTC() }

func (e *CredentialEngine) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := e.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

func (e *CredentialEngine) policy(purpose domain.Purpose) (domain.Policy, error) {
	return e.Policies.For(purpose)
}

// lockOwner serialises cap-sensitive work for one owner inside this process.
func (e *CredentialEngine) lockOwner(ownerID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(ownerID))
	mu := &e.ownerLocks[h.Sum32()%ownerLockStripes]
	mu.Lock()
	return mu.Unlock
}

// Create persists a new ACTIVE record and returns the raw secret exactly
// once. A ttl of zero or less uses the purpose default.
func (e *CredentialEngine) Create(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
	ttl time.Duration,
) (string, domain.CredentialRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	return e.createIn(ctx, e.Store.Credentials(), ownerID, purpose, ttl)
}

// Replace revokes the owner's live records of purpose and creates a fresh
// one in the same transaction, so only one secret is ever live.
func (e *CredentialEngine) Replace(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
	ttl time.Duration,
) (string, domain.CredentialRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var (
		raw string
		rec domain.CredentialRecord
	)
	err := e.Store.WithTx(ctx, func(tx store.Tx) error {
		if _, err := tx.Credentials().RevokeCredentialsForOwner(ctx, ownerID, purpose, e.now()); err != nil {
			return unavailable("revoke previous credentials", err)
		}

		var err error
		raw, rec, err = e.createIn(ctx, tx.Credentials(), ownerID, purpose, ttl)
		return err
	})
	if err != nil {
		return "", domain.CredentialRecord{}, unavailable("replace credential", err)
	}
	return raw, rec, nil
}

// ReplaceOutsideCooldown is Replace guarded by a resend cooldown. When the
// owner's latest live record is younger than cooldown it is returned
// unchanged with ErrCooldownActive. The check and the replace share the
// owner lock and one transaction, so concurrent callers issue at most one
// record per window.
func (e *CredentialEngine) ReplaceOutsideCooldown(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
	cooldown time.Duration,
) (string, domain.CredentialRecord, error) {
	unlock := e.lockOwner(ownerID)
	defer unlock()

	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	var (
		raw string
		rec domain.CredentialRecord
	)
	err := e.Store.WithTx(ctx, func(tx store.Tx) error {
		now := e.now()

		if cooldown > 0 {
			latest, err := tx.Credentials().GetLatestActiveCredential(ctx, ownerID, purpose, now)
			switch {
			case err == nil && now.Sub(latest.CreatedAt) < cooldown:
				rec = latest
				return ErrCooldownActive
			case err != nil && !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		if _, err := tx.Credentials().RevokeCredentialsForOwner(ctx, ownerID, purpose, now); err != nil {
			return err
		}

		var err error
		raw, rec, err = e.createIn(ctx, tx.Credentials(), ownerID, purpose, 0)
		return err
	})
	if errors.Is(err, ErrCooldownActive) {
		return "", rec, ErrCooldownActive
	}
	if err != nil {
		return "", domain.CredentialRecord{}, unavailable("replace credential", err)
	}
	return raw, rec, nil
}

func (e *CredentialEngine) createIn(
	ctx context.Context,
	creds store.Credentials,
	ownerID string,
	purpose domain.Purpose,
	ttl time.Duration,
) (string, domain.CredentialRecord, error) {
	pol, err := e.policy(purpose)
	if err != nil {
		return "", domain.CredentialRecord{}, err
	}
	if ttl <= 0 {
		ttl = pol.TTL
	}

	now := e.now()
	rec := domain.CredentialRecord{
		ID:        e.IDs.New().String(),
		OwnerID:   ownerID,
		Purpose:   purpose,
		State:     domain.StateActive,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
		UpdatedAt: now,
	}

	raw, digest, err := e.Codec.NewSecret(rec.ID, pol)
	if err != nil {
		// Entropy failure is not recoverable by retrying the request
		return "", domain.CredentialRecord{}, fmt.Errorf("failed to generate secret: %w", err)
	}
	rec.SecretDigest = digest

	if err := creds.CreateCredential(ctx, rec); err != nil {
		return "", domain.CredentialRecord{}, unavailable("create credential", err)
	}

	e.Metrics.Issued(ctx, purpose)
	return raw, rec, nil
}

// createWithSecret stores a caller-generated opaque secret.
func (e *CredentialEngine) createWithSecret(
	ctx context.Context,
	creds store.Credentials,
	ownerID string,
	purpose domain.Purpose,
	raw string,
) (domain.CredentialRecord, error) {
	pol, err := e.policy(purpose)
	if err != nil {
		return domain.CredentialRecord{}, err
	}

	now := e.now()
	rec := domain.CredentialRecord{
		ID:           e.IDs.New().String(),
		OwnerID:      ownerID,
		Purpose:      purpose,
		SecretDigest: e.Codec.DigestOpaque(raw),
		State:        domain.StateActive,
		CreatedAt:    now,
		ExpiresAt:    now.Add(pol.TTL),
		UpdatedAt:    now,
	}
	if err := creds.CreateCredential(ctx, rec); err != nil {
		return domain.CredentialRecord{}, unavailable("create credential", err)
	}

	e.Metrics.Issued(ctx, purpose)
	return rec, nil
}

// Get returns a record by id, or ErrNotFound.
func (e *CredentialEngine) Get(ctx context.Context, id string) (domain.CredentialRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	rec, err := e.Store.Credentials().GetCredentialByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return domain.CredentialRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.CredentialRecord{}, unavailable("get credential", err)
	}
	return rec, nil
}

// GetBySecret digests an opaque secret and looks it up, or ErrNotFound.
func (e *CredentialEngine) GetBySecret(ctx context.Context, raw string) (domain.CredentialRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	rec, err := e.Store.Credentials().GetCredentialByDigest(ctx, e.Codec.DigestOpaque(raw))
	if errors.Is(err, store.ErrNotFound) {
		return domain.CredentialRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.CredentialRecord{}, unavailable("get credential by digest", err)
	}
	return rec, nil
}

// FindActiveForOwnerAndPurpose returns the newest live record, or ErrNotFound.
func (e *CredentialEngine) FindActiveForOwnerAndPurpose(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
) (domain.CredentialRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	rec, err := e.Store.Credentials().GetLatestActiveCredential(ctx, ownerID, purpose, e.now())
	if errors.Is(err, store.ErrNotFound) {
		return domain.CredentialRecord{}, ErrNotFound
	}
	if err != nil {
		return domain.CredentialRecord{}, unavailable("find active credential", err)
	}
	return rec, nil
}

// ListActive returns live records, most recently used first.
func (e *CredentialEngine) ListActive(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
) ([]domain.CredentialRecord, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	recs, err := e.Store.Credentials().ListActiveCredentials(ctx, ownerID, purpose, e.now())
	if err != nil {
		return nil, unavailable("list active credentials", err)
	}
	return recs, nil
}

// Consume moves an ACTIVE record to CONSUMED. Exactly one concurrent caller
// succeeds; the rest learn why from the record's current state.
func (e *CredentialEngine) Consume(ctx context.Context, id string) error {
	return e.ConsumeWith(ctx, id, nil)
}

// ConsumeWith consumes the record and runs then in the same transaction.
// A nil then uses a single conditional statement.
func (e *CredentialEngine) ConsumeWith(ctx context.Context, id string, then func(ctx context.Context, tx store.Tx) error) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	now := e.now()
	var err error
	if then == nil {
		err = e.Store.Credentials().ConsumeCredential(ctx, id, now)
	} else {
		err = e.Store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.Credentials().ConsumeCredential(ctx, id, now); err != nil {
				return err
			}
			return then(ctx, tx)
		})
	}

	if errors.Is(err, store.ErrConflict) {
		return e.explain(ctx, id, now)
	}
	return unavailable("consume credential", err)
}

// RecordAttempt increments the failed attempt counter and returns the new
// count. A record that left ACTIVE reports why instead.
func (e *CredentialEngine) RecordAttempt(ctx context.Context, id string) (int, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	n, err := e.Store.Credentials().IncrementAttempts(ctx, id)
	if errors.Is(err, store.ErrConflict) {
		return 0, e.explain(ctx, id, e.now())
	}
	if err != nil {
		return 0, unavailable("record attempt", err)
	}
	return n, nil
}

// Touch stamps LastUsedAt on a live record.
func (e *CredentialEngine) Touch(ctx context.Context, id string) error {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	now := e.now()
	err := e.Store.Credentials().TouchCredential(ctx, id, now)
	if errors.Is(err, store.ErrConflict) {
		return e.explain(ctx, id, now)
	}
	return unavailable("touch credential", err)
}

// Revoke returns 1 when the record was live and is now REVOKED, else 0.
func (e *CredentialEngine) Revoke(ctx context.Context, id string) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	n, err := e.Store.Credentials().RevokeCredential(ctx, id, e.now())
	if err != nil {
		return 0, unavailable("revoke credential", err)
	}
	return n, nil
}

// RevokeAllForOwner revokes every live record of purpose, or of every
// purpose when purpose is empty.
func (e *CredentialEngine) RevokeAllForOwner(ctx context.Context, ownerID string, purpose domain.Purpose) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	n, err := e.Store.Credentials().RevokeCredentialsForOwner(ctx, ownerID, purpose, e.now())
	if err != nil {
		return 0, unavailable("revoke owner credentials", err)
	}
	return n, nil
}

// VerifyCode runs the attempt-counted check shared by every bounded-use
// secret: state, lockout, count, compare, consume. then, if set, runs in the
// consuming transaction.
func (e *CredentialEngine) VerifyCode(
	ctx context.Context,
	rec domain.CredentialRecord,
	match func(ctx context.Context) (bool, error),
	then func(ctx context.Context, tx store.Tx) error,
) error {
	err := e.verifyCode(ctx, rec, match, then)
	if err != nil {
		if IsDomainError(err) && !errors.Is(err, ErrStoreUnavailable) {
			e.Metrics.Rejected(ctx, rec.Purpose, reason(err))
		}
		return err
	}

	e.Metrics.Verified(ctx, rec.Purpose)
	return nil
}

func (e *CredentialEngine) verifyCode(
	ctx context.Context,
	rec domain.CredentialRecord,
	match func(ctx context.Context) (bool, error),
	then func(ctx context.Context, tx store.Tx) error,
) error {
	l := slogx.FromContext(ctx)

	pol, err := e.policy(rec.Purpose)
	if err != nil {
		return err
	}

	// 1. Terminal states first
	if err := stateError(rec, e.now()); err != nil {
		return err
	}

	// 2. Lockout
	if rec.LockedOut(pol.MaxAttempts) {
		return ErrTooManyAttempts
	}

	// 3. Count the attempt before comparing, so a crash between the two
	// cannot hand out a free guess
	if pol.MaxAttempts > 0 {
		n, err := e.RecordAttempt(ctx, rec.ID)
		if err != nil {
			return err
		}
		if n > pol.MaxAttempts {
			return ErrTooManyAttempts
		}
	}

	// 4. Compare
	ok, err := match(ctx)
	if err != nil {
		return err
	}
	if !ok {
		l.Info("credential secret mismatch", "credential_id", rec.ID, "purpose", rec.Purpose)
		return ErrInvalidSecret
	}

	// 5. Consume; losing a race reports the winner's outcome
	return e.ConsumeWith(ctx, rec.ID, then)
}

// explain rereads a record after a conditional update matched nothing.
func (e *CredentialEngine) explain(ctx context.Context, id string, now time.Time) error {
	rec, err := e.Store.Credentials().GetCredentialByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return unavailable("reread credential", err)
	}

	if err := stateError(rec, now); err != nil {
		return err
	}
	// Still ACTIVE means another writer got there between our two reads
	return ErrAlreadyUsed
}

// stateError maps a record that cannot be used to its domain error.
func stateError(rec domain.CredentialRecord, now time.Time) error {
	switch rec.Status(now) {
	case domain.StateActive:
		return nil
	case domain.StateExpired:
		return ErrExpired
	case domain.StateRevoked:
		return ErrRevoked
	default:
		return ErrAlreadyUsed
	}
}

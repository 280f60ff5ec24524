package service

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/cache"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/aussiebroadwan/tollgate/pkg/slogx"
)

// PrincipalDirectory resolves an owner id to its profile. Implementations
// may omit PasswordHash and TOTPSecret; flows that need them read the store.
type PrincipalDirectory interface {
	Lookup(ctx context.Context, ownerID string) (domain.Principal, error)
	Invalidate(ctx context.Context, ownerID string) error
}

// StoreDirectory reads principals straight from the store.
type StoreDirectory struct {
	Store        store.Store
	StoreTimeout time.Duration
}

func (d *StoreDirectory) Lookup(ctx context.Context, ownerID string) (domain.Principal, error) {
	timeout := d.StoreTimeout
	if timeout <= 0 {
		timeout = DefaultStoreTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	p, err := d.Store.Principals().GetPrincipalByID(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Principal{}, ErrNotFound
	}
	if err != nil {
		return domain.Principal{}, unavailable("lookup principal", err)
	}
	return p, nil
}

func (d *StoreDirectory) Invalidate(context.Context, string) error { return nil }

// CachedDirectory puts a cache in front of another directory. Secret
// material is stripped before a principal enters the cache.
type CachedDirectory struct {
	Next  PrincipalDirectory
	Cache cache.Cache[domain.Principal]
}

func (d *CachedDirectory) Lookup(ctx context.Context, ownerID string) (domain.Principal, error) {
	return d.Cache.GetOrLoad(ctx, ownerID, func(ctx context.Context) (domain.Principal, error) {
		p, err := d.Next.Lookup(ctx, ownerID)
		if err != nil {
			return domain.Principal{}, err
		}
		p.PasswordHash = ""
		p.TOTPSecret = ""
		return p, nil
	})
}

// Invalidate drops the cached entry. A cache outage is logged and ignored
// because entries expire on their own.
func (d *CachedDirectory) Invalidate(ctx context.Context, ownerID string) error {
	if err := d.Cache.Delete(ctx, ownerID); err != nil {
		slogx.FromContext(ctx).Warn("failed to invalidate principal cache", "owner_id", ownerID, "error", err)
	}
	return d.Next.Invalidate(ctx, ownerID)
}

// principalIn reads the full principal, secrets included, through st. Pass
// the transaction when called inside one.
func principalIn(ctx context.Context, st store.Store, ownerID string) (domain.Principal, error) {
	p, err := st.Principals().GetPrincipalByID(ctx, ownerID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Principal{}, ErrNotFound
	}
	if err != nil {
		return domain.Principal{}, unavailable("load principal", err)
	}
	return p, nil
}

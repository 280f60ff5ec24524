package store

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
)

var (
	ErrNotFound      = errors.New("store: not found")
	ErrAlreadyExists = errors.New("store: already exists")

	// ErrConflict is returned when a conditional update matched no row,
	// usually because another request moved the record first.
	ErrConflict = errors.New("store: conditional update lost")
)

// Store is the root data access interface. Concrete drivers (sqlite, postgres)
// implement this. Sub-repositories hang off it so a Tx can expose the same
// surface without allowing nested transactions.
type Store interface {
	Credentials() Credentials
	Principals() Principals

	ApplyMigrations() error

	// Tx starts a read/write transaction and returns a Tx-scoped Store.
	// The caller MUST call Commit() or Rollback() on the returned Tx.
	Tx(ctx context.Context) (Tx, error)

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise it is committed.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Close() error

	// Ping verifies the database connection is still alive.
	Ping(ctx context.Context) error
}

// Tx is a transactional store. It embeds the same repos but adds Commit/Rollback.
type Tx interface {
	Store
	Commit() error
	Rollback() error
}

// Credentials persists ephemeral credential records. Every state change is a
// single conditional statement so concurrent callers cannot both win.
type Credentials interface {
	// CreateCredential inserts an ACTIVE record. A digest collision returns
	// ErrAlreadyExists.
	CreateCredential(ctx context.Context, rec domain.CredentialRecord) error

	GetCredentialByID(ctx context.Context, id string) (domain.CredentialRecord, error)
	GetCredentialByDigest(ctx context.Context, digest string) (domain.CredentialRecord, error)

	// GetLatestActiveCredential returns the newest ACTIVE record that has not
	// expired at now.
	GetLatestActiveCredential(ctx context.Context, ownerID string, purpose domain.Purpose, now time.Time) (domain.CredentialRecord, error)

	// ListActiveCredentials returns ACTIVE unexpired records, most recently
	// used first.
	ListActiveCredentials(ctx context.Context, ownerID string, purpose domain.Purpose, now time.Time) ([]domain.CredentialRecord, error)

	// IncrementAttempts bumps the counter of an ACTIVE record and returns the
	// new value, or ErrConflict when the record is no longer ACTIVE.
	IncrementAttempts(ctx context.Context, id string) (int, error)

	// ConsumeCredential moves an ACTIVE, unexpired record to CONSUMED.
	// ErrConflict means nothing matched.
	ConsumeCredential(ctx context.Context, id string, now time.Time) error

	// TouchCredential stamps last_used_at on an ACTIVE record.
	TouchCredential(ctx context.Context, id string, now time.Time) error

	// RevokeCredential returns the number of records revoked (0 or 1).
	RevokeCredential(ctx context.Context, id string, now time.Time) (int64, error)

	// RevokeCredentialsForOwner revokes every ACTIVE record of the owner for
	// purpose, or for all purposes when purpose is empty.
	RevokeCredentialsForOwner(ctx context.Context, ownerID string, purpose domain.Purpose, now time.Time) (int64, error)

	// EvictExcessCredentials revokes every ACTIVE record beyond the keep most
	// recently used ones.
	EvictExcessCredentials(ctx context.Context, ownerID string, purpose domain.Purpose, keep int, now time.Time) (int64, error)

	// DeleteTerminalCredentials removes CONSUMED or REVOKED records last
	// updated at or before cutoff, and anything that expired before cutoff.
	DeleteTerminalCredentials(ctx context.Context, cutoff time.Time) (int64, error)
}

type Principals interface {
	GetPrincipalByID(ctx context.Context, id string) (domain.Principal, error)

	// GetPrincipalByLogin matches either username or email.
	GetPrincipalByLogin(ctx context.Context, login string) (domain.Principal, error)

	CreatePrincipal(ctx context.Context, p domain.Principal) error

	// UpdatePrincipal writes the set fields of upd and bumps updated_at.
	UpdatePrincipal(ctx context.Context, id string, upd domain.PrincipalUpdate, now time.Time) error
}

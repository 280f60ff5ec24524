package postgres

import (
	"context"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/jackc/pgx/v5"
)

type txStore struct {
	tx pgx.Tx

	// ctx is the context the transaction was opened with; pgx wants one for
	// commit and rollback while store.Tx does not take one.
	ctx context.Context
}

func newTx(ctx context.Context, tx pgx.Tx) *txStore {
	return &txStore{tx: tx, ctx: context.WithoutCancel(ctx)}
}

func (t *txStore) Commit() error   { return t.tx.Commit(t.ctx) }
func (t *txStore) Rollback() error { return t.tx.Rollback(t.ctx) }

func (t *txStore) Close() error                   { return nil }
func (t *txStore) Ping(ctx context.Context) error { return nil }

func (t *txStore) Tx(ctx context.Context) (store.Tx, error) {
	return nil, pgx.ErrTxClosed
}

func (t *txStore) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return pgx.ErrTxClosed
}

func (t *txStore) Credentials() store.Credentials { return &credentialsRepo{q: t.tx} }
func (t *txStore) Principals() store.Principals   { return &principalsRepo{q: t.tx} }

func (t *txStore) ApplyMigrations() error { return nil }

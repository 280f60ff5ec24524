package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/jackc/pgx/v5"
)

const credentialColumns = `id, owner_id, purpose, secret_digest, attempts, state, created_at, expires_at, last_used_at, updated_at`

type credentialsRepo struct {
	q querier
}

func scanCredential(row pgx.Row) (domain.CredentialRecord, error) {
	var (
		rec            domain.CredentialRecord
		purpose, state string
	)
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &purpose, &rec.SecretDigest, &rec.Attempts, &state,
		&rec.CreatedAt, &rec.ExpiresAt, &rec.LastUsedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return domain.CredentialRecord{}, err
	}

	rec.Purpose = domain.Purpose(purpose)
	rec.State = domain.State(state)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	rec.LastUsedAt = utcPtr(rec.LastUsedAt)
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (r *credentialsRepo) CreateCredential(ctx context.Context, rec domain.CredentialRecord) error {
	state := rec.State
	if state == "" {
		state = domain.StateActive
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = rec.CreatedAt
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		rec.ID, rec.OwnerID, string(rec.Purpose), rec.SecretDigest, rec.Attempts, string(state),
		rec.CreatedAt, rec.ExpiresAt, rec.LastUsedAt, updatedAt,
	)
	return mapConstraint(err)
}

func (r *credentialsRepo) GetCredentialByID(ctx context.Context, id string) (domain.CredentialRecord, error) {
	rec, err := scanCredential(r.q.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = $1`, id))
	if err != nil {
		return domain.CredentialRecord{}, mapNotFound(err)
	}
	return rec, nil
}

func (r *credentialsRepo) GetCredentialByDigest(ctx context.Context, digest string) (domain.CredentialRecord, error) {
	rec, err := scanCredential(r.q.QueryRow(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE secret_digest = $1`, digest))
	if err != nil {
		return domain.CredentialRecord{}, mapNotFound(err)
	}
	return rec, nil
}

func (r *credentialsRepo) GetLatestActiveCredential(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
	now time.Time,
) (domain.CredentialRecord, error) {
	rec, err := scanCredential(r.q.QueryRow(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE owner_id = $1 AND purpose = $2 AND state = 'ACTIVE' AND expires_at >= $3
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		ownerID, string(purpose), now,
	))
	if err != nil {
		return domain.CredentialRecord{}, mapNotFound(err)
	}
	return rec, nil
}

func (r *credentialsRepo) ListActiveCredentials(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
	now time.Time,
) ([]domain.CredentialRecord, error) {
	rows, err := r.q.Query(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE owner_id = $1 AND purpose = $2 AND state = 'ACTIVE' AND expires_at >= $3
		ORDER BY coalesce(last_used_at, created_at) DESC, id DESC`,
		ownerID, string(purpose), now,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CredentialRecord
	for rows.Next() {
		rec, err := scanCredential(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *credentialsRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.q.QueryRow(ctx, `
		UPDATE credentials SET attempts = attempts + 1
		WHERE id = $1 AND state = 'ACTIVE'
		RETURNING attempts`,
		id,
	).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrConflict
	}
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *credentialsRepo) ConsumeCredential(ctx context.Context, id string, now time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE credentials SET state = 'CONSUMED', updated_at = $1
		WHERE id = $2 AND state = 'ACTIVE' AND expires_at >= $1`,
		now, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *credentialsRepo) TouchCredential(ctx context.Context, id string, now time.Time) error {
	tag, err := r.q.Exec(ctx, `
		UPDATE credentials SET last_used_at = $1
		WHERE id = $2 AND state = 'ACTIVE'`,
		now, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *credentialsRepo) RevokeCredential(ctx context.Context, id string, now time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE credentials SET state = 'REVOKED', updated_at = $1
		WHERE id = $2 AND state = 'ACTIVE'`,
		now, id,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *credentialsRepo) RevokeCredentialsForOwner(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
	now time.Time,
) (int64, error) {
	// An empty purpose matches every purpose
	tag, err := r.q.Exec(ctx, `
		UPDATE credentials SET state = 'REVOKED', updated_at = $1
		WHERE owner_id = $2 AND ($3 = '' OR purpose = $3) AND state = 'ACTIVE'`,
		now, ownerID, string(purpose),
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *credentialsRepo) EvictExcessCredentials(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
	keep int,
	now time.Time,
) (int64, error) {
	if keep < 0 {
		keep = 0
	}

	// Serialise eviction per owner across processes. The lock is released
	// when the surrounding transaction ends.
	if _, err := r.q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ownerID); err != nil {
		return 0, err
	}

	tag, err := r.q.Exec(ctx, `
		UPDATE credentials SET state = 'REVOKED', updated_at = $1
		WHERE id IN (
			SELECT id FROM credentials
			WHERE owner_id = $2 AND purpose = $3 AND state = 'ACTIVE' AND expires_at >= $1
			ORDER BY coalesce(last_used_at, created_at) DESC, id DESC
			OFFSET $4
		)`,
		now, ownerID, string(purpose), keep,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *credentialsRepo) DeleteTerminalCredentials(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		DELETE FROM credentials
		WHERE (state IN ('CONSUMED', 'REVOKED') AND updated_at <= $1)
		   OR expires_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

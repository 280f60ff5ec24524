package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
)

const credentialColumns = `id, owner_id, purpose, secret_digest, attempts, state, created_at, expires_at, last_used_at, updated_at`

type credentialsRepo struct {
	q querier
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (domain.CredentialRecord, error) {
	var (
		rec                             domain.CredentialRecord
		purpose, state                  string
		createdAt, expiresAt, updatedAt int64
		lastUsedAt                      sql.NullInt64
	)
	err := row.Scan(
		&rec.ID, &rec.OwnerID, &purpose, &rec.SecretDigest, &rec.Attempts, &state,
		&createdAt, &expiresAt, &lastUsedAt, &updatedAt,
	)
	if err != nil {
		return domain.CredentialRecord{}, err
	}

	rec.Purpose = domain.Purpose(purpose)
	rec.State = domain.State(state)
	rec.CreatedAt = fromUnix(createdAt)
	rec.ExpiresAt = fromUnix(expiresAt)
	rec.LastUsedAt = mapNullUnixPtr(lastUsedAt)
	rec.UpdatedAt = fromUnix(updatedAt)
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

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO credentials (`+credentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, string(rec.Purpose), rec.SecretDigest, rec.Attempts, string(state),
		toUnix(rec.CreatedAt), toUnix(rec.ExpiresAt), mapOptionalUnix(rec.LastUsedAt), toUnix(updatedAt),
	)
	return mapConstraint(err)
}

func (r *credentialsRepo) GetCredentialByID(ctx context.Context, id string) (domain.CredentialRecord, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE id = ?`, id)
	rec, err := scanCredential(row)
	if err != nil {
		return domain.CredentialRecord{}, mapNotFound(err)
	}
	return rec, nil
}

func (r *credentialsRepo) GetCredentialByDigest(ctx context.Context, digest string) (domain.CredentialRecord, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credentials WHERE secret_digest = ?`, digest)
	rec, err := scanCredential(row)
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
	row := r.q.QueryRowContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE owner_id = ? AND purpose = ? AND state = 'ACTIVE' AND expires_at >= ?
		ORDER BY created_at DESC, id DESC
		LIMIT 1`,
		ownerID, string(purpose), toUnix(now),
	)
	rec, err := scanCredential(row)
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
	rows, err := r.q.QueryContext(ctx, `
		SELECT `+credentialColumns+` FROM credentials
		WHERE owner_id = ? AND purpose = ? AND state = 'ACTIVE' AND expires_at >= ?
		ORDER BY coalesce(last_used_at, created_at) DESC, id DESC`,
		ownerID, string(purpose), toUnix(now),
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
	err := r.q.QueryRowContext(ctx, `
		UPDATE credentials SET attempts = attempts + 1
		WHERE id = ? AND state = 'ACTIVE'
		RETURNING attempts`,
		id,
	).Scan(&attempts)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrConflict
	}
	if err != nil {
		return 0, err
	}
	return attempts, nil
}

func (r *credentialsRepo) ConsumeCredential(ctx context.Context, id string, now time.Time) error {
	n, err := rowsAffected(r.q.ExecContext(ctx, `
		UPDATE credentials SET state = 'CONSUMED', updated_at = ?
		WHERE id = ? AND state = 'ACTIVE' AND expires_at >= ?`,
		toUnix(now), id, toUnix(now),
	))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *credentialsRepo) TouchCredential(ctx context.Context, id string, now time.Time) error {
	n, err := rowsAffected(r.q.ExecContext(ctx, `
		UPDATE credentials SET last_used_at = ?
		WHERE id = ? AND state = 'ACTIVE'`,
		toUnix(now), id,
	))
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrConflict
	}
	return nil
}

func (r *credentialsRepo) RevokeCredential(ctx context.Context, id string, now time.Time) (int64, error) {
	return rowsAffected(r.q.ExecContext(ctx, `
		UPDATE credentials SET state = 'REVOKED', updated_at = ?
		WHERE id = ? AND state = 'ACTIVE'`,
		toUnix(now), id,
	))
}

func (r *credentialsRepo) RevokeCredentialsForOwner(
	ctx context.Context,
	ownerID string,
	purpose domain.Purpose,
	now time.Time,
) (int64, error) {
	if purpose == "" {
		return rowsAffected(r.q.ExecContext(ctx, `
			UPDATE credentials SET state = 'REVOKED', updated_at = ?
			WHERE owner_id = ? AND state = 'ACTIVE'`,
			toUnix(now), ownerID,
		))
	}
	return rowsAffected(r.q.ExecContext(ctx, `
		UPDATE credentials SET state = 'REVOKED', updated_at = ?
		WHERE owner_id = ? AND purpose = ? AND state = 'ACTIVE'`,
		toUnix(now), ownerID, string(purpose),
	))
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

	// LIMIT -1 is SQLite for "no limit", needed to use OFFSET on its own
	return rowsAffected(r.q.ExecContext(ctx, `
		UPDATE credentials SET state = 'REVOKED', updated_at = ?
		WHERE id IN (
			SELECT id FROM credentials
			WHERE owner_id = ? AND purpose = ? AND state = 'ACTIVE' AND expires_at >= ?
			ORDER BY coalesce(last_used_at, created_at) DESC, id DESC
			LIMIT -1 OFFSET ?
		)`,
		toUnix(now), ownerID, string(purpose), toUnix(now), keep,
	))
}

func (r *credentialsRepo) DeleteTerminalCredentials(ctx context.Context, cutoff time.Time) (int64, error) {
	return rowsAffected(r.q.ExecContext(ctx, `
		DELETE FROM credentials
		WHERE (state IN ('CONSUMED', 'REVOKED') AND updated_at <= ?)
		   OR expires_at < ?`,
		toUnix(cutoff), toUnix(cutoff),
	))
}

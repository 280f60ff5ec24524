package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
)

const principalColumns = `id, username, email, phone, roles, password_hash, email_verified, mfa_enrolled, mfa_method, totp_secret, created_at, updated_at`

type principalsRepo struct {
	q querier
}

func scanPrincipal(row rowScanner) (domain.Principal, error) {
	var (
		p                       domain.Principal
		email, phone, totp      sql.NullString
		roles, method           string
		createdAt, updatedAt    int64
		emailVerified, enrolled bool
	)
	err := row.Scan(
		&p.ID, &p.Username, &email, &phone, &roles, &p.PasswordHash,
		&emailVerified, &enrolled, &method, &totp, &createdAt, &updatedAt,
	)
	if err != nil {
		return domain.Principal{}, err
	}

	p.Email = mapNullString(email)
	p.Phone = mapNullString(phone)
	p.Roles = splitRoles(roles)
	p.EmailVerified = emailVerified
	p.MFAEnrolled = enrolled
	p.MFAMethod = domain.MFAMethod(method)
	p.TOTPSecret = mapNullString(totp)
	p.CreatedAt = fromUnix(createdAt)
	p.UpdatedAt = fromUnix(updatedAt)
	return p, nil
}

func (r *principalsRepo) GetPrincipalByID(ctx context.Context, id string) (domain.Principal, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = ?`, id)
	p, err := scanPrincipal(row)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}
	return p, nil
}

func (r *principalsRepo) GetPrincipalByLogin(ctx context.Context, login string) (domain.Principal, error) {
	// A username match wins over an email match
	row := r.q.QueryRowContext(ctx, `
		SELECT `+principalColumns+` FROM principals
		WHERE username = ? OR email = ?
		ORDER BY CASE WHEN username = ? THEN 0 ELSE 1 END
		LIMIT 1`,
		login, login, login,
	)
	p, err := scanPrincipal(row)
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}
	return p, nil
}

func (r *principalsRepo) CreatePrincipal(ctx context.Context, p domain.Principal) error {
	method := p.MFAMethod
	if method == "" {
		method = domain.MFAMethodEmail
	}
	updatedAt := p.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = p.CreatedAt
	}

	_, err := r.q.ExecContext(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Username, mapStringNull(p.Email), mapStringNull(p.Phone), joinRoles(p.Roles), p.PasswordHash,
		p.EmailVerified, p.MFAEnrolled, string(method), mapStringNull(p.TOTPSecret),
		toUnix(p.CreatedAt), toUnix(updatedAt),
	)
	return mapConstraint(err)
}

func (r *principalsRepo) UpdatePrincipal(
	ctx context.Context,
	id string,
	upd domain.PrincipalUpdate,
	now time.Time,
) error {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}

	if upd.Email != nil {
		set("email", mapStringNull(*upd.Email))
	}
	if upd.Phone != nil {
		set("phone", mapStringNull(*upd.Phone))
	}
	if upd.Roles != nil {
		set("roles", joinRoles(*upd.Roles))
	}
	if upd.PasswordHash != nil {
		set("password_hash", *upd.PasswordHash)
	}
	if upd.EmailVerified != nil {
		set("email_verified", *upd.EmailVerified)
	}
	if upd.MFAEnrolled != nil {
		set("mfa_enrolled", *upd.MFAEnrolled)
	}
	if upd.MFAMethod != nil {
		set("mfa_method", string(*upd.MFAMethod))
	}
	if upd.TOTPSecret != nil {
		set("totp_secret", mapStringNull(*upd.TOTPSecret))
	}
	set("updated_at", toUnix(now))
	args = append(args, id)

	n, err := rowsAffected(r.q.ExecContext(ctx,
		`UPDATE principals SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		args...,
	))
	if err != nil {
		return mapConstraint(err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/store"
	"github.com/jackc/pgx/v5"
)

const principalColumns = `id, username, email, phone, roles, password_hash, email_verified, mfa_enrolled, mfa_method, totp_secret, created_at, updated_at`

type principalsRepo struct {
	q querier
}

func scanPrincipal(row pgx.Row) (domain.Principal, error) {
	var (
		p                  domain.Principal
		email, phone, totp *string
		method             string
	)
	err := row.Scan(
		&p.ID, &p.Username, &email, &phone, &p.Roles, &p.PasswordHash,
		&p.EmailVerified, &p.MFAEnrolled, &method, &totp, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return domain.Principal{}, err
	}

	p.Email = mapNullString(email)
	p.Phone = mapNullString(phone)
	if len(p.Roles) == 0 {
		p.Roles = nil
	}
	p.MFAMethod = domain.MFAMethod(method)
	p.TOTPSecret = mapNullString(totp)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (r *principalsRepo) GetPrincipalByID(ctx context.Context, id string) (domain.Principal, error) {
	p, err := scanPrincipal(r.q.QueryRow(ctx, `SELECT `+principalColumns+` FROM principals WHERE id = $1`, id))
	if err != nil {
		return domain.Principal{}, mapNotFound(err)
	}
	return p, nil
}

func (r *principalsRepo) GetPrincipalByLogin(ctx context.Context, login string) (domain.Principal, error) {
	p, err := scanPrincipal(r.q.QueryRow(ctx, `
		SELECT `+principalColumns+` FROM principals
		WHERE username = $1 OR lower(email) = lower($1)
		ORDER BY (username = $1) DESC
		LIMIT 1`,
		login,
	))
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
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}

	_, err := r.q.Exec(ctx, `
		INSERT INTO principals (`+principalColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.Username, mapStringNull(p.Email), mapStringNull(p.Phone), roles, p.PasswordHash,
		p.EmailVerified, p.MFAEnrolled, string(method), mapStringNull(p.TOTPSecret),
		p.CreatedAt, updatedAt,
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
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Email != nil {
		set("email", mapStringNull(*upd.Email))
	}
	if upd.Phone != nil {
		set("phone", mapStringNull(*upd.Phone))
	}
	if upd.Roles != nil {
		roles := *upd.Roles
		if roles == nil {
			roles = []string{}
		}
		set("roles", roles)
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
	set("updated_at", now)
	args = append(args, id)

	tag, err := r.q.Exec(ctx,
		fmt.Sprintf(`UPDATE principals SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args)),
		args...,
	)
	if err != nil {
		return mapConstraint(err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

package service

import (
	"context"
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
)

func enrolTOTP(t *testing.T, env *testEnv, ownerID string) (string, []string) {
	t.Helper()
	ctx := context.Background()

	enrolment, err := env.Authenticator.Enroll(ctx, ownerID)
	require.NoError(t, err)

	code, err := totp.GenerateCode(enrolment.Secret, env.Clock.Now())
	require.NoError(t, err)
	backups, err := env.Authenticator.Confirm(ctx, ownerID, code)
	require.NoError(t, err)
	return enrolment.Secret, backups
}

func TestAuthenticatorEnrollment(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.addPrincipal(t, domain.Principal{Username: "tess", Email: "tess@example.com"}, "")

	enrolment, err := env.Authenticator.Enroll(ctx, p.ID)
	require.NoError(t, err)
	require.NotEmpty(t, enrolment.Secret)
	require.Contains(t, enrolment.URL, "otpauth://totp/")
	require.Equal(t, "tess", enrolment.Account)

	_, err = env.Authenticator.Confirm(ctx, p.ID, "abcdef")
	require.ErrorIs(t, err, ErrInvalidSecret)

	code, err := totp.GenerateCode(enrolment.Secret, env.Clock.Now())
	require.NoError(t, err)
	backups, err := env.Authenticator.Confirm(ctx, p.ID, code)
	require.NoError(t, err)
	require.Len(t, backups, backupCodeCount)

	got, err := env.Store.Principals().GetPrincipalByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MFAMethodTOTP, got.MFAMethod)
	require.True(t, got.MFAEnrolled)

	live, err := env.Engine.ListActive(ctx, p.ID, domain.PurposeMFABackup)
	require.NoError(t, err)
	require.Len(t, live, backupCodeCount)

	_, err = env.Authenticator.Enroll(ctx, p.ID)
	require.ErrorIs(t, err, ErrMFAAlreadyEnabled)
}

func TestAuthenticatorConfirmWithoutEnroll(t *testing.T) {
	env := newTestEnv(t)
	p := env.addPrincipal(t, domain.Principal{Username: "tess"}, "")

	_, err := env.Authenticator.Confirm(context.Background(), p.ID, "123456")
	require.ErrorIs(t, err, ErrMFANotEnabled)
}

func TestRedeemBackupCode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.addPrincipal(t, domain.Principal{Username: "tess"}, "")
	q := env.addPrincipal(t, domain.Principal{Username: "quinn"}, "")
	_, backups := enrolTOTP(t, env, p.ID)

	require.ErrorIs(t, env.Authenticator.RedeemBackupCode(ctx, q.ID, backups[0]), ErrInvalidSecret,
		"another owner's code is unknown")
	require.NoError(t, env.Authenticator.RedeemBackupCode(ctx, p.ID, backups[0]))
	require.ErrorIs(t, env.Authenticator.RedeemBackupCode(ctx, p.ID, backups[0]), ErrAlreadyUsed)
	require.ErrorIs(t, env.Authenticator.RedeemBackupCode(ctx, p.ID, "nope"), ErrInvalidSecret)
}

func TestRegenerateAndRemoveAuthenticator(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.addPrincipal(t, domain.Principal{Username: "tess", Email: "tess@example.com"}, "")
	secret, old := enrolTOTP(t, env, p.ID)

	env.Clock.Advance(time.Minute)
	code, err := totp.GenerateCode(secret, env.Clock.Now())
	require.NoError(t, err)
	fresh, err := env.Authenticator.RegenerateBackupCodes(ctx, p.ID, code)
	require.NoError(t, err)
	require.Len(t, fresh, backupCodeCount)
	require.ErrorIs(t, env.Authenticator.RedeemBackupCode(ctx, p.ID, old[0]), ErrRevoked)

	env.Clock.Advance(time.Minute)
	code, err = totp.GenerateCode(secret, env.Clock.Now())
	require.NoError(t, err)
	require.NoError(t, env.Authenticator.Remove(ctx, p.ID, code))

	got, err := env.Store.Principals().GetPrincipalByID(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, domain.MFAMethodEmail, got.MFAMethod)
	require.Empty(t, got.TOTPSecret)
	require.ErrorIs(t, env.Authenticator.RedeemBackupCode(ctx, p.ID, fresh[0]), ErrRevoked)

	require.ErrorIs(t, env.Authenticator.Remove(ctx, p.ID, code), ErrMFANotEnabled)
}

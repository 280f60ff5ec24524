package service

import (
	"context"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
)

var linkPattern = regexp.MustCompile(`https://\S+`)

func lastVerifyToken(t *testing.T, env *testEnv) string {
	t.Helper()

	link := linkPattern.FindString(env.Outbox.Last(t).Body)
	require.NotEmpty(t, link)

	u, err := url.Parse(link)
	require.NoError(t, err)
	require.Equal(t, "/verify", u.Path)
	return u.Query().Get("token")
}

func TestEmailVerification(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.addPrincipal(t, domain.Principal{Username: "jane", Email: "jane@example.com"}, "")

	require.NoError(t, env.Verification.Request(ctx, p.ID))
	msg := env.Outbox.Last(t)
	require.Equal(t, "Verify your email", msg.Subject)
	require.Contains(t, msg.Body, "https://app.example.com/verify?token=")
	token := lastVerifyToken(t, env)

	owner, err := env.Verification.Confirm(ctx, token)
	require.NoError(t, err)
	require.Equal(t, p.ID, owner)

	got, err := env.Store.Principals().GetPrincipalByID(ctx, p.ID)
	require.NoError(t, err)
	require.True(t, got.EmailVerified)
	require.True(t, got.MFAEnrolled)

	_, err = env.Verification.Confirm(ctx, token)
	require.ErrorIs(t, err, ErrAlreadyUsed)
}

func TestEmailVerificationFailures(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	p := env.addPrincipal(t, domain.Principal{Username: "jane", Email: "jane@example.com"}, "")

	_, err := env.Verification.Confirm(ctx, "unknown")
	require.ErrorIs(t, err, ErrInvalidSecret)

	require.NoError(t, env.Verification.Request(ctx, p.ID))
	superseded := lastVerifyToken(t, env)
	require.NoError(t, env.Verification.Request(ctx, p.ID))
	current := lastVerifyToken(t, env)

	_, err = env.Verification.Confirm(ctx, superseded)
	require.ErrorIs(t, err, ErrInvalidSecret)

	env.Clock.Advance(61 * time.Minute)
	_, err = env.Verification.Confirm(ctx, current)
	require.ErrorIs(t, err, ErrExpired)
}

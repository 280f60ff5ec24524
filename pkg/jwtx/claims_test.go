package jwtx_test

import (
	"testing"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestValidateIssuer(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "tollgate"},
	}

	t.Run("matching issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer("tollgate"))
	})

	t.Run("empty expected issuer", func(t *testing.T) {
		require.NoError(t, c.ValidateIssuer(""))
	})

	t.Run("mismatched issuer", func(t *testing.T) {
		require.ErrorIs(t, c.ValidateIssuer("someone-else"), jwtx.ErrIssuer)
	})
}

func TestValidateAudience(t *testing.T) {
	c := &jwtx.Claims{
		RegisteredClaims: jwt.RegisteredClaims{Audience: []string{"web", "mobile"}},
	}

	require.NoError(t, c.ValidateAudience([]string{"web"}))
	require.NoError(t, c.ValidateAudience([]string{"foo", "mobile"}))
	require.NoError(t, c.ValidateAudience(nil))
	require.ErrorIs(t, c.ValidateAudience([]string{"admin"}), jwtx.ErrAudience)
}

func TestValidateExpiry(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	c := jwtx.NewClaims("owner-1", "tollgate", nil, 10*time.Minute, now)

	tests := []struct {
		name   string
		at     time.Time
		leeway time.Duration
		want   error
	}{
		{"at issue time", now, 0, nil},
		{"exactly at exp", now.Add(10 * time.Minute), 0, nil},
		{"one second after exp", now.Add(10*time.Minute + time.Second), 0, jwtx.ErrExpired},
		{"after exp inside leeway", now.Add(10*time.Minute + time.Second), 5 * time.Second, nil},
		{"before nbf", now.Add(-time.Minute), 0, jwtx.ErrNotYetValid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.ValidateExpiry(tt.at, tt.leeway)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("missing exp is rejected", func(t *testing.T) {
		var empty jwtx.Claims
		require.ErrorIs(t, empty.ValidateExpiry(now, 0), jwtx.ErrInvalidClaim)
	})
}

func TestScopeHelpers(t *testing.T) {
	c := jwtx.Claims{Scope: "onboarding mfa_required"}

	require.Equal(t, []string{"onboarding", "mfa_required"}, c.Scopes())
	require.True(t, c.HasScope(jwtx.ScopeOnboarding))
	require.True(t, c.HasScope(jwtx.ScopeMFARequired))
	require.False(t, c.HasScope("admin"))

	require.False(t, c.MFASatisfied())
	c.MFA = jwtx.Bool(false)
	require.False(t, c.MFASatisfied())
	c.MFA = jwtx.Bool(true)
	require.True(t, c.MFASatisfied())
}

func TestNewClaimsJTIUnique(t *testing.T) {
	now := time.Now().UTC()
	a := jwtx.NewClaims("s", "i", nil, time.Minute, now)
	b := jwtx.NewClaims("s", "i", nil, time.Minute, now)
	require.NotEmpty(t, a.ID)
	require.NotEqual(t, a.ID, b.ID)
}

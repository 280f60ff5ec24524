package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCredentialRecordStatus(t *testing.T) {
	created := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

	for purpose, pol := range DefaultPolicies() {
		t.Run(string(purpose), func(t *testing.T) {
			rec := CredentialRecord{
				Purpose:   purpose,
				State:     StateActive,
				CreatedAt: created,
				ExpiresAt: created.Add(pol.TTL),
			}

			require.Equal(t, StateActive, rec.Status(created))
			require.Equal(t, StateActive, rec.Status(rec.ExpiresAt))
			require.Equal(t, StateExpired, rec.Status(rec.ExpiresAt.Add(time.Second)))
			require.False(t, rec.IsUsable(rec.ExpiresAt.Add(time.Second)))
		})
	}
}

func TestTerminalStatesStayTerminal(t *testing.T) {
	now := time.Now()
	rec := CredentialRecord{State: StateConsumed, ExpiresAt: now.Add(-time.Hour)}
	require.Equal(t, StateConsumed, rec.Status(now))

	rec.State = StateRevoked
	require.Equal(t, StateRevoked, rec.Status(now.Add(-2*time.Hour)))
}

func TestLockedOut(t *testing.T) {
	rec := CredentialRecord{Attempts: 4}
	require.False(t, rec.LockedOut(5))
	rec.Attempts = 5
	require.True(t, rec.LockedOut(5))
	require.False(t, rec.LockedOut(0))
}

func TestLastActivity(t *testing.T) {
	created := time.Unix(100, 0)
	rec := CredentialRecord{CreatedAt: created}
	require.Equal(t, created, rec.LastActivity())

	used := time.Unix(200, 0)
	rec.LastUsedAt = &used
	require.Equal(t, used, rec.LastActivity())
}

func TestDefaultPolicies(t *testing.T) {
	pols := DefaultPolicies()
	require.NoError(t, pols.Validate())

	mfa, err := pols.For(PurposeLoginMFA)
	require.NoError(t, err)
	require.Equal(t, 10*time.Minute, mfa.TTL)
	require.Equal(t, 5, mfa.MaxAttempts)
	require.Equal(t, LookupID, mfa.Lookup)

	refresh, err := pols.For(PurposeRefresh)
	require.NoError(t, err)
	require.False(t, refresh.SingleUse)
	require.Equal(t, 0, refresh.MaxAttempts)

	_, err = pols.For("BOGUS")
	require.Error(t, err)

	// Mutating one copy leaves the defaults alone
	pols[PurposeRefresh] = Policy{}
	require.NoError(t, DefaultPolicies().Validate())
	require.Error(t, pols.Validate())
}

func TestPrincipalUpdateApply(t *testing.T) {
	p := Principal{ID: "u1", Email: "a@example.com", MFAMethod: MFAMethodEmail, Roles: []string{"user"}}

	require.True(t, PrincipalUpdate{}.IsEmpty())
	require.Equal(t, p, PrincipalUpdate{}.Apply(p))

	verified := true
	method := MFAMethodTOTP
	roles := []string{"user", "admin"}
	upd := PrincipalUpdate{EmailVerified: &verified, MFAMethod: &method, Roles: &roles}
	require.False(t, upd.IsEmpty())

	got := upd.Apply(p)
	require.True(t, got.EmailVerified)
	require.Equal(t, MFAMethodTOTP, got.MFAMethod)
	require.Equal(t, []string{"user", "admin"}, got.Roles)
	require.Equal(t, "a@example.com", got.Email)

	// The update's slice is copied, not aliased
	roles[0] = "changed"
	require.Equal(t, "user", got.Roles[0])
}

func TestPrincipalDestination(t *testing.T) {
	p := Principal{Email: "a@example.com", Phone: "0400111222"}

	p.MFAMethod = MFAMethodEmail
	require.Equal(t, "a@example.com", p.Destination())
	p.MFAMethod = MFAMethodSMS
	require.Equal(t, "0400111222", p.Destination())
	p.MFAMethod = MFAMethodTOTP
	require.Empty(t, p.Destination())
}

func TestMasking(t *testing.T) {
	require.Equal(t, "j***@example.com", MaskEmail("jane@example.com"))
	require.Equal(t, "*******1234", MaskPhone("04001111234"))
}

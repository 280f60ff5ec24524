package jwtx_test

import (
	"strings"
	"testing"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
	"github.com/stretchr/testify/require"
)

const exampleIssuer = "tollgate-test"

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newManager(t *testing.T, opts jwtx.KeyManagerOptions) *jwtx.KeyManager {
	t.Helper()
	if opts.Issuer == "" {
		opts.Issuer = exampleIssuer
	}
	km, err := jwtx.NewKeyManager(opts)
	require.NoError(t, err)
	require.True(t, km.IsReady())
	return km
}

func TestKeyManager_SignAndVerifyRoundTrip(t *testing.T) {
	pemKey, err := cryptox.GenerateEd25519Key()
	require.NoError(t, err)

	tests := []struct {
		name string
		opts jwtx.KeyManagerOptions
	}{
		{"HS256 configured secret", jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmHS256, Secret: testSecret}},
		{"HS256 generated secret", jwtx.KeyManagerOptions{}},
		{"EdDSA from PEM", jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, PrivateKeyPEM: pemKey}},
		{"EdDSA ephemeral keys", jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, NumKeys: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			km := newManager(t, tt.opts)

			claims := jwtx.NewClaims("owner-1", exampleIssuer, nil, 5*time.Minute, time.Now().UTC())
			claims.Username = "jdoe"
			claims.Email = "jdoe@example.com"
			claims.Roles = []string{"user"}
			claims.MFA = jwtx.Bool(true)

			// Sign with every key so multi-key managers are fully covered
			for range 5 {
				token, err := km.GetSigner().Sign(claims)
				require.NoError(t, err)

				parsed, err := km.Verifier.Verify(token)
				require.NoError(t, err)
				require.Equal(t, "owner-1", parsed.Subject)
				require.Equal(t, "jdoe@example.com", parsed.Email)
				require.Equal(t, []string{"user"}, parsed.Roles)
				require.True(t, parsed.MFASatisfied())
				require.Equal(t, claims.ID, parsed.ID)
			}
		})
	}
}

func TestKeyManager_Defaults(t *testing.T) {
	km := newManager(t, jwtx.KeyManagerOptions{Secret: testSecret})
	require.Equal(t, jwtx.AlgorithmHS256, km.Algorithm())
	require.Equal(t, 1, km.NumSigners())

	// Same secret must give the same kid on every instance
	other := newManager(t, jwtx.KeyManagerOptions{Secret: testSecret})
	require.Equal(t, km.GetSigner().KID(), other.GetSigner().KID())

	ed := newManager(t, jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA, NumKeys: 50})
	require.Equal(t, 10, ed.NumSigners())
}

func TestKeyManager_Rejects(t *testing.T) {
	_, err := jwtx.NewKeyManager(jwtx.KeyManagerOptions{})
	require.Error(t, err, "issuer is required")

	_, err = jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: exampleIssuer, Algorithm: "RS256"})
	require.Error(t, err)

	_, err = jwtx.NewKeyManager(jwtx.KeyManagerOptions{Issuer: exampleIssuer, Secret: []byte("short")})
	require.Error(t, err)
}

func TestVerify_Failures(t *testing.T) {
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	current := now
	km := newManager(t, jwtx.KeyManagerOptions{
		Secret: testSecret,
		Now:    func() time.Time { return current },
	})

	claims := jwtx.NewClaims("owner-1", exampleIssuer, nil, time.Minute, now)
	token, err := km.GetSigner().Sign(claims)
	require.NoError(t, err)

	t.Run("tampered payload", func(t *testing.T) {
		parts := strings.Split(token, ".")
		require.Len(t, parts, 3)

		forged := jwtx.NewClaims("owner-2", exampleIssuer, nil, time.Minute, now)
		forgedToken, err := km.GetSigner().Sign(forged)
		require.NoError(t, err)
		forgedParts := strings.Split(forgedToken, ".")

		// Payload from one token, signature from another
		tampered := parts[0] + "." + forgedParts[1] + "." + parts[2]
		_, err = km.Verifier.Verify(tampered)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("signature checked before expiry", func(t *testing.T) {
		current = now.Add(time.Hour)
		defer func() { current = now }()

		other := newManager(t, jwtx.KeyManagerOptions{Secret: []byte("ffffffffffffffffffffffffffffffff")})
		foreign, err := other.GetSigner().Sign(claims)
		require.NoError(t, err)

		// Expired and foreign: the signature failure must win
		_, err = km.Verifier.Verify(foreign)
		require.ErrorIs(t, err, jwtx.ErrUnknownKID)
	})

	t.Run("expired", func(t *testing.T) {
		current = now.Add(2 * time.Minute)
		defer func() { current = now }()

		_, err := km.Verifier.Verify(token)
		require.ErrorIs(t, err, jwtx.ErrExpired)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := km.Verifier.Verify("not.a.jwt")
		require.Error(t, err)
		_, err = km.Verifier.Verify("garbage")
		require.ErrorIs(t, err, jwtx.ErrMalformed)
	})

	t.Run("algorithm pinned", func(t *testing.T) {
		ed := newManager(t, jwtx.KeyManagerOptions{Algorithm: jwtx.AlgorithmEdDSA})
		edToken, err := ed.GetSigner().Sign(claims)
		require.NoError(t, err)

		_, err = km.Verifier.Verify(edToken)
		require.ErrorIs(t, err, jwtx.ErrInvalidSig)
	})

	t.Run("issuer mismatch", func(t *testing.T) {
		wrong := jwtx.NewClaims("owner-1", "elsewhere", nil, time.Minute, now)
		tok, err := km.GetSigner().Sign(wrong)
		require.NoError(t, err)

		_, err = km.Verifier.Verify(tok)
		require.ErrorIs(t, err, jwtx.ErrIssuer)
	})
}

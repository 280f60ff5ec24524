package cryptox

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

var testHasher = Hasher{Pepper: "unit-test-pepper"}

func TestHasherHash(t *testing.T) {
	tests := []struct {
		name   string
		secret string
	}{
		{"simple password", "password123"},
		{"numeric code", "004211"},
		{"long password", strings.Repeat("a", 100)},
		{"empty", ""},
		{"unicode password", "пароль🔒密码"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hash, err := testHasher.Hash(tt.secret)
			require.NoError(t, err)
			require.True(t, IsPHC(hash), "hash should be in PHC format")

			parts := strings.Split(hash, "$")
			require.Len(t, parts, 6)
			require.Equal(t, "argon2id", parts[1])
			require.Equal(t, "v=19", parts[2])
			require.Equal(t, "m=19456,t=2,p=1", parts[3])

			require.NoError(t, testHasher.Verify(tt.secret, hash))
		})
	}
}

func TestHasherUniqueSalts(t *testing.T) {
	hash1, err := testHasher.Hash("same")
	require.NoError(t, err)
	hash2, err := testHasher.Hash("same")
	require.NoError(t, err)

	require.NotEqual(t, hash1, hash2, "hashes should differ due to unique salts")
	require.NoError(t, testHasher.Verify("same", hash1))
	require.NoError(t, testHasher.Verify("same", hash2))
}

func TestHasherVerifyMismatch(t *testing.T) {
	hash, err := testHasher.Hash("correct-password")
	require.NoError(t, err)

	for _, wrong := range []string{"wrong-password", "Correct-Password", "correct-password ", ""} {
		require.ErrorIs(t, testHasher.Verify(wrong, hash), ErrMismatch)
	}

	// A different pepper must not verify either
	other := Hasher{Pepper: "another-pepper"}
	require.ErrorIs(t, other.Verify("correct-password", hash), ErrMismatch)
}

func TestHasherVerifyInvalidFormat(t *testing.T) {
	tests := []struct {
		name        string
		invalidHash string
	}{
		{"empty hash", ""},
		{"wrong algorithm", "$bcrypt$v=19$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
		{"missing parts", "$argon2id$v=19$m=19456"},
		{"malformed parameters", "$argon2id$v=19$invalid$c2FsdA$aGFzaA"},
		{"invalid base64 salt", "$argon2id$v=19$m=19456,t=2,p=1$!!!invalid!!!$aGFzaA"},
		{"wrong version", "$argon2id$v=18$m=19456,t=2,p=1$c2FsdA$aGFzaA"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := testHasher.Verify("whatever", tt.invalidHash)
			require.Error(t, err)
			require.NotErrorIs(t, err, ErrMismatch)
		})
	}
}

func TestLoadOrGeneratePepper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "pepper")

	first, err := LoadOrGeneratePepper(path)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	// Second load must hand back the persisted value
	second, err := LoadOrGeneratePepper(path)
	require.NoError(t, err)
	require.Equal(t, first, second)

	ephemeral, err := LoadOrGeneratePepper("")
	require.NoError(t, err)
	require.NotEqual(t, first, ephemeral)
}

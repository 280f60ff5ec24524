package jwtx

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
)

// Supported JWT signing algorithms
const (
	AlgorithmHS256 = "HS256"
	AlgorithmEdDSA = "EdDSA"
)

// KeyManager owns the signing keys for an instance and the matching
// verifier. Keys are read-only once the manager is built.
type KeyManager struct {
	Verifier  Verifier
	KeySet    *KeySet
	algorithm string

	signers []Signer
	mu      sync.RWMutex
}

// KeyManagerOptions configures the KeyManager for a specific use case.
type KeyManagerOptions struct {
	// Algorithm is "HS256" (default) or "EdDSA".
	Algorithm string

	// Issuer is the issuer claim (iss) that will be validated in tokens.
	Issuer string

	// Audience is the list of audience values (aud) that will be validated.
	// Empty slice means no audience validation.
	Audience []string

	// Secret is the HS256 shared secret. When empty a random 512-bit
	// secret is generated, which invalidates tokens on restart.
	Secret []byte

	// PrivateKeyPEM is a PKCS8 Ed25519 key for EdDSA. When empty, NumKeys
	// ephemeral keys are generated.
	PrivateKeyPEM []byte

	// NumKeys is the number of ephemeral EdDSA keys (default 1, max 10).
	NumKeys int

	// Leeway is the clock skew tolerated on exp/nbf.
	Leeway time.Duration

	// Now is the verifier time source. Defaults to time.Now.
	Now func() time.Time
}

// NewKeyManager builds signers for opts.Algorithm and a verifier over them.
func NewKeyManager(opts KeyManagerOptions) (*KeyManager, error) {
	if opts.Issuer == "" {
		return nil, fmt.Errorf("jwtx: Issuer is required")
	}
	if opts.Algorithm == "" {
		opts.Algorithm = AlgorithmHS256
	}

	var (
		signers []Signer
		err     error
	)
	switch opts.Algorithm {
	case AlgorithmHS256:
		signers, err = hs256Signers(opts)
	case AlgorithmEdDSA:
		signers, err = eddsaSigners(opts)
	default:
		return nil, fmt.Errorf("jwtx: unsupported algorithm %q (supported: HS256, EdDSA)", opts.Algorithm)
	}
	if err != nil {
		return nil, err
	}

	keyset := NewKeySet(opts.Algorithm)
	for i, s := range signers {
		if err := keyset.AddSigner(s); err != nil {
			return nil, fmt.Errorf("jwtx: failed to add signer %d to keyset: %w", i+1, err)
		}
	}

	return &KeyManager{
		Verifier: NewVerifier(keyset, VerifyOptions{
			Issuer:   opts.Issuer,
			Audience: opts.Audience,
			Leeway:   opts.Leeway,
			Now:      opts.Now,
		}),
		KeySet:    keyset,
		algorithm: opts.Algorithm,
		signers:   signers,
	}, nil
}

func hs256Signers(opts KeyManagerOptions) ([]Signer, error) {
	secret := opts.Secret
	if len(secret) == 0 {
		generated, err := cryptox.GenerateToken(cryptox.TokenSize512)
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate HS256 secret: %w", err)
		}
		secret = []byte(generated)
	}

	// Derive the kid from the secret so every instance sharing the secret
	// agrees on it without configuration.
	kid := "hs-" + cryptox.FingerprintToken(string(secret))[:12]

	s, err := NewSignerHS256(kid, secret)
	if err != nil {
		return nil, err
	}
	return []Signer{s}, nil
}

func eddsaSigners(opts KeyManagerOptions) ([]Signer, error) {
	if len(opts.PrivateKeyPEM) > 0 {
		kid := "ed-" + cryptox.FingerprintToken(string(opts.PrivateKeyPEM))[:12]
		s, err := NewSignerEdDSA(kid, opts.PrivateKeyPEM)
		if err != nil {
			return nil, err
		}
		return []Signer{s}, nil
	}

	numKeys := opts.NumKeys
	if numKeys <= 0 {
		numKeys = 1
	}
	if numKeys > 10 {
		numKeys = 10
	}

	signers := make([]Signer, 0, numKeys)
	for i := 0; i < numKeys; i++ {
		keyID, err := generateRandomKeyID()
		if err != nil {
			return nil, err
		}

		pemBytes, err := cryptox.GenerateEd25519Key()
		if err != nil {
			return nil, fmt.Errorf("jwtx: failed to generate EdDSA key %d: %w", i+1, err)
		}

		s, err := NewSignerEdDSA(keyID, pemBytes)
		if err != nil {
			return nil, err
		}
		signers = append(signers, s)
	}
	return signers, nil
}

// Algorithm returns the signing algorithm being used.
func (km *KeyManager) Algorithm() string {
	return km.algorithm
}

// IsReady returns true if the KeyManager has valid keys loaded.
func (km *KeyManager) IsReady() bool {
	return km.KeySet.IsReady()
}

// GetSigner returns a randomly selected signer from the available signing
// keys. With a single key it always returns that key.
func (km *KeyManager) GetSigner() Signer {
	km.mu.RLock()
	defer km.mu.RUnlock()

	switch len(km.signers) {
	case 0:
		return nil
	case 1:
		return km.signers[0]
	default:
		return km.signers[rand.IntN(len(km.signers))]
	}
}

// NumSigners returns the number of active signing keys.
func (km *KeyManager) NumSigners() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return len(km.signers)
}

// generateRandomKeyID creates a random key identifier using cryptographic entropy.
// Format: "tollgate-{random-token}" where random-token is a 128-bit secure token.
func generateRandomKeyID() (string, error) {
	token, err := cryptox.GenerateToken(cryptox.TokenSize128)
	if err != nil {
		return "", fmt.Errorf("failed to generate random key ID: %w", err)
	}
	return fmt.Sprintf("tollgate-%s", token), nil
}

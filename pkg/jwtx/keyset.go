package jwtx

import (
	"errors"
	"sync"
)

var ErrNoKey = errors.New("jwtx: key not found")

// KeySet holds the verification keys for one algorithm, indexed by kid.
// It's safe for concurrent use by the signer side and verifiers.
type KeySet struct {
	mu   sync.RWMutex
	alg  string
	keys map[string]any // kid: []byte | ed25519.PublicKey
}

// NewKeySet returns an empty KeySet pinned to alg.
func NewKeySet(alg string) *KeySet {
	return &KeySet{
		alg:  alg,
		keys: make(map[string]any),
	}
}

// Alg is the only algorithm tokens verified against this set may use.
func (k *KeySet) Alg() string { return k.alg }

// AddSigner registers a signer's verification key.
func (k *KeySet) AddSigner(s Signer) error {
	if s.Alg() != k.alg {
		return ErrAlgMismatch
	}
	if err := s.Validate(); err != nil {
		return err
	}

	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[s.KID()] = s.VerificationKey()
	return nil
}

// Get returns the verification key for the given kid.
func (k *KeySet) Get(kid string) (any, error) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if key, ok := k.keys[kid]; ok {
		return key, nil
	}
	return nil, ErrNoKey
}

// IsReady returns true if the KeySet has at least one key loaded.
func (k *KeySet) IsReady() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.keys) > 0
}

package cryptox

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Configuration for Argon2id hashing.
const (
	memory      = 19 * 1024 // Memory usage in KiB (19 MiB)
	iterations  = 2         // Iteration count
	parallelism = 1         // Number of threads
	keyLength   = 32        // Length of the generated hash
	saltLength  = 16        // Length of the salt
)

// LoadOrGeneratePepper reads the pepper stored at path, creating the file
// with a fresh random pepper when it does not exist yet. An empty path
// yields an in-memory pepper that does not survive a restart.
func LoadOrGeneratePepper(path string) (string, error) {
	if path == "" {
		return randomPepper()
	}

	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return "", err
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		return strings.TrimSpace(string(data)), nil
	case !errors.Is(err, os.ErrNotExist):
		return "", err
	}

	pepper, err := randomPepper()
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(pepper), 0600); err != nil {
		return "", err
	}
	return pepper, nil
}

func randomPepper() (string, error) {
	buf := make([]byte, keyLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

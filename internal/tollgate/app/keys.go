package app

import (
	"fmt"
	"log/slog"

	"github.com/aussiebroadwan/tollgate/pkg/clockx"
	"github.com/aussiebroadwan/tollgate/pkg/cryptox"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

// InitKeys builds the KeyManager that signs access and onboarding tokens.
//
// HS256 uses TOKEN_SECRET when set. EdDSA loads (or creates) TOKEN_KEY_FILE.
// With neither configured the keys live only in memory and every issued
// token becomes invalid on restart.
func InitKeys(cfg Config, clock clockx.Clock, logger *slog.Logger) (*jwtx.KeyManager, error) {
	opts := jwtx.KeyManagerOptions{
		Algorithm: cfg.TokenAlgorithm,
		Issuer:    cfg.Issuer,
		Audience:  []string{cfg.Issuer},
		Now:       clock.Now,
	}

	ephemeral := false
	switch cfg.TokenAlgorithm {
	case jwtx.AlgorithmEdDSA:
		if cfg.TokenKeyFile == "" {
			ephemeral = true
			break
		}
		pemKey, err := cryptox.LoadOrGenerateEd25519Key(cfg.TokenKeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load signing key: %w", err)
		}
		opts.PrivateKeyPEM = pemKey

	default:
		if cfg.TokenSecret == "" {
			ephemeral = true
			break
		}
		opts.Secret = []byte(cfg.TokenSecret)
	}

	km, err := jwtx.NewKeyManager(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize key manager: %w", err)
	}

	if ephemeral {
		logger.Warn("using ephemeral signing keys - tokens will not survive restarts",
			"algorithm", km.Algorithm(),
		)
	}
	logger.Info("signing keys ready",
		"algorithm", km.Algorithm(),
		"num_keys", km.NumSigners(),
		"issuer", cfg.Issuer,
	)
	return km, nil
}

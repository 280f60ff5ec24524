package app

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/aussiebroadwan/tollgate/internal/tollgate/domain"
	"github.com/aussiebroadwan/tollgate/internal/tollgate/service"
	"github.com/aussiebroadwan/tollgate/pkg/jwtx"
)

// Config is read from an optional YAML file named by CONFIG_PATH, with
// environment variables overlaid on top.
type Config struct {
	Issuer              string        `yaml:"issuer" env:"TOLLGATE_ISSUER" env-default:"tollgate"`
	Env                 string        `yaml:"env" env:"ENV" env-default:"dev"`                 // dev, staging, prod
	LogLevel            string        `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`    // debug, info, warn, error
	LogFormat           string        `yaml:"log_format" env:"LOG_FORMAT" env-default:"json"`  // json, text
	Port                int           `yaml:"port" env:"PORT" env-default:"8080"`              // ops HTTP port
	ShutdownGracePeriod time.Duration `yaml:"shutdown_grace_period" env:"SHUTDOWN_GRACE_PERIOD" env-default:"10s"`

	StoreDriver  string        `yaml:"store_driver" env:"STORE_DRIVER" env-default:"sqlite"` // sqlite, postgres
	DatabaseFile string        `yaml:"database_file" env:"DATABASE_FILE" env-default:"tollgate.db"`
	DatabaseURL  string        `yaml:"database_url" env:"DATABASE_URL"` // Required for postgres
	StoreTimeout time.Duration `yaml:"store_timeout" env:"STORE_TIMEOUT" env-default:"3s"`

	RedisURL          string        `yaml:"redis_url" env:"REDIS_URL"` // Empty means in-process cache
	PrincipalCacheTTL time.Duration `yaml:"principal_cache_ttl" env:"PRINCIPAL_CACHE_TTL" env-default:"1m"`

	TokenAlgorithm string        `yaml:"token_algorithm" env:"TOKEN_ALGORITHM" env-default:"HS256"` // HS256, EdDSA
	TokenSecret    string        `yaml:"token_secret" env:"TOKEN_SECRET"`                            // HS256; empty generates one per start
	TokenKeyFile   string        `yaml:"token_key_file" env:"TOKEN_KEY_FILE"`                        // EdDSA PEM; empty generates ephemeral keys
	AccessTTL      time.Duration `yaml:"access_ttl" env:"ACCESS_TTL" env-default:"15m"`
	OnboardingTTL  time.Duration `yaml:"onboarding_ttl" env:"ONBOARDING_TTL" env-default:"15m"`

	RefreshTTL         time.Duration `yaml:"refresh_ttl" env:"REFRESH_TTL" env-default:"336h"`
	RefreshMaxActive   int           `yaml:"refresh_max_active" env:"REFRESH_MAX_ACTIVE" env-default:"5"`
	RefreshRotateOnUse bool          `yaml:"refresh_rotate_on_use" env:"REFRESH_ROTATE_ON_USE" env-default:"true"`

	MFARequired       bool          `yaml:"mfa_required" env:"MFA_REQUIRED" env-default:"false"`
	MFALoginTTL       time.Duration `yaml:"mfa_login_ttl" env:"MFA_LOGIN_TTL" env-default:"10m"`
	MFAResendCooldown time.Duration `yaml:"mfa_resend_cooldown" env:"MFA_RESEND_COOLDOWN" env-default:"30s"`
	MFAMaxAttempts    int           `yaml:"mfa_max_attempts" env:"MFA_MAX_ATTEMPTS" env-default:"5"`
	MFAMethod         string        `yaml:"mfa_method" env:"MFA_METHOD" env-default:"email"` // default for principals without one

	ResetTTL        time.Duration `yaml:"reset_ttl" env:"RESET_TTL" env-default:"15m"`
	VerifyTTL       time.Duration `yaml:"verify_ttl" env:"VERIFY_TTL" env-default:"60m"`
	CodeDigest      string        `yaml:"code_digest" env:"CODE_DIGEST" env-default:"sha256"` // sha256, argon2
	PepperFile      string        `yaml:"pepper_file" env:"PEPPER_FILE" env-default:"pepper"`
	FrontendBaseURL string        `yaml:"frontend_base_url" env:"FRONTEND_BASE_URL" env-default:"http://localhost:3000"`

	HousekeepingInterval time.Duration `yaml:"housekeeping_interval" env:"HOUSEKEEPING_INTERVAL" env-default:"24h"`
	RetentionGrace       time.Duration `yaml:"retention_grace" env:"RETENTION_GRACE" env-default:"0s"`

	SMTPAddr              string `yaml:"smtp_addr" env:"SMTP_ADDR"` // Empty means log delivery
	SMTPUser              string `yaml:"smtp_user" env:"SMTP_USER"`
	SMTPPassword          string `yaml:"smtp_password" env:"SMTP_PASSWORD"`
	SMTPFrom              string `yaml:"smtp_from" env:"SMTP_FROM"`
	DeliveryWorkers       int    `yaml:"delivery_workers" env:"DELIVERY_WORKERS" env-default:"2"`
	DeliveryRatePerMinute int    `yaml:"delivery_rate_per_minute" env:"DELIVERY_RATE_PER_MINUTE" env-default:"5"`
}

// LoadConfig reads CONFIG_PATH when set, otherwise the environment only.
func LoadConfig() (Config, error) {
	var cfg Config

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		// ReadConfig overlays the environment after the file
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the application cannot start with.
func (c Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case "sqlite":
		if c.DatabaseFile == "" {
			errs = append(errs, errors.New("DATABASE_FILE is required for the sqlite driver"))
		}
	case "postgres":
		if c.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORE_DRIVER %q (supported: sqlite, postgres)", c.StoreDriver))
	}

	switch c.TokenAlgorithm {
	case jwtx.AlgorithmHS256:
		if c.TokenSecret != "" && len(c.TokenSecret) < 32 {
			errs = append(errs, errors.New("TOKEN_SECRET must be at least 32 bytes"))
		}
	case jwtx.AlgorithmEdDSA:
	default:
		errs = append(errs, fmt.Errorf("unsupported TOKEN_ALGORITHM %q (supported: HS256, EdDSA)", c.TokenAlgorithm))
	}

	switch service.DigestMode(c.CodeDigest) {
	case service.DigestSHA256, service.DigestArgon2:
	default:
		errs = append(errs, fmt.Errorf("unsupported CODE_DIGEST %q (supported: sha256, argon2)", c.CodeDigest))
	}

	if !domain.MFAMethod(c.MFAMethod).Valid() {
		errs = append(errs, fmt.Errorf("unsupported MFA_METHOD %q (supported: email, sms, totp)", c.MFAMethod))
	}
	if c.MFAMaxAttempts < 1 {
		errs = append(errs, errors.New("MFA_MAX_ATTEMPTS must be at least 1"))
	}
	if c.RefreshMaxActive < 1 {
		errs = append(errs, errors.New("REFRESH_MAX_ACTIVE must be at least 1"))
	}
	if c.SMTPAddr != "" && c.SMTPFrom == "" {
		errs = append(errs, errors.New("SMTP_FROM is required when SMTP_ADDR is set"))
	}

	for name, d := range map[string]time.Duration{
		"ACCESS_TTL":     c.AccessTTL,
		"ONBOARDING_TTL": c.OnboardingTTL,
		"REFRESH_TTL":    c.RefreshTTL,
		"MFA_LOGIN_TTL":  c.MFALoginTTL,
		"RESET_TTL":      c.ResetTTL,
		"VERIFY_TTL":     c.VerifyTTL,
		"STORE_TIMEOUT":  c.StoreTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.RetentionGrace < 0 {
		errs = append(errs, errors.New("RETENTION_GRACE must not be negative"))
	}

	return errors.Join(errs...)
}

// Policies applies the configured TTLs and attempt limits to the built-in
// policy table.
func (c Config) Policies() (domain.Policies, error) {
	p := domain.DefaultPolicies()

	set := func(purpose domain.Purpose, ttl time.Duration, maxAttempts int) {
		pol := p[purpose]
		pol.TTL = ttl
		if maxAttempts > 0 {
			pol.MaxAttempts = maxAttempts
		}
		p[purpose] = pol
	}
	set(domain.PurposeRefresh, c.RefreshTTL, 0)
	set(domain.PurposeLoginMFA, c.MFALoginTTL, c.MFAMaxAttempts)
	set(domain.PurposePasswordReset, c.ResetTTL, c.MFAMaxAttempts)
	set(domain.PurposeEmailVerify, c.VerifyTTL, 0)

	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid credential policy: %w", err)
	}
	return p, nil
}

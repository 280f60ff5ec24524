package service

import (
	"errors"
	"fmt"
)

// Domain outcomes. The strings double as stable API error codes.
var (
	ErrInvalidSecret   = errors.New("invalid_secret")
	ErrExpired         = errors.New("expired")
	ErrAlreadyUsed     = errors.New("already_used")
	ErrTooManyAttempts = errors.New("too_many_attempts")
	ErrRevoked         = errors.New("revoked")
	ErrNotFound        = errors.New("not_found")

	// Internal only, never returned to callers.
	ErrCooldownActive = errors.New("cooldown_active")
	ErrCapExceeded    = errors.New("cap_exceeded")

	ErrStoreUnavailable = errors.New("store_unavailable")

	ErrInvalidRefresh     = errors.New("invalid_refresh_token")
	ErrInvalidCredentials = errors.New("invalid_credentials")
	ErrInvalidSignature   = errors.New("invalid_signature")
	ErrWeakPassword       = errors.New("weak_password")

	ErrMFAAlreadyEnabled = errors.New("mfa_already_enabled")
	ErrMFANotEnabled     = errors.New("mfa_not_enabled")
)

var domainErrors = []error{
	ErrInvalidSecret, ErrExpired, ErrAlreadyUsed, ErrTooManyAttempts, ErrRevoked, ErrNotFound,
	ErrInvalidRefresh, ErrInvalidCredentials, ErrInvalidSignature, ErrWeakPassword,
	ErrMFAAlreadyEnabled, ErrMFANotEnabled, ErrStoreUnavailable,
}

// IsDomainError reports whether err is an expected outcome rather than an
// infrastructure failure.
func IsDomainError(err error) bool {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// unavailable wraps an infrastructure failure. Domain errors pass through.
func unavailable(op string, err error) error {
	if err == nil || IsDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: failed to %s: %v", ErrStoreUnavailable, op, err)
}

// reason is the metrics label for a rejection.
func reason(err error) string {
	for _, target := range domainErrors {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	return "error"
}

package domain

import "time"

// Purpose tags a credential record and selects its policy.
type Purpose string

const (
	PurposeRefresh       Purpose = "REFRESH"
	PurposeLoginMFA      Purpose = "LOGIN_MFA"
	PurposePasswordReset Purpose = "PASSWORD_RESET"
	PurposeEmailVerify   Purpose = "EMAIL_VERIFY"
	PurposeMFABackup     Purpose = "MFA_BACKUP"
)

func (p Purpose) Valid() bool {
	switch p {
	case PurposeRefresh, PurposeLoginMFA, PurposePasswordReset, PurposeEmailVerify, PurposeMFABackup:
		return true
	}
	return false
}

// State is the lifecycle position of a record. Only the first three are
// persisted; StateExpired is derived from the clock at read time.
type State string

const (
	StateActive   State = "ACTIVE"
	StateConsumed State = "CONSUMED"
	StateRevoked  State = "REVOKED"
	StateExpired  State = "EXPIRED"
)

// CredentialRecord is one ephemeral secret bound to an owner. The raw secret
// is never stored, only its digest.
type CredentialRecord struct {
	ID           string
	OwnerID      string
	Purpose      Purpose
	SecretDigest string
	Attempts     int
	State        State
	CreatedAt    time.Time
	ExpiresAt    time.Time
	LastUsedAt   *time.Time // Stamped by refresh validation (nullable)
	UpdatedAt    time.Time
}

// Status derives the effective state at now. A record is still valid at the
// exact instant of ExpiresAt.
func (r CredentialRecord) Status(now time.Time) State {
	if r.State == StateActive && now.After(r.ExpiresAt) {
		return StateExpired
	}
	return r.State
}

// IsUsable reports whether the record can still be presented.
func (r CredentialRecord) IsUsable(now time.Time) bool {
	return r.Status(now) == StateActive
}

// LockedOut reports whether the attempt budget is spent. A max of zero means
// attempts are not counted.
func (r CredentialRecord) LockedOut(maxAttempts int) bool {
	return maxAttempts > 0 && r.Attempts >= maxAttempts
}

// LastActivity is the recency key used for cap eviction.
func (r CredentialRecord) LastActivity() time.Time {
	if r.LastUsedAt != nil {
		return *r.LastUsedAt
	}
	return r.CreatedAt
}

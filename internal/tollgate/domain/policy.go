package domain

import (
	"fmt"
	"time"
)

// SecretKind selects how a raw secret is generated.
type SecretKind int

const (
	SecretOpaque  SecretKind = iota // random bytes, base64url
	SecretNumeric                   // fixed-width decimal code
)

// Lookup describes how a presented secret finds its record.
type Lookup int

const (
	LookupDigest Lookup = iota // by digest of the raw secret
	LookupID                   // by record id handed out alongside the code
	LookupOwner                // by the owner's latest active record
)

// Policy is the per-purpose rule set.
type Policy struct {
	TTL         time.Duration
	MaxAttempts int  // 0 means failed attempts are not counted
	SingleUse   bool // false only for refresh tokens
	Secret      SecretKind
	SecretBytes int // entropy for opaque secrets
	Digits      int // width for numeric codes
	Lookup      Lookup
}

type Policies map[Purpose]Policy

// DefaultPolicies returns a fresh copy of the built-in policy table.
func DefaultPolicies() Policies {
	return Policies{
		PurposeRefresh: {
			TTL:         14 * 24 * time.Hour,
			Secret:      SecretOpaque,
			SecretBytes: 32,
			Lookup:      LookupDigest,
		},
		PurposeLoginMFA: {
			TTL:         10 * time.Minute,
			MaxAttempts: 5,
			SingleUse:   true,
			Secret:      SecretNumeric,
			Digits:      6,
			Lookup:      LookupID,
		},
		PurposePasswordReset: {
			TTL:         15 * time.Minute,
			MaxAttempts: 5,
			SingleUse:   true,
			Secret:      SecretNumeric,
			Digits:      6,
			Lookup:      LookupOwner,
		},
		PurposeEmailVerify: {
			TTL:         60 * time.Minute,
			SingleUse:   true,
			Secret:      SecretOpaque,
			SecretBytes: 32,
			Lookup:      LookupDigest,
		},
		PurposeMFABackup: {
			TTL:         365 * 24 * time.Hour,
			SingleUse:   true,
			Secret:      SecretOpaque,
			SecretBytes: 16,
			Lookup:      LookupDigest,
		},
	}
}

// For returns the policy for purpose or an error for unknown tags.
func (p Policies) For(purpose Purpose) (Policy, error) {
	pol, ok := p[purpose]
	if !ok {
		return Policy{}, fmt.Errorf("unknown credential purpose %q", purpose)
	}
	return pol, nil
}

// Validate checks that every purpose has a usable policy.
func (p Policies) Validate() error {
	for _, purpose := range []Purpose{
		PurposeRefresh, PurposeLoginMFA, PurposePasswordReset, PurposeEmailVerify, PurposeMFABackup,
	} {
		pol, ok := p[purpose]
		if !ok {
			return fmt.Errorf("missing policy for %s", purpose)
		}
		if pol.TTL <= 0 {
			return fmt.Errorf("policy %s: ttl must be positive", purpose)
		}
		if pol.MaxAttempts < 0 {
			return fmt.Errorf("policy %s: max attempts must not be negative", purpose)
		}
		switch pol.Secret {
		case SecretOpaque:
			if pol.SecretBytes < 16 {
				return fmt.Errorf("policy %s: opaque secrets need at least 128 bits", purpose)
			}
		case SecretNumeric:
			if pol.Digits < 4 || pol.Digits > 18 {
				return fmt.Errorf("policy %s: digits must be between 4 and 18", purpose)
			}
		}
	}
	return nil
}

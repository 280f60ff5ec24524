package domain

import (
	"time"

	"github.com/aussiebroadwan/tollgate/pkg/redact"
)

type MFAMethod string

const (
	MFAMethodEmail MFAMethod = "email"
	MFAMethodSMS   MFAMethod = "sms"
	MFAMethodTOTP  MFAMethod = "totp"
)

func (m MFAMethod) Valid() bool {
	return m == MFAMethodEmail || m == MFAMethodSMS || m == MFAMethodTOTP
}

// Principal is the owner of credentials.
type Principal struct {
	ID            string
	Username      string
	Email         string
	Phone         string
	Roles         []string
	PasswordHash  string // argon2id PHC
	EmailVerified bool
	MFAEnrolled   bool
	MFAMethod     MFAMethod
	TOTPSecret    string // base32, set once enrolment starts
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Destination is where one-time codes are delivered for the principal's
// method. TOTP principals have none.
func (p Principal) Destination() string {
	switch p.MFAMethod {
	case MFAMethodSMS:
		return p.Phone
	case MFAMethodTOTP:
		return ""
	default:
		return p.Email
	}
}

// PrincipalUpdate is a partial update; nil fields are left untouched.
type PrincipalUpdate struct {
	Email         *string
	Phone         *string
	Roles         *[]string
	PasswordHash  *string
	EmailVerified *bool
	MFAEnrolled   *bool
	MFAMethod     *MFAMethod
	TOTPSecret    *string
}

func (u PrincipalUpdate) IsEmpty() bool {
	return u.Email == nil && u.Phone == nil && u.Roles == nil && u.PasswordHash == nil &&
		u.EmailVerified == nil && u.MFAEnrolled == nil && u.MFAMethod == nil && u.TOTPSecret == nil
}

// Apply returns p with the set fields of u written over it.
func (u PrincipalUpdate) Apply(p Principal) Principal {
	if u.Email != nil {
		p.Email = *u.Email
	}
	if u.Phone != nil {
		p.Phone = *u.Phone
	}
	if u.Roles != nil {
		p.Roles = append([]string(nil), (*u.Roles)...)
	}
	if u.PasswordHash != nil {
		p.PasswordHash = *u.PasswordHash
	}
	if u.EmailVerified != nil {
		p.EmailVerified = *u.EmailVerified
	}
	if u.MFAEnrolled != nil {
		p.MFAEnrolled = *u.MFAEnrolled
	}
	if u.MFAMethod != nil {
		p.MFAMethod = *u.MFAMethod
	}
	if u.TOTPSecret != nil {
		p.TOTPSecret = *u.TOTPSecret
	}
	return p
}

func MaskEmail(s string) string { return redact.Email(s) }
func MaskPhone(s string) string { return redact.Phone(s) }

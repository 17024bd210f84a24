package auth

import (
	"strings"
	"time"
)

// AttributeDepartment is the attribute key every account carries.
const AttributeDepartment = "department"

// PendingVerification tracks an outstanding email-verification token. Only
// the one-way hash of the token is stored; the raw value travels in the
// verification message and is never persisted.
type PendingVerification struct {
	TokenHash string    `json:"token_hash"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the pending token is past its expiry.
func (p *PendingVerification) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}

// MFAEnrollment holds a TOTP secret. The secret is unusable for login until
// the owner has confirmed one code and Confirmed is set.
type MFAEnrollment struct {
	Secret    string `json:"secret"`
	Confirmed bool   `json:"confirmed"`
}

// Account is a user record. Roles are referenced by name and resolved against
// the RoleStore at evaluation time.
type Account struct {
	ID             string            `json:"id"`
	Username       string            `json:"username"`
	Email          string            `json:"email"`
	PasswordHash   string            `json:"-"`
	Roles          []string          `json:"roles"`
	Attributes     map[string]string `json:"attributes"`
	ClearanceLevel int               `json:"clearance_level"`
	Verified       bool              `json:"verified"`
	Locked         bool              `json:"locked"`
	LoginAttempts  int               `json:"login_attempts"`

	MFA                 *MFAEnrollment       `json:"-"`
	RefreshToken        string               `json:"-"`
	PendingVerification *PendingVerification `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Department returns the account's department attribute.
func (a *Account) Department() string {
	if a.Attributes == nil {
		return ""
	}
	return a.Attributes[AttributeDepartment]
}

// MFAEnabled reports whether a confirmed TOTP enrollment exists.
func (a *Account) MFAEnabled() bool {
	return a.MFA != nil && a.MFA.Confirmed
}

// HasRole reports whether the account references the named role.
func (a *Account) HasRole(name string) bool {
	name = strings.TrimSpace(strings.ToLower(name))
	for _, r := range a.Roles {
		if r == name {
			return true
		}
	}
	return false
}

// Role groups permission strings under a unique name.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NormalizeRoleNames lower-cases, trims and deduplicates role names while
// preserving order.
func NormalizeRoleNames(names []string) []string {
	if len(names) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(names))
	var out []string
	for _, n := range names {
		n = strings.TrimSpace(strings.ToLower(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

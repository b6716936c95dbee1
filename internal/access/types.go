package access

import (
	"time"

	"nexum/pkg/money"
)

// Permission names a guarded capability. Permissions are grouped into
// roles; every write into the core is gated by one of these.
type Permission string

// Permissions.
const (
	PermRoleManage Permission = "role.manage"
	PermUserManage Permission = "user.manage"

	PermAccountOpen   Permission = "account.open"
	PermAccountClose  Permission = "account.close"
	PermAccountFreeze Permission = "account.freeze"

	PermCustomerManage Permission = "customer.manage"
	PermCustomerView   Permission = "customer.view"

	PermTransactionCreate  Permission = "transaction.create"
	PermTransactionProcess Permission = "transaction.process"
	PermTransactionReverse Permission = "transaction.reverse"
	PermTransactionApprove Permission = "transaction.approve"

	PermLoanOriginate Permission = "loan.originate"
	PermLoanManage    Permission = "loan.manage"

	PermComplianceManage Permission = "compliance.manage"
	PermComplianceView   Permission = "compliance.view"

	PermCollectionManage Permission = "collection.manage"

	PermAuditView  Permission = "audit.view"
	PermReportView Permission = "report.view"
)

// Role bundles permissions with optional amount limits.
// System roles are seeded at first startup, immutable, and undeletable.
type Role struct {
	ID          string       `msgpack:"id"`
	Name        string       `msgpack:"name"`
	Description string       `msgpack:"description"`
	Permissions []Permission `msgpack:"permissions"`
	IsSystem    bool         `msgpack:"is_system"`

	// MaxTransactionAmount caps transactions a holder may initiate.
	// Nil means unlimited.
	MaxTransactionAmount *money.Money `msgpack:"max_transaction_amount,omitempty"`

	// MaxApprovalAmount caps transactions a holder may approve.
	// Nil means unlimited.
	MaxApprovalAmount *money.Money `msgpack:"max_approval_amount,omitempty"`

	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// Has reports whether the role grants a permission.
func (r *Role) Has(p Permission) bool {
	for _, have := range r.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// User is an operator of the system.
type User struct {
	ID       string `msgpack:"id"`
	Username string `msgpack:"username"` // unique
	Email    string `msgpack:"email"`
	FullName string `msgpack:"full_name"`

	// RoleIDs is ordered; the first role is the user's primary role.
	RoleIDs []string `msgpack:"role_ids"`

	IsActive            bool       `msgpack:"is_active"`
	IsLocked            bool       `msgpack:"is_locked"`
	FailedLoginAttempts int        `msgpack:"failed_login_attempts"`
	LastLogin           *time.Time `msgpack:"last_login,omitempty"`

	// PasswordHash is the encoded hash (argon2id, or a legacy scheme that
	// gets transparently re-hashed on the next successful verification).
	PasswordHash string `msgpack:"password_hash,omitempty"`

	// PasswordSalt is retained for legacy rows whose scheme kept the salt
	// outside the encoded hash. New hashes embed the salt.
	PasswordSalt string `msgpack:"password_salt,omitempty"`

	// PasswordHistory holds previous encoded hashes, newest first,
	// bounded by the policy's history size.
	PasswordHistory []string `msgpack:"password_history,omitempty"`

	PasswordChangedAt     time.Time `msgpack:"password_changed_at"`
	PasswordResetRequired bool      `msgpack:"password_reset_required"`

	MFASecret string `msgpack:"mfa_secret,omitempty"`
	BranchID  string `msgpack:"branch_id,omitempty"`

	CreatedAt time.Time `msgpack:"created_at"`
	UpdatedAt time.Time `msgpack:"updated_at"`
}

// Authenticable reports whether the user may authenticate at all.
func (u *User) Authenticable() bool {
	return u.IsActive && !u.IsLocked
}

// Session is a server-side authentication session. Validity is checked on
// every call: active, unexpired, and the owning user still authenticable.
type Session struct {
	ID        string    `msgpack:"id"`
	UserID    string    `msgpack:"user_id"`
	CreatedAt time.Time `msgpack:"created_at"`
	ExpiresAt time.Time `msgpack:"expires_at"`
	IsActive  bool      `msgpack:"is_active"`
	IPAddress string    `msgpack:"ip_address,omitempty"`
	UserAgent string    `msgpack:"user_agent,omitempty"`
}

// Valid reports whether the session itself is live at the given time.
// The owning user's state is checked separately.
func (s *Session) Valid(now time.Time) bool {
	return s.IsActive && now.Before(s.ExpiresAt)
}

// PasswordPolicy is the configurable password and lockout policy.
type PasswordPolicy struct {
	MinLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool

	// MaxAge forces a reset after this duration. Zero disables aging.
	MaxAge time.Duration

	// HistorySize is how many previous hashes a new password is checked
	// against.
	HistorySize int

	// MaxFailedAttempts locks the user when reached.
	MaxFailedAttempts int

	// LockoutDuration is informational for operators; unlock is explicit.
	LockoutDuration time.Duration

	// SessionTTL is the absolute session lifetime.
	SessionTTL time.Duration
}

// DefaultPasswordPolicy returns the production default policy.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength:         12,
		RequireUpper:      true,
		RequireLower:      true,
		RequireDigit:      true,
		RequireSpecial:    true,
		MaxAge:            90 * 24 * time.Hour,
		HistorySize:       5,
		MaxFailedAttempts: 5,
		LockoutDuration:   30 * time.Minute,
		SessionTTL:        8 * time.Hour,
	}
}

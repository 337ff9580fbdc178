package auth

import "time"

// User statuses.
const (
	UserStatusUnverified = "unverified"
	UserStatusActive     = "active"
	UserStatusSuspended  = "suspended"
)

// User is an account that can authenticate against the core.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserUpdate carries optional user field changes.
type UserUpdate struct {
	Email        *string
	PasswordHash *string
	Status       *string
}

// Role groups permissions.
type Role struct {
	ID          string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Permission is an action on a module, e.g. update on user.
type Permission struct {
	ID        string
	Action    string
	Module    string
	CreatedAt time.Time
}

// Key returns the permission in module.action form.
func (p Permission) Key() string {
	return PermissionKey(p.Module, p.Action)
}

// PermissionKey joins module and action.
func PermissionKey(module, action string) string {
	return module + "." + action
}

// UserRole assigns a role to a user.
type UserRole struct {
	ID        string
	RoleID    string
	UserID    string
	CreatedAt time.Time
}

// RolePermission links a role to a permission. Only rows with
// CanDoTheAction set grant the permission.
type RolePermission struct {
	ID             string
	RoleID         string
	PermissionID   string
	CanDoTheAction bool
	CreatedAt      time.Time
}

// TokenType distinguishes access from refresh credentials.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access_token"
	TokenTypeRefresh TokenType = "refresh_token"
)

// AuthToken is a ledger entry for an issued bearer token. The ledger decides
// liveness; the signature only proves authenticity.
type AuthToken struct {
	ID        string
	SessionID string
	UserID    string
	Type      TokenType
	TokenHash string
	IssuedAt  time.Time
	ExpiresAt time.Time
	RevokedAt *time.Time
}

// Revoked reports whether the entry was revoked.
func (t *AuthToken) Revoked() bool {
	return t.RevokedAt != nil
}

// VerificationType is the purpose an OTP was issued for.
type VerificationType string

const (
	VerificationUser           VerificationType = "user_verification"
	VerificationForgotPassword VerificationType = "forgot_password"
	VerificationEmailChange    VerificationType = "email_change"
)

// Verification statuses. Transitions are one way: unverified to used or expired.
const (
	VerificationStatusUnverified = "unverified"
	VerificationStatusUsed       = "used"
	VerificationStatusExpired    = "expired"
)

// VerificationToken is a persisted OTP record. Only the hash of the code is stored.
type VerificationToken struct {
	ID        string
	Email     string
	UserID    string
	Type      VerificationType
	TokenHash string
	Status    string
	ExpiresAt time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Active reports whether the record can still be consumed at now.
func (v *VerificationToken) Active(now time.Time) bool {
	return v.Status == VerificationStatusUnverified && now.Before(v.ExpiresAt)
}

// TokenPair represents access and refresh tokens along with their expirations.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Response messages.
const (
	MessageSuccess             = "SUCCESS"
	MessageLoggedOut           = "LOGGED_OUT"
	MessageOTPIsValid          = "OTP_IS_VALID"
	MessageOTPIsNotValid       = "OTP_IS_NOT_VALID"
	MessagePasswordIsCorrect   = "PASSWORD_IS_CORRECT"
	MessagePasswordIsIncorrect = "PASSWORD_IS_INCORRECT"
)

// Result is the {success, message} envelope returned by mutations that do
// not return a resource.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func succeeded(message string) Result { return Result{Success: true, Message: message} }

func failed(message string) Result { return Result{Success: false, Message: message} }

// Profile is the current-user view.
type Profile struct {
	User        *User
	Roles       []string
	TopRole     string
	Permissions []string
}

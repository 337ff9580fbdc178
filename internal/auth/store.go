package auth

import (
	"context"
	"time"
)

// Store runs units of work against the persistence layer. Every public
// operation of the core executes inside exactly one WithinTx call; fn's
// writes commit together or not at all.
type Store interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Ping(ctx context.Context) error
}

// Tx exposes the record stores bound to one transaction.
type Tx interface {
	Users() UserStore
	Roles() RoleStore
	Permissions() PermissionStore
	RoleUsers() RoleUserStore
	RolePermissions() RolePermissionStore
	AuthTokens() AuthTokenStore
	VerificationTokens() VerificationTokenStore
}

// UserStore manages users. Emails are matched case-insensitively.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	Update(ctx context.Context, id string, upd UserUpdate) (*User, error)
}

// RoleStore manages the role catalogue.
type RoleStore interface {
	Ensure(ctx context.Context, roles []Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
}

// PermissionStore manages the permission catalogue.
type PermissionStore interface {
	Ensure(ctx context.Context, perms []Permission) error
	Find(ctx context.Context, id string) (*Permission, error)
	List(ctx context.Context) ([]Permission, error)
}

// RoleUserStore manages role assignments.
type RoleUserStore interface {
	Create(ctx context.Context, ru *UserRole) error
	Delete(ctx context.Context, userID, roleID string) error
	RolesForUser(ctx context.Context, userID string) ([]Role, error)
}

// RolePermissionStore manages role grants.
type RolePermissionStore interface {
	// Upsert inserts the grant or updates CanDoTheAction of an existing one.
	Upsert(ctx context.Context, rp *RolePermission) error
	// Ensure inserts the grants that do not exist yet and leaves existing
	// rows untouched.
	Ensure(ctx context.Context, grants []RolePermission) error
	Delete(ctx context.Context, roleID, permissionID string) error
	// PermissionsForRoles returns the distinct permissions granted with
	// CanDoTheAction set to any of the roles.
	PermissionsForRoles(ctx context.Context, roleIDs []string) ([]Permission, error)
}

// AuthTokenStore is the ledger of issued bearer tokens.
type AuthTokenStore interface {
	Create(ctx context.Context, tok *AuthToken) error
	Find(ctx context.Context, id string) (*AuthToken, error)
	RevokeSession(ctx context.Context, sessionID string, at time.Time) error
	RevokeByUser(ctx context.Context, userID string, at time.Time) error
}

// VerificationTokenStore persists OTP records.
type VerificationTokenStore interface {
	// Create fails with ErrConflict when an unverified record already exists
	// for the (email, type) pair.
	Create(ctx context.Context, vt *VerificationToken) error
	// FindActive returns the unverified, unexpired record with the given code hash.
	FindActive(ctx context.Context, email string, typ VerificationType, tokenHash string, now time.Time) (*VerificationToken, error)
	// LatestActiveForUser returns the newest unverified, unexpired record issued for userID.
	LatestActiveForUser(ctx context.Context, userID string, typ VerificationType, now time.Time) (*VerificationToken, error)
	// Transition moves an unverified record to status. ErrNotFound when the
	// record is missing or no longer unverified.
	Transition(ctx context.Context, id, status string, at time.Time) error
	// ExpireActive expires every unverified record of the pair.
	ExpireActive(ctx context.Context, email string, typ VerificationType, at time.Time) (int64, error)
}

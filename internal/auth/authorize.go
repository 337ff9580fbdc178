package auth

import (
	"context"
	"crypto/subtle"
	"sort"
)

// Principal represents a user with resolved roles and permissions. The zero
// value is the anonymous principal.
type Principal struct {
	User        *User
	Roles       []string
	Permissions map[string]struct{}
	TokenID     string
	SessionID   string
}

// NewPrincipal constructs a principal with preloaded grants.
func NewPrincipal(user *User, grants Grants) Principal {
	set := make(map[string]struct{}, len(grants.Permissions))
	for _, p := range grants.Permissions {
		set[p.Key()] = struct{}{}
	}
	return Principal{User: user, Roles: grants.RoleNames(), Permissions: set}
}

// Authenticated reports whether the principal carries a user.
func (p Principal) Authenticated() bool {
	return p.User != nil && p.User.ID != ""
}

// HasRole reports whether the principal holds role.
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// HasPermission reports whether the principal can execute action identified by key.
func (p Principal) HasPermission(key string) bool {
	_, ok := p.Permissions[key]
	return ok
}

// Grants is the resolved authority of a user.
type Grants struct {
	Roles       []Role
	Permissions []Permission
}

// RoleNames returns role names in store order.
func (g Grants) RoleNames() []string {
	names := make([]string, 0, len(g.Roles))
	for _, r := range g.Roles {
		names = append(names, r.Name)
	}
	return names
}

// PermissionKeys returns sorted module.action keys.
func (g Grants) PermissionKeys() []string {
	keys := make([]string, 0, len(g.Permissions))
	for _, p := range g.Permissions {
		keys = append(keys, p.Key())
	}
	sort.Strings(keys)
	return keys
}

// Requirement is the declarative check attached to an operation.
type Requirement struct {
	Roles      []string `json:"roles"`
	Permission string   `json:"permission,omitempty"`
}

// Public returns the requirement of operations open to anonymous callers.
func Public() Requirement {
	return Requirement{Roles: []string{RolePublic}}
}

// IsPublic reports whether the requirement carries the public marker.
func (r Requirement) IsPublic() bool {
	for _, role := range r.Roles {
		if role == RolePublic {
			return true
		}
	}
	return false
}

// Authorizer resolves bearer tokens into principals and enforces operation
// requirements.
type Authorizer struct {
	store      Store
	codec      *TokenCodec
	precedence []string
	recorder   Recorder
}

// NewAuthorizer constructs the authorization engine.
func NewAuthorizer(store Store, codec *TokenCodec, opts ...Option) (*Authorizer, error) {
	s, err := newSettings(opts)
	if err != nil {
		return nil, err
	}
	return &Authorizer{
		store:      store,
		codec:      codec,
		precedence: s.precedence,
		recorder:   s.recorder,
	}, nil
}

// Authenticate resolves an Authorization header value into a principal. The
// token must verify and its ledger entry must be live; callers that want
// soft-fail behaviour fall back to the anonymous principal on error.
func (a *Authorizer) Authenticate(ctx context.Context, header string) (Principal, error) {
	token := ExtractToken(header)
	if token == "" {
		return Principal{}, ErrUnauthorized
	}
	claims, err := a.codec.Verify(token, TokenTypeAccess)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}
	var principal Principal
	err = a.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		entry, err := tx.AuthTokens().Find(ctx, claims.ID)
		if err != nil {
			return translate(err, ErrInvalidToken, nil)
		}
		if !liveEntry(entry, claims, TokenTypeAccess, token) {
			return ErrInvalidToken
		}
		user, err := tx.Users().Find(ctx, claims.Subject)
		if err != nil {
			return translate(err, ErrInvalidToken, nil)
		}
		grants, err := resolveGrants(ctx, tx, user.ID)
		if err != nil {
			return err
		}
		principal = NewPrincipal(user, grants)
		principal.TokenID = entry.ID
		principal.SessionID = entry.SessionID
		return nil
	})
	if err != nil {
		return Principal{}, err
	}
	return principal, nil
}

// ResolvePermissions joins the user's roles to their granted permissions.
func (a *Authorizer) ResolvePermissions(ctx context.Context, userID string) (Grants, error) {
	var grants Grants
	err := a.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		grants, err = resolveGrants(ctx, tx, userID)
		return err
	})
	return grants, err
}

// AuthorizeOperation enforces req against p. Role mismatch and missing
// authentication both yield UNAUTHORIZED; a missing permission yields
// PERMISSION_DENIED.
func (a *Authorizer) AuthorizeOperation(p Principal, req Requirement) error {
	if req.IsPublic() {
		return nil
	}
	if !p.Authenticated() {
		a.recorder.Denied(CodeUnauthorized)
		return ErrUnauthorized
	}
	allowed := false
	for _, role := range req.Roles {
		if p.HasRole(role) {
			allowed = true
			break
		}
	}
	if !allowed {
		a.recorder.Denied(CodeUnauthorized)
		return ErrUnauthorized
	}
	if req.Permission != "" && !p.HasPermission(req.Permission) {
		a.recorder.Denied(CodePermissionDenied)
		return ErrPermissionDenied
	}
	return nil
}

// TopRole picks the highest-precedence role held.
func (a *Authorizer) TopRole(roles []string) string {
	return TopRole(roles, a.precedence)
}

// TopRole returns the first entry of precedence present in roles, or "".
func TopRole(roles, precedence []string) string {
	held := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		held[r] = struct{}{}
	}
	for _, candidate := range precedence {
		if _, ok := held[candidate]; ok {
			return candidate
		}
	}
	return ""
}

func resolveGrants(ctx context.Context, tx Tx, userID string) (Grants, error) {
	roles, err := tx.RoleUsers().RolesForUser(ctx, userID)
	if err != nil {
		return Grants{}, Internal(err)
	}
	if len(roles) == 0 {
		return Grants{}, nil
	}
	roleIDs := make([]string, 0, len(roles))
	for _, r := range roles {
		roleIDs = append(roleIDs, r.ID)
	}
	perms, err := tx.RolePermissions().PermissionsForRoles(ctx, roleIDs)
	if err != nil {
		return Grants{}, Internal(err)
	}
	return Grants{Roles: roles, Permissions: perms}, nil
}

func liveEntry(entry *AuthToken, claims *Claims, typ TokenType, raw string) bool {
	if entry == nil || entry.Revoked() || entry.Type != typ || entry.UserID != claims.Subject {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(entry.TokenHash), []byte(HashToken(raw))) == 1
}

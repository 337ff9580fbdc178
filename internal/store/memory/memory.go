// Package memory provides a thread-safe in-memory auth.Store suitable for
// tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/ids"
)

type state struct {
	users           map[string]auth.User
	roles           map[string]auth.Role
	permissions     map[string]auth.Permission
	roleUsers       map[string]auth.UserRole
	rolePermissions map[string]auth.RolePermission
	authTokens      map[string]auth.AuthToken
	verifications   map[string]auth.VerificationToken
}

func newState() *state {
	return &state{
		users:           make(map[string]auth.User),
		roles:           make(map[string]auth.Role),
		permissions:     make(map[string]auth.Permission),
		roleUsers:       make(map[string]auth.UserRole),
		rolePermissions: make(map[string]auth.RolePermission),
		authTokens:      make(map[string]auth.AuthToken),
		verifications:   make(map[string]auth.VerificationToken),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	for k, v := range s.permissions {
		c.permissions[k] = v
	}
	for k, v := range s.roleUsers {
		c.roleUsers[k] = v
	}
	for k, v := range s.rolePermissions {
		c.rolePermissions[k] = v
	}
	for k, v := range s.authTokens {
		c.authTokens[k] = v
	}
	for k, v := range s.verifications {
		c.verifications[k] = v
	}
	return c
}

// Store serializes transactions behind a mutex. Each transaction works on a
// copy of the data that replaces the committed state only when fn succeeds.
type Store struct {
	mu    sync.Mutex
	data  *state
	clock func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{data: newState(), clock: time.Now}
}

// WithinTx runs fn in a serialized transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx auth.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	work := s.data.clone()
	if err := fn(ctx, &tx{data: work, now: s.clock}); err != nil {
		return err
	}
	s.data = work
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

type tx struct {
	data *state
	now  func() time.Time
}

func (t *tx) Users() auth.UserStore { return userStore{t} }
func (t *tx) Roles() auth.RoleStore { return roleStore{t} }
func (t *tx) Permissions() auth.PermissionStore { return permissionStore{t} }
func (t *tx) RoleUsers() auth.RoleUserStore { return roleUserStore{t} }
func (t *tx) RolePermissions() auth.RolePermissionStore { return rolePermissionStore{t} }
func (t *tx) AuthTokens() auth.AuthTokenStore { return authTokenStore{t} }
func (t *tx) VerificationTokens() auth.VerificationTokenStore { return verificationStore{t} }

// ---------- Users ----------

type userStore struct{ t *tx }

func (s userStore) Create(_ context.Context, u *auth.User) error {
	if u == nil || u.ID == "" {
		return auth.ErrInvalidInput
	}
	for _, existing := range s.t.data.users {
		if strings.EqualFold(existing.Email, u.Email) {
			return auth.ErrConflict
		}
	}
	if _, ok := s.t.data.users[u.ID]; ok {
		return auth.ErrConflict
	}
	s.t.data.users[u.ID] = *u
	return nil
}

func (s userStore) Find(_ context.Context, id string) (*auth.User, error) {
	u, ok := s.t.data.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &u, nil
}

func (s userStore) FindByEmail(_ context.Context, email string) (*auth.User, error) {
	for _, u := range s.t.data.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s userStore) Update(_ context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	u, ok := s.t.data.users[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	if upd.Email != nil {
		for otherID, other := range s.t.data.users {
			if otherID != id && strings.EqualFold(other.Email, *upd.Email) {
				return nil, auth.ErrConflict
			}
		}
		u.Email = *upd.Email
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	u.UpdatedAt = s.t.now().UTC()
	s.t.data.users[id] = u
	return &u, nil
}

// ---------- Roles ----------

type roleStore struct{ t *tx }

func (s roleStore) Ensure(_ context.Context, roles []auth.Role) error {
	now := s.t.now().UTC()
	for _, r := range roles {
		if _, err := s.byName(r.Name); err == nil {
			continue
		}
		if r.ID == "" {
			r.ID = ids.New()
		}
		r.CreatedAt, r.UpdatedAt = now, now
		s.t.data.roles[r.ID] = r
	}
	return nil
}

func (s roleStore) Find(_ context.Context, id string) (*auth.Role, error) {
	r, ok := s.t.data.roles[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &r, nil
}

func (s roleStore) FindByName(_ context.Context, name string) (*auth.Role, error) {
	return s.byName(name)
}

func (s roleStore) byName(name string) (*auth.Role, error) {
	for _, r := range s.t.data.roles {
		if r.Name == name {
			return &r, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s roleStore) List(context.Context) ([]auth.Role, error) {
	out := make([]auth.Role, 0, len(s.t.data.roles))
	for _, r := range s.t.data.roles {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// ---------- Permissions ----------

type permissionStore struct{ t *tx }

func (s permissionStore) Ensure(_ context.Context, perms []auth.Permission) error {
	now := s.t.now().UTC()
	for _, p := range perms {
		exists := false
		for _, existing := range s.t.data.permissions {
			if existing.Key() == p.Key() {
				exists = true
				break
			}
		}
		if exists {
			continue
		}
		if p.ID == "" {
			p.ID = ids.New()
		}
		p.CreatedAt = now
		s.t.data.permissions[p.ID] = p
	}
	return nil
}

func (s permissionStore) Find(_ context.Context, id string) (*auth.Permission, error) {
	p, ok := s.t.data.permissions[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &p, nil
}

func (s permissionStore) List(context.Context) ([]auth.Permission, error) {
	out := make([]auth.Permission, 0, len(s.t.data.permissions))
	for _, p := range s.t.data.permissions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// ---------- Role assignments ----------

type roleUserStore struct{ t *tx }

func (s roleUserStore) Create(_ context.Context, ru *auth.UserRole) error {
	for _, existing := range s.t.data.roleUsers {
		if existing.UserID == ru.UserID && existing.RoleID == ru.RoleID {
			return auth.ErrConflict
		}
	}
	s.t.data.roleUsers[ru.ID] = *ru
	return nil
}

func (s roleUserStore) Delete(_ context.Context, userID, roleID string) error {
	for id, existing := range s.t.data.roleUsers {
		if existing.UserID == userID && existing.RoleID == roleID {
			delete(s.t.data.roleUsers, id)
			return nil
		}
	}
	return auth.ErrNotFound
}

func (s roleUserStore) RolesForUser(_ context.Context, userID string) ([]auth.Role, error) {
	var assignments []auth.UserRole
	for _, ru := range s.t.data.roleUsers {
		if ru.UserID == userID {
			assignments = append(assignments, ru)
		}
	}
	sort.Slice(assignments, func(i, j int) bool { return assignments[i].ID < assignments[j].ID })
	out := make([]auth.Role, 0, len(assignments))
	for _, ru := range assignments {
		if r, ok := s.t.data.roles[ru.RoleID]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// ---------- Role grants ----------

type rolePermissionStore struct{ t *tx }

func (s rolePermissionStore) find(roleID, permissionID string) (string, bool) {
	for id, rp := range s.t.data.rolePermissions {
		if rp.RoleID == roleID && rp.PermissionID == permissionID {
			return id, true
		}
	}
	return "", false
}

func (s rolePermissionStore) Upsert(_ context.Context, rp *auth.RolePermission) error {
	if id, ok := s.find(rp.RoleID, rp.PermissionID); ok {
		existing := s.t.data.rolePermissions[id]
		existing.CanDoTheAction = rp.CanDoTheAction
		s.t.data.rolePermissions[id] = existing
		*rp = existing
		return nil
	}
	s.t.data.rolePermissions[rp.ID] = *rp
	return nil
}

func (s rolePermissionStore) Ensure(_ context.Context, grants []auth.RolePermission) error {
	for _, g := range grants {
		if _, ok := s.find(g.RoleID, g.PermissionID); ok {
			continue
		}
		if g.ID == "" {
			g.ID = ids.New()
		}
		s.t.data.rolePermissions[g.ID] = g
	}
	return nil
}

func (s rolePermissionStore) Delete(_ context.Context, roleID, permissionID string) error {
	id, ok := s.find(roleID, permissionID)
	if !ok {
		return auth.ErrNotFound
	}
	delete(s.t.data.rolePermissions, id)
	return nil
}

func (s rolePermissionStore) PermissionsForRoles(_ context.Context, roleIDs []string) ([]auth.Permission, error) {
	wanted := make(map[string]struct{}, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = struct{}{}
	}
	seen := make(map[string]struct{})
	var out []auth.Permission
	for _, rp := range s.t.data.rolePermissions {
		if _, ok := wanted[rp.RoleID]; !ok || !rp.CanDoTheAction {
			continue
		}
		if _, dup := seen[rp.PermissionID]; dup {
			continue
		}
		if p, ok := s.t.data.permissions[rp.PermissionID]; ok {
			seen[rp.PermissionID] = struct{}{}
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out, nil
}

// ---------- Token ledger ----------

type authTokenStore struct{ t *tx }

func (s authTokenStore) Create(_ context.Context, tok *auth.AuthToken) error {
	if _, ok := s.t.data.authTokens[tok.ID]; ok {
		return auth.ErrConflict
	}
	s.t.data.authTokens[tok.ID] = *tok
	return nil
}

func (s authTokenStore) Find(_ context.Context, id string) (*auth.AuthToken, error) {
	tok, ok := s.t.data.authTokens[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &tok, nil
}

func (s authTokenStore) RevokeSession(_ context.Context, sessionID string, at time.Time) error {
	s.revokeWhere(func(tok auth.AuthToken) bool { return tok.SessionID == sessionID }, at)
	return nil
}

func (s authTokenStore) RevokeByUser(_ context.Context, userID string, at time.Time) error {
	s.revokeWhere(func(tok auth.AuthToken) bool { return tok.UserID == userID }, at)
	return nil
}

func (s authTokenStore) revokeWhere(match func(auth.AuthToken) bool, at time.Time) {
	for id, tok := range s.t.data.authTokens {
		if tok.RevokedAt != nil || !match(tok) {
			continue
		}
		revokedAt := at
		tok.RevokedAt = &revokedAt
		s.t.data.authTokens[id] = tok
	}
}

// ---------- Verification codes ----------

type verificationStore struct{ t *tx }

func (s verificationStore) Create(_ context.Context, vt *auth.VerificationToken) error {
	for _, existing := range s.t.data.verifications {
		if existing.Status == auth.VerificationStatusUnverified &&
			existing.Type == vt.Type && strings.EqualFold(existing.Email, vt.Email) {
			return auth.ErrConflict
		}
	}
	s.t.data.verifications[vt.ID] = *vt
	return nil
}

func (s verificationStore) FindActive(_ context.Context, email string, typ auth.VerificationType, tokenHash string, now time.Time) (*auth.VerificationToken, error) {
	for _, vt := range s.t.data.verifications {
		if vt.Type == typ && vt.TokenHash == tokenHash && strings.EqualFold(vt.Email, email) && vt.Active(now) {
			return &vt, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (s verificationStore) LatestActiveForUser(_ context.Context, userID string, typ auth.VerificationType, now time.Time) (*auth.VerificationToken, error) {
	var latest *auth.VerificationToken
	for _, vt := range s.t.data.verifications {
		if vt.UserID != userID || vt.Type != typ || !vt.Active(now) {
			continue
		}
		if latest == nil || vt.CreatedAt.After(latest.CreatedAt) {
			latest = &vt
		}
	}
	if latest == nil {
		return nil, auth.ErrNotFound
	}
	return latest, nil
}

func (s verificationStore) Transition(_ context.Context, id, status string, at time.Time) error {
	vt, ok := s.t.data.verifications[id]
	if !ok || vt.Status != auth.VerificationStatusUnverified {
		return auth.ErrNotFound
	}
	vt.Status = status
	vt.UpdatedAt = at
	s.t.data.verifications[id] = vt
	return nil
}

func (s verificationStore) ExpireActive(_ context.Context, email string, typ auth.VerificationType, at time.Time) (int64, error) {
	var n int64
	for id, vt := range s.t.data.verifications {
		if vt.Status != auth.VerificationStatusUnverified || vt.Type != typ || !strings.EqualFold(vt.Email, email) {
			continue
		}
		vt.Status = auth.VerificationStatusExpired
		vt.UpdatedAt = at
		s.t.data.verifications[id] = vt
		n++
	}
	return n, nil
}

package auth

import (
	"context"
	"errors"
	"strings"

	"gatekeep.org/internal/ids"
)

// AssignRole gives userID the role roleID.
func (s *Service) AssignRole(ctx context.Context, userID, roleID string) (*UserRole, error) {
	const op = "assign_role"
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return nil, s.finish(ctx, op, ErrInvalidInput)
	}
	var assignment *UserRole
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Users().Find(ctx, userID); err != nil {
			return translate(err, ErrUserDoesNotExist, nil)
		}
		if _, err := tx.Roles().Find(ctx, roleID); err != nil {
			return translate(err, ErrRoleNotFound, nil)
		}
		ru := &UserRole{ID: ids.New(), RoleID: roleID, UserID: userID, CreatedAt: s.now().UTC()}
		if err := tx.RoleUsers().Create(ctx, ru); err != nil {
			return translate(err, nil, ErrRoleUserExists)
		}
		assignment = ru
		return nil
	})
	if err != nil {
		return nil, s.finish(ctx, op, err)
	}
	return assignment, s.finish(ctx, op, nil)
}

// RevokeRole removes a role assignment.
func (s *Service) RevokeRole(ctx context.Context, userID, roleID string) (Result, error) {
	const op = "revoke_role"
	userID = strings.TrimSpace(userID)
	roleID = strings.TrimSpace(roleID)
	if userID == "" || roleID == "" {
		return Result{}, s.finish(ctx, op, ErrInvalidInput)
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return translate(tx.RoleUsers().Delete(ctx, userID, roleID), ErrRoleUserNotFound, nil)
	})
	if err != nil {
		return Result{}, s.finish(ctx, op, err)
	}
	return succeeded(MessageSuccess), s.finish(ctx, op, nil)
}

// GrantPermission sets the grant of permissionID to roleID.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID string, allowed bool) (*RolePermission, error) {
	const op = "grant_permission"
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return nil, s.finish(ctx, op, ErrInvalidInput)
	}
	var grant *RolePermission
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Roles().Find(ctx, roleID); err != nil {
			return translate(err, ErrRoleNotFound, nil)
		}
		if _, err := tx.Permissions().Find(ctx, permissionID); err != nil {
			return translate(err, ErrPermissionNotFound, nil)
		}
		rp := &RolePermission{
			ID:             ids.New(),
			RoleID:         roleID,
			PermissionID:   permissionID,
			CanDoTheAction: allowed,
			CreatedAt:      s.now().UTC(),
		}
		if err := tx.RolePermissions().Upsert(ctx, rp); err != nil {
			return Internal(err)
		}
		grant = rp
		return nil
	})
	if err != nil {
		return nil, s.finish(ctx, op, err)
	}
	return grant, s.finish(ctx, op, nil)
}

// RevokePermission deletes a role grant.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID string) (Result, error) {
	const op = "revoke_permission"
	roleID = strings.TrimSpace(roleID)
	permissionID = strings.TrimSpace(permissionID)
	if roleID == "" || permissionID == "" {
		return Result{}, s.finish(ctx, op, ErrInvalidInput)
	}
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return translate(tx.RolePermissions().Delete(ctx, roleID, permissionID), ErrRolePermissionMissing, nil)
	})
	if err != nil {
		return Result{}, s.finish(ctx, op, err)
	}
	return succeeded(MessageSuccess), s.finish(ctx, op, nil)
}

// EnsureBuiltins seeds the built-in roles, permissions and grants. Existing
// rows, including grants changed by an administrator, are left as they are.
func (s *Service) EnsureBuiltins(ctx context.Context) error {
	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if err := tx.Roles().Ensure(ctx, BuiltinRoles); err != nil {
			return err
		}
		if err := tx.Permissions().Ensure(ctx, BuiltinPermissions); err != nil {
			return err
		}
		roles, err := tx.Roles().List(ctx)
		if err != nil {
			return err
		}
		perms, err := tx.Permissions().List(ctx)
		if err != nil {
			return err
		}
		var grants []RolePermission
		now := s.now().UTC()
		for _, role := range roles {
			for _, perm := range perms {
				grants = append(grants, RolePermission{
					ID:             ids.New(),
					RoleID:         role.ID,
					PermissionID:   perm.ID,
					CanDoTheAction: builtinGrantRoles[role.Name],
					CreatedAt:      now,
				})
			}
		}
		return tx.RolePermissions().Ensure(ctx, grants)
	})
}

// BootstrapAdmin makes sure an active account with the admin role exists
// for email. An existing account keeps its password.
func (s *Service) BootstrapAdmin(ctx context.Context, email, password string) error {
	email = NormalizeEmail(email)
	if email == "" || password == "" {
		return errors.New("auth: admin email and password are required")
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	return s.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		now := s.now().UTC()
		user, err := tx.Users().FindByEmail(ctx, email)
		switch {
		case errors.Is(err, ErrNotFound):
			user = &User{
				ID:           ids.New(),
				Email:        email,
				PasswordHash: hash,
				FirstName:    "Admin",
				Status:       UserStatusActive,
				CreatedAt:    now,
				UpdatedAt:    now,
			}
			if err := tx.Users().Create(ctx, user); err != nil {
				return err
			}
		case err != nil:
			return err
		}
		admin, err := tx.Roles().FindByName(ctx, RoleAdmin)
		if err != nil {
			return err
		}
		held, err := tx.RoleUsers().RolesForUser(ctx, user.ID)
		if err != nil {
			return err
		}
		for _, r := range held {
			if r.ID == admin.ID {
				return nil
			}
		}
		return tx.RoleUsers().Create(ctx, &UserRole{ID: ids.New(), RoleID: admin.ID, UserID: user.ID, CreatedAt: now})
	})
}

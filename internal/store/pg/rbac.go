package pg

import (
	"context"
	"database/sql"

	"gatekeep.org/internal/auth"
	"gatekeep.org/internal/ids"
)

const (
	roleColumns       = `id, name, description, created_at, updated_at`
	permissionColumns = `id, module, action, created_at`
)

func scanRole(row rowScanner) (*auth.Role, error) {
	var (
		r    auth.Role
		desc sql.NullString
	)
	if err := row.Scan(&r.ID, &r.Name, &desc, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	r.Description = desc.String
	return &r, nil
}

func scanPermission(row rowScanner) (*auth.Permission, error) {
	var p auth.Permission
	if err := row.Scan(&p.ID, &p.Module, &p.Action, &p.CreatedAt); err != nil {
		return nil, mapError(err)
	}
	return &p, nil
}

func collectRoles(rows *sql.Rows, err error) ([]auth.Role, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

func collectPermissions(rows *sql.Rows, err error) ([]auth.Permission, error) {
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []auth.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

type roleStore struct {
	q querier
}

// Ensure inserts missing roles by name. Conflicts are absorbed in SQL since
// a failed statement would abort the surrounding transaction.
func (s roleStore) Ensure(ctx context.Context, roles []auth.Role) error {
	for _, r := range roles {
		id := r.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.q.ExecContext(ctx, `
			insert into roles (id, name, description)
			values ($1, $2, $3)
			on conflict (name) do nothing
		`, id, r.Name, nullIfEmpty(r.Description)); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s roleStore) Find(ctx context.Context, id string) (*auth.Role, error) {
	return scanRole(s.q.QueryRowContext(ctx, `select `+roleColumns+` from roles where id = $1`, id))
}

func (s roleStore) FindByName(ctx context.Context, name string) (*auth.Role, error) {
	return scanRole(s.q.QueryRowContext(ctx, `select `+roleColumns+` from roles where name = $1`, name))
}

func (s roleStore) List(ctx context.Context) ([]auth.Role, error) {
	return collectRoles(s.q.QueryContext(ctx, `select `+roleColumns+` from roles order by name`))
}

type permissionStore struct {
	q querier
}

func (s permissionStore) Ensure(ctx context.Context, perms []auth.Permission) error {
	for _, p := range perms {
		id := p.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.q.ExecContext(ctx, `
			insert into permissions (id, module, action)
			values ($1, $2, $3)
			on conflict (module, action) do nothing
		`, id, p.Module, p.Action); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s permissionStore) Find(ctx context.Context, id string) (*auth.Permission, error) {
	return scanPermission(s.q.QueryRowContext(ctx, `select `+permissionColumns+` from permissions where id = $1`, id))
}

func (s permissionStore) List(ctx context.Context) ([]auth.Permission, error) {
	return collectPermissions(s.q.QueryContext(ctx, `select `+permissionColumns+` from permissions order by module, action`))
}

type roleUserStore struct {
	q querier
}

func (s roleUserStore) Create(ctx context.Context, ru *auth.UserRole) error {
	_, err := s.q.ExecContext(ctx, `
		insert into role_users (id, role_id, user_id, created_at)
		values ($1, $2, $3, $4)
	`, ru.ID, ru.RoleID, ru.UserID, ru.CreatedAt)
	return mapError(err)
}

func (s roleUserStore) Delete(ctx context.Context, userID, roleID string) error {
	return expectAffected(s.q.ExecContext(ctx, `
		delete from role_users where user_id = $1 and role_id = $2
	`, userID, roleID))
}

func (s roleUserStore) RolesForUser(ctx context.Context, userID string) ([]auth.Role, error) {
	return collectRoles(s.q.QueryContext(ctx, `
		select r.id, r.name, r.description, r.created_at, r.updated_at
		from role_users ru
		join roles r on r.id = ru.role_id
		where ru.user_id = $1
		order by ru.created_at, ru.id
	`, userID))
}

type rolePermissionStore struct {
	q querier
}

func (s rolePermissionStore) Upsert(ctx context.Context, rp *auth.RolePermission) error {
	err := s.q.QueryRowContext(ctx, `
		insert into role_permissions (id, role_id, permission_id, can_do_the_action, created_at)
		values ($1, $2, $3, $4, $5)
		on conflict (role_id, permission_id) do update
		set can_do_the_action = excluded.can_do_the_action
		returning id, created_at
	`, rp.ID, rp.RoleID, rp.PermissionID, rp.CanDoTheAction, rp.CreatedAt).Scan(&rp.ID, &rp.CreatedAt)
	return mapError(err)
}

func (s rolePermissionStore) Ensure(ctx context.Context, grants []auth.RolePermission) error {
	for _, g := range grants {
		id := g.ID
		if id == "" {
			id = ids.New()
		}
		if _, err := s.q.ExecContext(ctx, `
			insert into role_permissions (id, role_id, permission_id, can_do_the_action, created_at)
			values ($1, $2, $3, $4, $5)
			on conflict (role_id, permission_id) do nothing
		`, id, g.RoleID, g.PermissionID, g.CanDoTheAction, g.CreatedAt); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func (s rolePermissionStore) Delete(ctx context.Context, roleID, permissionID string) error {
	return expectAffected(s.q.ExecContext(ctx, `
		delete from role_permissions where role_id = $1 and permission_id = $2
	`, roleID, permissionID))
}

func (s rolePermissionStore) PermissionsForRoles(ctx context.Context, roleIDs []string) ([]auth.Permission, error) {
	if len(roleIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(roleIDs))
	for i, id := range roleIDs {
		args[i] = id
	}
	return collectPermissions(s.q.QueryContext(ctx, `
		select distinct p.id, p.module, p.action, p.created_at
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.can_do_the_action and rp.role_id in (`+placeholders(1, len(roleIDs))+`)
		order by p.module, p.action
	`, args...))
}

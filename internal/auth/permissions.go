package auth

// Built-in role names.
const (
	RoleAdmin     = "admin"
	RoleDeveloper = "developer"
	RoleModerator = "moderator"
	RoleUser      = "user"

	// RolePublic marks an operation that needs no authentication.
	RolePublic = "public"
)

// Permission modules and actions.
const (
	ModulePermission     = "permission"
	ModuleRole           = "role"
	ModuleRolePermission = "role_permission"
	ModuleRoleUser       = "role_user"
	ModuleUser           = "user"

	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Permission keys checked by operations.
var (
	PermUserUpdate           = PermissionKey(ModuleUser, ActionUpdate)
	PermUserRead             = PermissionKey(ModuleUser, ActionRead)
	PermRoleUserCreate       = PermissionKey(ModuleRoleUser, ActionCreate)
	PermRoleUserDelete       = PermissionKey(ModuleRoleUser, ActionDelete)
	PermRolePermissionCreate = PermissionKey(ModuleRolePermission, ActionCreate)
	PermRolePermissionDelete = PermissionKey(ModuleRolePermission, ActionDelete)
)

// DefaultRolePrecedence orders roles for top-role resolution.
var DefaultRolePrecedence = []string{RoleAdmin, RoleDeveloper, RoleModerator, RoleUser}

// BuiltinRoles is the seeded role catalogue.
var BuiltinRoles = []Role{
	{Name: RoleAdmin, Description: "Full administrative access"},
	{Name: RoleDeveloper, Description: "Operational access for developers"},
	{Name: RoleModerator, Description: "Content moderation"},
	{Name: RoleUser, Description: "Default role for registered users"},
}

// BuiltinPermissions is every module crossed with every action.
var BuiltinPermissions = func() []Permission {
	modules := []string{ModulePermission, ModuleRole, ModuleRolePermission, ModuleRoleUser, ModuleUser}
	actions := []string{ActionCreate, ActionRead, ActionUpdate, ActionDelete}
	perms := make([]Permission, 0, len(modules)*len(actions))
	for _, m := range modules {
		for _, a := range actions {
			perms = append(perms, Permission{Module: m, Action: a})
		}
	}
	return perms
}()

// builtinGrantRoles receive every built-in permission with the action flag set.
var builtinGrantRoles = map[string]bool{RoleAdmin: true, RoleDeveloper: true}

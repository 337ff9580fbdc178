package httpapi

import (
	"time"

	"gatekeep.org/internal/auth"
)

type emptyInput struct{}

type registerInput struct {
	Email     string `json:"email" validate:"required,email,max=254"`
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	Password  string `json:"password" validate:"required,min=8,maxbytes=72"`
}

func (in *registerInput) auditFields() map[string]any {
	return map[string]any{"email": auth.NormalizeEmail(in.Email)}
}

type loginInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

func (in *loginInput) auditFields() map[string]any {
	return map[string]any{"email": auth.NormalizeEmail(in.Email)}
}

type emailInput struct {
	Email string `json:"email" validate:"required,email"`
}

func (in *emailInput) auditFields() map[string]any {
	return map[string]any{"email": auth.NormalizeEmail(in.Email)}
}

type emailCodeInput struct {
	Email string `json:"email" validate:"required,email"`
	Token string `json:"token" validate:"required,max=32"`
}

func (in *emailCodeInput) auditFields() map[string]any {
	return map[string]any{"email": auth.NormalizeEmail(in.Email)}
}

type tokenInput struct {
	Token string `json:"token" validate:"required,max=32"`
}

type passwordInput struct {
	Password string `json:"password" validate:"required"`
}

type refreshInput struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

type changePasswordInput struct {
	OldPassword string `json:"old_password" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,maxbytes=72"`
}

type resetPasswordInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
	Token    string `json:"token" validate:"required,max=32"`
}

func (in *resetPasswordInput) auditFields() map[string]any {
	return map[string]any{"email": auth.NormalizeEmail(in.Email)}
}

type adminEmailInput struct {
	UserID   string `json:"user_id" validate:"required"`
	NewEmail string `json:"new_email" validate:"required,email,max=254"`
}

func (in *adminEmailInput) auditFields() map[string]any {
	return map[string]any{"target_user_id": in.UserID}
}

type adminPasswordInput struct {
	UserID   string `json:"user_id" validate:"required"`
	Password string `json:"password" validate:"required,min=8,maxbytes=72"`
}

func (in *adminPasswordInput) auditFields() map[string]any {
	return map[string]any{"target_user_id": in.UserID}
}

type roleUserInput struct {
	UserID string `json:"user_id" validate:"required"`
	RoleID string `json:"role_id" validate:"required"`
}

func (in *roleUserInput) auditFields() map[string]any {
	return map[string]any{"target_user_id": in.UserID, "role_id": in.RoleID}
}

type rolePermissionInput struct {
	RoleID       string `json:"role_id" validate:"required"`
	PermissionID string `json:"permission_id" validate:"required"`
}

func (in *rolePermissionInput) auditFields() map[string]any {
	return map[string]any{"role_id": in.RoleID, "permission_id": in.PermissionID}
}

type grantInput struct {
	RoleID         string `json:"role_id" validate:"required"`
	PermissionID   string `json:"permission_id" validate:"required"`
	CanDoTheAction *bool  `json:"can_do_the_action"`
}

func (in *grantInput) auditFields() map[string]any {
	fields := map[string]any{"role_id": in.RoleID, "permission_id": in.PermissionID}
	if in.CanDoTheAction != nil {
		fields["can_do_the_action"] = *in.CanDoTheAction
	}
	return fields
}

type userView struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newUserView(u *auth.User) *userView {
	if u == nil {
		return nil
	}
	return &userView{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Status:    u.Status,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type profileView struct {
	User        *userView `json:"user"`
	Roles       []string  `json:"roles"`
	TopRole     string    `json:"top_role"`
	Permissions []string  `json:"permissions"`
}

func newProfileView(p auth.Profile) profileView {
	roles := p.Roles
	if roles == nil {
		roles = []string{}
	}
	perms := p.Permissions
	if perms == nil {
		perms = []string{}
	}
	return profileView{User: newUserView(p.User), Roles: roles, TopRole: p.TopRole, Permissions: perms}
}

type roleUserView struct {
	ID        string    `json:"id"`
	RoleID    string    `json:"role_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

type rolePermissionView struct {
	ID             string    `json:"id"`
	RoleID         string    `json:"role_id"`
	PermissionID   string    `json:"permission_id"`
	CanDoTheAction bool      `json:"can_do_the_action"`
	CreatedAt      time.Time `json:"created_at"`
}

package auth

import (
	"errors"
	"testing"
)

func TestPrincipalPermissions(t *testing.T) {
	user := &User{ID: "u1", Email: "user@example.com"}
	grants := Grants{
		Roles:       []Role{{ID: "r1", Name: RoleModerator}},
		Permissions: []Permission{{ID: "p1", Module: ModuleUser, Action: ActionRead}},
	}

	principal := NewPrincipal(user, grants)

	if !principal.Authenticated() {
		t.Fatalf("expected authenticated principal")
	}
	if !principal.HasRole(RoleModerator) || principal.HasRole(RoleAdmin) {
		t.Fatalf("unexpected roles: %v", principal.Roles)
	}
	if !principal.HasPermission(PermUserRead) {
		t.Fatalf("expected permission")
	}
	if principal.HasPermission(PermUserUpdate) {
		t.Fatalf("unexpected permission")
	}
}

func TestAuthorizeOperation(t *testing.T) {
	authz := &Authorizer{precedence: DefaultRolePrecedence, recorder: noopRecorder{}}
	moderator := NewPrincipal(&User{ID: "u1"}, Grants{
		Roles:       []Role{{Name: RoleModerator}},
		Permissions: []Permission{{Module: ModuleUser, Action: ActionRead}},
	})

	cases := []struct {
		name      string
		principal Principal
		req       Requirement
		want      error
	}{
		{"public anonymous", Principal{}, Public(), nil},
		{"public among roles", Principal{}, Requirement{Roles: []string{RoleAdmin, RolePublic}, Permission: PermUserUpdate}, nil},
		{"anonymous protected", Principal{}, Requirement{Roles: []string{RoleUser}}, ErrUnauthorized},
		{"role mismatch", moderator, Requirement{Roles: []string{RoleAdmin}}, ErrUnauthorized},
		{"no roles required", moderator, Requirement{}, ErrUnauthorized},
		{"role ok", moderator, Requirement{Roles: []string{RoleAdmin, RoleModerator}}, nil},
		{"permission ok", moderator, Requirement{Roles: []string{RoleModerator}, Permission: PermUserRead}, nil},
		{"permission missing", moderator, Requirement{Roles: []string{RoleModerator}, Permission: PermUserUpdate}, ErrPermissionDenied},
		{"role checked before permission", moderator, Requirement{Roles: []string{RoleAdmin}, Permission: PermUserUpdate}, ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := authz.AuthorizeOperation(tc.principal, tc.req)
			if tc.want == nil {
				if err != nil {
					t.Fatalf("expected success, got %v", err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestTopRole(t *testing.T) {
	cases := []struct {
		roles []string
		want  string
	}{
		{[]string{RoleUser, RoleAdmin}, RoleAdmin},
		{[]string{RoleUser, RoleModerator}, RoleModerator},
		{[]string{RoleDeveloper, RoleModerator, RoleUser}, RoleDeveloper},
		{[]string{"auditor"}, ""},
		{nil, ""},
	}
	for _, tc := range cases {
		if got := TopRole(tc.roles, DefaultRolePrecedence); got != tc.want {
			t.Fatalf("TopRole(%v) = %q, want %q", tc.roles, got, tc.want)
		}
	}
	if got := TopRole([]string{RoleAdmin, RoleUser}, []string{RoleUser, RoleAdmin}); got != RoleUser {
		t.Fatalf("custom precedence ignored, got %q", got)
	}
}

func TestErrorKindsMapToStatus(t *testing.T) {
	cases := []struct {
		err  *Error
		want int
	}{
		{ErrInvalidInput, 400},
		{ErrUnauthorized, 401},
		{ErrPermissionDenied, 403},
		{ErrUserNotFound, 404},
		{ErrEmailTaken, 409},
		{ErrTooManyRequests, 429},
		{Internal(errors.New("boom")), 500},
	}
	for _, tc := range cases {
		if tc.err.Status() != tc.want {
			t.Fatalf("%s: status %d, want %d", tc.err.Code, tc.err.Status(), tc.want)
		}
	}
}

func TestTranslate(t *testing.T) {
	if err := translate(ErrNotFound, ErrUserNotFound, nil); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("not found not translated: %v", err)
	}
	if err := translate(errors.Join(ErrConflict, errors.New("users_email_key")), nil, ErrEmailTaken); !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("conflict not translated: %v", err)
	}
	if err := translate(ErrOTPNotValid, ErrUserNotFound, nil); !errors.Is(err, ErrOTPNotValid) {
		t.Fatalf("domain error not passed through: %v", err)
	}
	err := translate(errors.New("disk on fire"), ErrUserNotFound, ErrEmailTaken)
	if de := AsError(err); de.Code != CodeInternal || de.Cause == nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

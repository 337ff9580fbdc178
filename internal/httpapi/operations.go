package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"

	"gatekeep.org/internal/auth"
)

const (
	schemaOperation    = "__schema"
	introspectionQuery = "IntrospectionQuery"
)

// operationRequest is the body of POST /v1/operations.
type operationRequest struct {
	Operation string          `json:"operation"`
	Input     json.RawMessage `json:"input"`
}

// operation is one entry of the registry. exec decodes and validates its
// own input.
type operation struct {
	name        string
	description string
	requirement auth.Requirement
	audited     bool
	exec        func(ctx context.Context, a *API, raw json.RawMessage) (any, error)
}

// inputError marks a request that failed decoding or validation.
type inputError struct {
	err       error
	malformed bool
}

func (e *inputError) Error() string { return e.err.Error() }

func (e *inputError) Unwrap() error { return e.err }

// auditable inputs contribute fields to the audit record.
type auditable interface {
	auditFields() map[string]any
}

// define binds a typed input to an operation.
func define[T any](name, description string, req auth.Requirement, audited bool, run func(ctx context.Context, a *API, in *T) (any, error)) operation {
	return operation{
		name:        name,
		description: description,
		requirement: req,
		audited:     audited,
		exec: func(ctx context.Context, a *API, raw json.RawMessage) (any, error) {
			in := new(T)
			if len(bytes.TrimSpace(raw)) > 0 && !bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
				dec := json.NewDecoder(bytes.NewReader(raw))
				dec.DisallowUnknownFields()
				if err := dec.Decode(in); err != nil {
					return nil, &inputError{err: err, malformed: true}
				}
			}
			if err := a.validate.Struct(in); err != nil {
				return nil, &inputError{err: err}
			}
			out, err := run(ctx, a, in)
			if audited {
				a.auditOperation(ctx, name, in, err)
			}
			return out, err
		},
	}
}

// Execute dispatches one operation.
func (a *API) Execute(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorEnvelope(badRequestStatus("REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorEnvelope(badRequest("BAD_REQUEST", "unreadable request body")))
		return
	}
	if isIntrospectionBody(body) {
		writeJSON(w, http.StatusOK, dataEnvelope(a.catalogue()))
		return
	}

	var req operationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorEnvelope(badRequest("BAD_REQUEST", "malformed request body")))
		return
	}
	op, ok := a.ops[strings.TrimSpace(req.Operation)]
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorEnvelope(badRequest("UNKNOWN_OPERATION", "unknown operation")))
		return
	}

	ctx := r.Context()
	principal := auth.PrincipalFromContext(ctx)
	if err := a.authorizer.AuthorizeOperation(principal, op.requirement); err != nil {
		if op.audited {
			a.auditOperation(ctx, op.name, nil, err)
		}
		writeJSON(w, http.StatusOK, errorEnvelope(domainError(err)))
		return
	}

	data, err := op.exec(ctx, a, req.Input)
	if err != nil {
		var ie *inputError
		if errors.As(err, &ie) {
			if ie.malformed {
				writeJSON(w, http.StatusBadRequest, errorEnvelope(badRequest("BAD_REQUEST", "malformed operation input")))
				return
			}
			writeJSON(w, http.StatusBadRequest, errorEnvelope(validationError(ie.err)))
			return
		}
		writeJSON(w, http.StatusOK, errorEnvelope(domainError(err)))
		return
	}
	writeJSON(w, http.StatusOK, dataEnvelope(data))
}

// Catalogue lists the operations and their requirements.
func (a *API) Catalogue(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, dataEnvelope(a.catalogue()))
}

type catalogueEntry struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Requirement auth.Requirement `json:"requirement"`
}

func (a *API) catalogue() []catalogueEntry {
	entries := make([]catalogueEntry, 0, len(a.ops))
	for _, op := range a.ops {
		entries = append(entries, catalogueEntry{Name: op.name, Description: op.description, Requirement: op.requirement})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

func (a *API) auditOperation(ctx context.Context, name string, in any, err error) {
	fields := map[string]any{"operation": name, "outcome": "ok"}
	if err != nil {
		fields["outcome"] = string(auth.AsError(err).Code)
	}
	if src, ok := in.(auditable); ok {
		for k, v := range src.auditFields() {
			fields[k] = v
		}
	}
	if logErr := a.audit.LogEvent(ctx, "operation."+name, fields); logErr != nil {
		a.logger.WarnContext(ctx, "audit log failed", slog.Any("error", logErr))
	}
}

// isIntrospectionBody reports whether the request asks for the catalogue,
// either by operation name or by a GraphQL introspection query. Operation
// input is never inspected.
func isIntrospectionBody(body []byte) bool {
	var req struct {
		Operation string `json:"operation"`
		Query     string `json:"query"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return false
	}
	switch strings.TrimSpace(req.Operation) {
	case schemaOperation, introspectionQuery:
		return true
	}
	return strings.Contains(req.Query, introspectionQuery) || strings.Contains(req.Query, schemaOperation)
}

// userID returns the authenticated caller. Requirements have already
// rejected anonymous callers for operations that use it.
func userID(ctx context.Context) string {
	id, _ := auth.UserIDFromContext(ctx)
	return id
}

var (
	signedIn = auth.Requirement{Roles: []string{auth.RoleAdmin, auth.RoleDeveloper, auth.RoleModerator, auth.RoleUser}}
	staff    = []string{auth.RoleAdmin, auth.RoleDeveloper}
)

func staffWith(permission string) auth.Requirement {
	return auth.Requirement{Roles: staff, Permission: permission}
}

func operations() []operation {
	return []operation{
		define("register", "Create an unverified account and send a verification code.", auth.Public(), true,
			func(ctx context.Context, a *API, in *registerInput) (any, error) {
				user, err := a.service.Register(ctx, auth.RegisterInput{
					Email:     in.Email,
					FirstName: in.FirstName,
					LastName:  in.LastName,
					Password:  in.Password,
				})
				if err != nil {
					return nil, err
				}
				return newUserView(user), nil
			}),
		define("verifyEmail", "Activate an account with its verification code.", auth.Public(), true,
			func(ctx context.Context, a *API, in *emailCodeInput) (any, error) {
				user, err := a.workflows.VerifyUserEmail(ctx, in.Email, in.Token)
				if err != nil {
					return nil, err
				}
				return newUserView(user), nil
			}),
		define("resendVerificationEmail", "Send a new verification code.", auth.Public(), false,
			func(ctx context.Context, a *API, in *emailInput) (any, error) {
				return a.workflows.ResendVerificationEmail(ctx, in.Email)
			}),
		define("login", "Exchange credentials for a token pair.", auth.Public(), true,
			func(ctx context.Context, a *API, in *loginInput) (any, error) {
				return a.service.Login(ctx, in.Email, in.Password)
			}),
		define("refreshToken", "Rotate a token pair.", auth.Public(), true,
			func(ctx context.Context, a *API, in *refreshInput) (any, error) {
				return a.service.Refresh(ctx, in.AccessToken, in.RefreshToken)
			}),
		define("logout", "Revoke the current session.", signedIn, true,
			func(ctx context.Context, a *API, _ *emptyInput) (any, error) {
				token, _ := auth.TokenFromContext(ctx)
				return a.service.Logout(ctx, token)
			}),
		define("changePassword", "Replace the caller's password.", signedIn, true,
			func(ctx context.Context, a *API, in *changePasswordInput) (any, error) {
				return a.service.ChangePassword(ctx, userID(ctx), in.OldPassword, in.NewPassword)
			}),
		define("forgotPassword", "Send a password reset code.", auth.Public(), false,
			func(ctx context.Context, a *API, in *emailInput) (any, error) {
				return a.workflows.ForgotPassword(ctx, in.Email)
			}),
		define("retryForgotPassword", "Send a new password reset code.", auth.Public(), false,
			func(ctx context.Context, a *API, in *emailInput) (any, error) {
				return a.workflows.RetryForgotPassword(ctx, in.Email)
			}),
		define("verifyForgotPassword", "Reset a password with a reset code.", auth.Public(), true,
			func(ctx context.Context, a *API, in *resetPasswordInput) (any, error) {
				return a.workflows.VerifyForgotPassword(ctx, in.Email, in.Password, in.Token)
			}),
		define("verifyForgotPasswordCode", "Check a reset code without consuming it.", auth.Public(), false,
			func(ctx context.Context, a *API, in *emailCodeInput) (any, error) {
				return a.workflows.VerifyForgotPasswordCode(ctx, in.Email, in.Token)
			}),
		define("verifyUserPassword", "Check the caller's password.", signedIn, false,
			func(ctx context.Context, a *API, in *passwordInput) (any, error) {
				return a.service.VerifyUserPassword(ctx, userID(ctx), in.Password)
			}),
		define("changeEmail", "Send an email change code to a new address.", signedIn, true,
			func(ctx context.Context, a *API, in *emailInput) (any, error) {
				return a.service.ChangeEmail(ctx, userID(ctx), in.Email)
			}),
		define("cancelChangeEmail", "Withdraw a pending email change.", signedIn, true,
			func(ctx context.Context, a *API, in *emailInput) (any, error) {
				return a.service.CancelChangeEmail(ctx, userID(ctx), in.Email)
			}),
		define("verifyChangeEmail", "Confirm a pending email change.", signedIn, true,
			func(ctx context.Context, a *API, in *tokenInput) (any, error) {
				user, err := a.service.VerifyChangeEmail(ctx, userID(ctx), in.Token)
				if err != nil {
					return nil, err
				}
				return newUserView(user), nil
			}),
		define("setUserEmailByAdmin", "Set a user's email.", staffWith(auth.PermUserUpdate), true,
			func(ctx context.Context, a *API, in *adminEmailInput) (any, error) {
				user, err := a.service.SetUserEmailByAdmin(ctx, in.UserID, in.NewEmail)
				if err != nil {
					return nil, err
				}
				return newUserView(user), nil
			}),
		define("setUserPasswordByAdmin", "Set a user's password.", staffWith(auth.PermUserUpdate), true,
			func(ctx context.Context, a *API, in *adminPasswordInput) (any, error) {
				return a.service.SetUserPasswordByAdmin(ctx, in.UserID, in.Password)
			}),
		define("me", "Return the caller's profile.", signedIn, false,
			func(ctx context.Context, a *API, _ *emptyInput) (any, error) {
				profile, err := a.service.Me(ctx, userID(ctx))
				if err != nil {
					return nil, err
				}
				return newProfileView(profile), nil
			}),
		define("assignRole", "Assign a role to a user.", staffWith(auth.PermRoleUserCreate), true,
			func(ctx context.Context, a *API, in *roleUserInput) (any, error) {
				ru, err := a.service.AssignRole(ctx, in.UserID, in.RoleID)
				if err != nil {
					return nil, err
				}
				return roleUserView{ID: ru.ID, RoleID: ru.RoleID, UserID: ru.UserID, CreatedAt: ru.CreatedAt}, nil
			}),
		define("revokeRole", "Remove a role from a user.", staffWith(auth.PermRoleUserDelete), true,
			func(ctx context.Context, a *API, in *roleUserInput) (any, error) {
				return a.service.RevokeRole(ctx, in.UserID, in.RoleID)
			}),
		define("grantPermission", "Grant or deny a permission to a role.", staffWith(auth.PermRolePermissionCreate), true,
			func(ctx context.Context, a *API, in *grantInput) (any, error) {
				allowed := true
				if in.CanDoTheAction != nil {
					allowed = *in.CanDoTheAction
				}
				rp, err := a.service.GrantPermission(ctx, in.RoleID, in.PermissionID, allowed)
				if err != nil {
					return nil, err
				}
				return rolePermissionView{
					ID:             rp.ID,
					RoleID:         rp.RoleID,
					PermissionID:   rp.PermissionID,
					CanDoTheAction: rp.CanDoTheAction,
					CreatedAt:      rp.CreatedAt,
				}, nil
			}),
		define("revokePermission", "Remove a permission grant from a role.", staffWith(auth.PermRolePermissionDelete), true,
			func(ctx context.Context, a *API, in *rolePermissionInput) (any, error) {
				return a.service.RevokePermission(ctx, in.RoleID, in.PermissionID)
			}),
	}
}

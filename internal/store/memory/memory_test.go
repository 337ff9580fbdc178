package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatekeep.org/internal/auth"
)

func within(t *testing.T, s *Store, fn func(ctx context.Context, tx auth.Tx) error) {
	t.Helper()
	require.NoError(t, s.WithinTx(context.Background(), fn))
}

func TestWithinTxRollsBackOnError(t *testing.T) {
	s := New()
	boom := errors.New("boom")

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx auth.Tx) error {
		if err := tx.Users().Create(ctx, &auth.User{ID: "u1", Email: "a@example.com"}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	within(t, s, func(ctx context.Context, tx auth.Tx) error {
		_, err := tx.Users().Find(ctx, "u1")
		require.ErrorIs(t, err, auth.ErrNotFound)
		return nil
	})
}

func TestWithinTxHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := New().WithinTx(ctx, func(context.Context, auth.Tx) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, called)
}

func TestUsersMatchEmailCaseInsensitively(t *testing.T) {
	s := New()
	within(t, s, func(ctx context.Context, tx auth.Tx) error {
		require.NoError(t, tx.Users().Create(ctx, &auth.User{ID: "u1", Email: "a@example.com"}))
		require.ErrorIs(t, tx.Users().Create(ctx, &auth.User{ID: "u2", Email: "A@Example.com"}), auth.ErrConflict)
		require.NoError(t, tx.Users().Create(ctx, &auth.User{ID: "u3", Email: "b@example.com"}))

		u, err := tx.Users().FindByEmail(ctx, "A@EXAMPLE.COM")
		require.NoError(t, err)
		require.Equal(t, "u1", u.ID)

		taken := "B@example.com"
		_, err = tx.Users().Update(ctx, "u1", auth.UserUpdate{Email: &taken})
		require.ErrorIs(t, err, auth.ErrConflict)

		active := auth.UserStatusActive
		u, err = tx.Users().Update(ctx, "u1", auth.UserUpdate{Status: &active})
		require.NoError(t, err)
		require.Equal(t, auth.UserStatusActive, u.Status)

		_, err = tx.Users().Update(ctx, "missing", auth.UserUpdate{Status: &active})
		require.ErrorIs(t, err, auth.ErrNotFound)
		return nil
	})
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	s := New()
	within(t, s, func(ctx context.Context, tx auth.Tx) error {
		return tx.Users().Create(ctx, &auth.User{ID: "u1", Email: "a@example.com"})
	})
	within(t, s, func(ctx context.Context, tx auth.Tx) error {
		u, err := tx.Users().Find(ctx, "u1")
		require.NoError(t, err)
		u.Email = "mutated@example.com"
		again, err := tx.Users().Find(ctx, "u1")
		require.NoError(t, err)
		require.Equal(t, "a@example.com", again.Email)
		return nil
	})
}

func TestGrantsResolveOnlyAllowedPermissions(t *testing.T) {
	s := New()
	within(t, s, func(ctx context.Context, tx auth.Tx) error {
		require.NoError(t, tx.Roles().Ensure(ctx, []auth.Role{{Name: "admin"}, {Name: "user"}}))
		require.NoError(t, tx.Roles().Ensure(ctx, []auth.Role{{Name: "admin"}}))
		require.NoError(t, tx.Permissions().Ensure(ctx, []auth.Permission{
			{Module: "user", Action: "read"},
			{Module: "user", Action: "update"},
		}))

		roles, err := tx.Roles().List(ctx)
		require.NoError(t, err)
		require.Len(t, roles, 2)
		perms, err := tx.Permissions().List(ctx)
		require.NoError(t, err)
		require.Equal(t, "user.read", perms[0].Key())
		require.Equal(t, "user.update", perms[1].Key())

		admin, user := roles[0], roles[1]
		require.NoError(t, tx.RolePermissions().Ensure(ctx, []auth.RolePermission{
			{RoleID: admin.ID, PermissionID: perms[0].ID, CanDoTheAction: true},
			{RoleID: admin.ID, PermissionID: perms[1].ID, CanDoTheAction: true},
			{RoleID: user.ID, PermissionID: perms[0].ID, CanDoTheAction: true},
			{RoleID: user.ID, PermissionID: perms[1].ID, CanDoTheAction: false},
		}))

		got, err := tx.RolePermissions().PermissionsForRoles(ctx, []string{admin.ID, user.ID})
		require.NoError(t, err)
		require.Len(t, got, 2, "permissions are distinct across roles")

		got, err = tx.RolePermissions().PermissionsForRoles(ctx, []string{user.ID})
		require.NoError(t, err)
		require.Len(t, got, 1)
		require.Equal(t, "user.read", got[0].Key())

		rp := &auth.RolePermission{ID: "new", RoleID: user.ID, PermissionID: perms[1].ID, CanDoTheAction: true}
		require.NoError(t, tx.RolePermissions().Upsert(ctx, rp))
		require.NotEqual(t, "new", rp.ID, "upsert keeps the existing row")
		got, err = tx.RolePermissions().PermissionsForRoles(ctx, []string{user.ID})
		require.NoError(t, err)
		require.Len(t, got, 2)

		require.NoError(t, tx.RolePermissions().Delete(ctx, user.ID, perms[1].ID))
		require.ErrorIs(t, tx.RolePermissions().Delete(ctx, user.ID, perms[1].ID), auth.ErrNotFound)
		return nil
	})
}

func TestRoleAssignmentsAreUnique(t *testing.T) {
	s := New()
	within(t, s, func(ctx context.Context, tx auth.Tx) error {
		require.NoError(t, tx.Roles().Ensure(ctx, []auth.Role{{Name: "user"}}))
		role, err := tx.Roles().FindByName(ctx, "user")
		require.NoError(t, err)

		require.NoError(t, tx.RoleUsers().Create(ctx, &auth.UserRole{ID: "ru1", RoleID: role.ID, UserID: "u1"}))
		require.ErrorIs(t, tx.RoleUsers().Create(ctx, &auth.UserRole{ID: "ru2", RoleID: role.ID, UserID: "u1"}), auth.ErrConflict)

		held, err := tx.RoleUsers().RolesForUser(ctx, "u1")
		require.NoError(t, err)
		require.Len(t, held, 1)
		require.Equal(t, "user", held[0].Name)

		require.NoError(t, tx.RoleUsers().Delete(ctx, "u1", role.ID))
		require.ErrorIs(t, tx.RoleUsers().Delete(ctx, "u1", role.ID), auth.ErrNotFound)
		return nil
	})
}

func TestRevokeSessionLeavesOtherSessions(t *testing.T) {
	s := New()
	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	within(t, s, func(ctx context.Context, tx auth.Tx) error {
		ledger := tx.AuthTokens()
		for _, tok := range []auth.AuthToken{
			{ID: "a1", SessionID: "s1", UserID: "u1"},
			{ID: "r1", SessionID: "s1", UserID: "u1"},
			{ID: "a2", SessionID: "s2", UserID: "u1"},
			{ID: "a3", SessionID: "s3", UserID: "u2"},
		} {
			require.NoError(t, ledger.Create(ctx, &tok))
		}
		require.ErrorIs(t, ledger.Create(ctx, &auth.AuthToken{ID: "a1"}), auth.ErrConflict)

		require.NoError(t, ledger.RevokeSession(ctx, "s1", at))
		for id, revoked := range map[string]bool{"a1": true, "r1": true, "a2": false, "a3": false} {
			tok, err := ledger.Find(ctx, id)
			require.NoError(t, err)
			require.Equal(t, revoked, tok.Revoked(), id)
		}

		later := at.Add(time.Hour)
		require.NoError(t, ledger.RevokeByUser(ctx, "u1", later))
		a1, err := ledger.Find(ctx, "a1")
		require.NoError(t, err)
		require.True(t, a1.RevokedAt.Equal(at), "first revocation time is kept")
		a2, err := ledger.Find(ctx, "a2")
		require.NoError(t, err)
		require.True(t, a2.Revoked())
		a3, err := ledger.Find(ctx, "a3")
		require.NoError(t, err)
		require.False(t, a3.Revoked())
		return nil
	})
}

func TestVerificationLifecycle(t *testing.T) {
	s := New()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	within(t, s, func(ctx context.Context, tx auth.Tx) error {
		codes := tx.VerificationTokens()
		rec := &auth.VerificationToken{
			ID: "v1", Email: "a@example.com", UserID: "u1", Type: auth.VerificationUser,
			TokenHash: "h1", Status: auth.VerificationStatusUnverified,
			ExpiresAt: now.Add(time.Minute), CreatedAt: now,
		}
		require.NoError(t, codes.Create(ctx, rec))

		dup := *rec
		dup.ID = "v2"
		require.ErrorIs(t, codes.Create(ctx, &dup), auth.ErrConflict)

		found, err := codes.FindActive(ctx, "A@example.com", auth.VerificationUser, "h1", now)
		require.NoError(t, err)
		require.Equal(t, "v1", found.ID)
		_, err = codes.FindActive(ctx, "a@example.com", auth.VerificationUser, "h1", now.Add(2*time.Minute))
		require.ErrorIs(t, err, auth.ErrNotFound)
		_, err = codes.FindActive(ctx, "a@example.com", auth.VerificationForgotPassword, "h1", now)
		require.ErrorIs(t, err, auth.ErrNotFound)

		latest, err := codes.LatestActiveForUser(ctx, "u1", auth.VerificationUser, now)
		require.NoError(t, err)
		require.Equal(t, "v1", latest.ID)

		require.NoError(t, codes.Transition(ctx, "v1", auth.VerificationStatusUsed, now))
		require.ErrorIs(t, codes.Transition(ctx, "v1", auth.VerificationStatusExpired, now), auth.ErrNotFound)

		// a consumed code frees the pair for a new one
		require.NoError(t, codes.Create(ctx, &dup))
		n, err := codes.ExpireActive(ctx, "a@example.com", auth.VerificationUser, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, n)
		_, err = codes.LatestActiveForUser(ctx, "u1", auth.VerificationUser, now)
		require.ErrorIs(t, err, auth.ErrNotFound)
		return nil
	})
}

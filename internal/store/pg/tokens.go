package pg

import (
	"context"
	"database/sql"
	"time"

	"gatekeep.org/internal/auth"
)

const (
	authTokenColumns    = `id, session_id, user_id, type, token_hash, issued_at, expires_at, revoked_at`
	verificationColumns = `id, email, user_id, type, token_hash, status, expires_at, created_at, updated_at`
)

type authTokenStore struct {
	q querier
}

func (s authTokenStore) Create(ctx context.Context, t *auth.AuthToken) error {
	_, err := s.q.ExecContext(ctx, `
		insert into auth_tokens (id, session_id, user_id, type, token_hash, issued_at, expires_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, t.ID, t.SessionID, t.UserID, string(t.Type), t.TokenHash, t.IssuedAt, t.ExpiresAt)
	return mapError(err)
}

func (s authTokenStore) Find(ctx context.Context, id string) (*auth.AuthToken, error) {
	var (
		t       auth.AuthToken
		typ     string
		revoked sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `select `+authTokenColumns+` from auth_tokens where id = $1`, id).
		Scan(&t.ID, &t.SessionID, &t.UserID, &typ, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &revoked)
	if err != nil {
		return nil, mapError(err)
	}
	t.Type = auth.TokenType(typ)
	if revoked.Valid {
		at := revoked.Time
		t.RevokedAt = &at
	}
	return &t, nil
}

func (s authTokenStore) RevokeSession(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		update auth_tokens set revoked_at = $2
		where session_id = $1 and revoked_at is null
	`, sessionID, at)
	return mapError(err)
}

func (s authTokenStore) RevokeByUser(ctx context.Context, userID string, at time.Time) error {
	_, err := s.q.ExecContext(ctx, `
		update auth_tokens set revoked_at = $2
		where user_id = $1 and revoked_at is null
	`, userID, at)
	return mapError(err)
}

type verificationStore struct {
	q querier
}

func scanVerification(row rowScanner) (*auth.VerificationToken, error) {
	var (
		v      auth.VerificationToken
		userID sql.NullString
		typ    string
	)
	if err := row.Scan(&v.ID, &v.Email, &userID, &typ, &v.TokenHash, &v.Status, &v.ExpiresAt, &v.CreatedAt, &v.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	v.UserID = userID.String
	v.Type = auth.VerificationType(typ)
	return &v, nil
}

// Create relies on the partial unique index over unverified (email, type)
// pairs; a violation surfaces as auth.ErrConflict.
func (s verificationStore) Create(ctx context.Context, v *auth.VerificationToken) error {
	_, err := s.q.ExecContext(ctx, `
		insert into verification_tokens (`+verificationColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, v.ID, v.Email, nullIfEmpty(v.UserID), string(v.Type), v.TokenHash, v.Status, v.ExpiresAt, v.CreatedAt, v.UpdatedAt)
	return mapError(err)
}

func (s verificationStore) FindActive(ctx context.Context, email string, typ auth.VerificationType, tokenHash string, now time.Time) (*auth.VerificationToken, error) {
	return scanVerification(s.q.QueryRowContext(ctx, `
		select `+verificationColumns+`
		from verification_tokens
		where lower(email) = lower($1) and type = $2 and token_hash = $3
		  and status = 'unverified' and expires_at > $4
		order by created_at desc
		limit 1
	`, email, string(typ), tokenHash, now))
}

func (s verificationStore) LatestActiveForUser(ctx context.Context, userID string, typ auth.VerificationType, now time.Time) (*auth.VerificationToken, error) {
	return scanVerification(s.q.QueryRowContext(ctx, `
		select `+verificationColumns+`
		from verification_tokens
		where user_id = $1 and type = $2
		  and status = 'unverified' and expires_at > $3
		order by created_at desc
		limit 1
	`, userID, string(typ), now))
}

func (s verificationStore) Transition(ctx context.Context, id, status string, at time.Time) error {
	return expectAffected(s.q.ExecContext(ctx, `
		update verification_tokens set status = $2, updated_at = $3
		where id = $1 and status = 'unverified'
	`, id, status, at))
}

func (s verificationStore) ExpireActive(ctx context.Context, email string, typ auth.VerificationType, at time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		update verification_tokens set status = 'expired', updated_at = $3
		where lower(email) = lower($1) and type = $2 and status = 'unverified'
	`, email, string(typ), at)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

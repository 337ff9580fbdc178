package pg

import (
	"context"

	"gatekeep.org/internal/auth"
)

const userColumns = `id, email, password_hash, first_name, last_name, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*auth.User, error) {
	var u auth.User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName, &u.Status, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, mapError(err)
	}
	return &u, nil
}

type userStore struct {
	q querier
}

func (s userStore) Create(ctx context.Context, u *auth.User) error {
	_, err := s.q.ExecContext(ctx, `
		insert into users (`+userColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8)
	`, u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.Status, u.CreatedAt, u.UpdatedAt)
	return mapError(err)
}

func (s userStore) Find(ctx context.Context, id string) (*auth.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (s userStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `select `+userColumns+` from users where lower(email) = lower($1)`, email))
}

func (s userStore) Update(ctx context.Context, id string, upd auth.UserUpdate) (*auth.User, error) {
	return scanUser(s.q.QueryRowContext(ctx, `
		update users set
			email = coalesce($2, email),
			password_hash = coalesce($3, password_hash),
			status = coalesce($4, status),
			updated_at = now()
		where id = $1
		returning `+userColumns,
		id, nullString(upd.Email), nullString(upd.PasswordHash), nullString(upd.Status)))
}

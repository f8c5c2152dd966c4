package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/diagnosis/wanderlust/internal/repo"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	name          TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type UsersRepoImpl struct{ pool *pgxpool.Pool }

func NewUsersRepo(pool *pgxpool.Pool) *UsersRepoImpl { return &UsersRepoImpl{pool: pool} }

// EnsureSchema creates the users table when it is missing.
func (r *UsersRepoImpl) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, schema)
	return err
}

func (r *UsersRepoImpl) Create(ctx context.Context, email, hash, name string) (*repo.User, error) {
	const q = `
INSERT INTO users (email, password_hash, name)
VALUES ($1,$2,$3)
RETURNING id::text, email, password_hash, name, created_at`
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var u repo.User
	if err := r.pool.QueryRow(ctx, q, email, hash, name).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, repo.ErrEmailTaken
		}
		return nil, err
	}
	return &u, nil
}

func (r *UsersRepoImpl) FindByEmail(ctx context.Context, email string) (*repo.User, error) {
	const q = `SELECT id::text, email, password_hash, name, created_at FROM users WHERE email=$1`
	return r.findOne(ctx, q, email)
}

func (r *UsersRepoImpl) FindByID(ctx context.Context, id string) (*repo.User, error) {
	const q = `SELECT id::text, email, password_hash, name, created_at FROM users WHERE id::text=$1`
	return r.findOne(ctx, q, id)
}

func (r *UsersRepoImpl) findOne(ctx context.Context, q string, arg any) (*repo.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var u repo.User
	if err := r.pool.QueryRow(ctx, q, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &u.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repo.ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

var _ repo.UsersRepo = (*UsersRepoImpl)(nil)

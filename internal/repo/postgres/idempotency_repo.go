package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const idempotencySchema = `
CREATE TABLE IF NOT EXISTS request_idempotency (
	key_hash   TEXT PRIMARY KEY,
	response   TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
)`

// IdempotencyRepo keeps replayable responses so retried creates are answered from
// the first attempt. Keys arrive already hashed.
type IdempotencyRepo interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// CleanupExpired removes expired idempotency records
	CleanupExpired(ctx context.Context) (int64, error)
}

type IdempotencyRepoImpl struct {
	pool *pgxpool.Pool
}

func NewIdempotencyRepo(pool *pgxpool.Pool) *IdempotencyRepoImpl {
	return &IdempotencyRepoImpl{pool: pool}
}

func (r *IdempotencyRepoImpl) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.pool.Exec(ctx, idempotencySchema)
	return err
}

// Get returns "" when the key is unknown or expired.
func (r *IdempotencyRepoImpl) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var response string
	err := r.pool.QueryRow(ctx,
		`SELECT response FROM request_idempotency WHERE key_hash = $1 AND expires_at > now()`,
		key).Scan(&response)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return response, err
}

// Set keeps the first response stored under key.
func (r *IdempotencyRepoImpl) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	const q = `
		INSERT INTO request_idempotency (key_hash, response, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key_hash) DO UPDATE
		SET response = EXCLUDED.response, expires_at = EXCLUDED.expires_at
		WHERE request_idempotency.expires_at <= now()`
	_, err := r.pool.Exec(ctx, q, key, value, time.Now().Add(ttl))
	return err
}

func (r *IdempotencyRepoImpl) CleanupExpired(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	result, err := r.pool.Exec(ctx, `DELETE FROM request_idempotency WHERE expires_at < now()`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

var _ IdempotencyRepo = (*IdempotencyRepoImpl)(nil)

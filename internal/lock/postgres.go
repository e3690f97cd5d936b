package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const locksSchema = `
CREATE TABLE IF NOT EXISTS probe_locks (
  lock_key   TEXT PRIMARY KEY,
  owner      TEXT NOT NULL,
  expires_at TIMESTAMPTZ NOT NULL
);`

// Postgres grants a lock by inserting the row or taking over an expired one.
// The conditional upsert is atomic, so racing schedulers see a single winner.
type Postgres struct {
	pool  *pgxpool.Pool
	owner string
}

func NewPostgres(pool *pgxpool.Pool, owner string) *Postgres {
	return &Postgres{pool: pool, owner: owner}
}

func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, locksSchema); err != nil {
		return fmt.Errorf("create probe_locks: %w", err)
	}
	return nil
}

func (p *Postgres) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	const q = `
		INSERT INTO probe_locks (lock_key, owner, expires_at)
		VALUES ($1, $2, now() + make_interval(secs => $3))
		ON CONFLICT (lock_key)
		DO UPDATE SET owner = EXCLUDED.owner, expires_at = EXCLUDED.expires_at
		WHERE probe_locks.expires_at <= now()
		RETURNING owner`
	var owner string
	err := p.pool.QueryRow(ctx, q, key, p.owner, ttl.Seconds()).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	return true, nil
}

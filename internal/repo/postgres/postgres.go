package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/repo"
)

var _ repo.StateStore = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS target_states (
  target_id  TEXT PRIMARY KEY,
  state      TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// FromPool wraps a pool owned by the caller, who also closes it.
func FromPool(pool *pgxpool.Pool, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{pool: pool, log: log}
}

func (s *Store) Ping(ctx context.Context) error { return s.pool.Ping(ctx) }

func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// ---- StateStore ----

func (s *Store) Get(ctx context.Context, id domain.TargetID) (domain.State, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT state FROM target_states WHERE target_id = $1`, string(id)).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StateUnknown, nil
	}
	if err != nil {
		return domain.StateUnknown, fmt.Errorf("select state %s: %w", id, err)
	}
	st, err := domain.ParseState(v)
	if err != nil {
		// unreadable rows count as never observed and get overwritten
		s.log.Warn("state_unreadable", zap.String("target_id", string(id)), zap.String("value", v))
		return domain.StateUnknown, nil
	}
	return st, nil
}

func (s *Store) Set(ctx context.Context, id domain.TargetID, st domain.State) error {
	const q = `
		INSERT INTO target_states (target_id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (target_id)
		DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`
	if _, err := s.pool.Exec(ctx, q, string(id), string(st)); err != nil {
		return fmt.Errorf("upsert state %s: %w", id, err)
	}
	return nil
}

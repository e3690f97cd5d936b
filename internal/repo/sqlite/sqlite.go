// Package sqlite is a single-node durable StateStore, for deployments that
// run every stage on one host without Redis or Postgres.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/repo"
)

var _ repo.StateStore = (*Store)(nil)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS target_states (
  target_id  TEXT PRIMARY KEY,
  state      TEXT NOT NULL,
  updated_at TEXT NOT NULL
);`

type Store struct {
	db  *sql.DB
	log *zap.Logger
}

// Open opens (or creates) the database at path. ":memory:" is accepted for tests.
func Open(ctx context.Context, path string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Get(ctx context.Context, id domain.TargetID) (domain.State, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT state FROM target_states WHERE target_id = ?`, string(id)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StateUnknown, nil
	}
	if err != nil {
		return domain.StateUnknown, fmt.Errorf("select state %s: %w", id, err)
	}
	st, err := domain.ParseState(v)
	if err != nil {
		s.log.Warn("state_unreadable", zap.String("target_id", string(id)), zap.String("value", v))
		return domain.StateUnknown, nil
	}
	return st, nil
}

func (s *Store) Set(ctx context.Context, id domain.TargetID, st domain.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO target_states (target_id, state, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(target_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`,
		string(id), string(st), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert state %s: %w", id, err)
	}
	return nil
}

//go:build integration

package lock

// go test -tags=integration ./internal/lock -run Postgres -count=1

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPostgres_SingleWinnerAndExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := pg.Terminate(ctx); err != nil {
			t.Errorf("terminate postgres: %v", err)
		}
	}()

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()

	if err := NewPostgres(pool, "setup").EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	lockers := make([]*Postgres, 6)
	for i := range lockers {
		lockers[i] = NewPostgres(pool, NewOwner())
	}
	got := raceWinners(t, len(lockers), func(worker int) (bool, error) {
		return lockers[worker].TryAcquire(ctx, Key("T1"), 2*time.Second)
	})
	if got != 1 {
		t.Fatalf("want exactly 1 winner, got %d", got)
	}

	time.Sleep(2100 * time.Millisecond)
	if ok, err := lockers[0].TryAcquire(ctx, Key("T1"), 2*time.Second); err != nil || !ok {
		t.Fatalf("want acquire after expiry, ok=%v err=%v", ok, err)
	}
}

package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/domain"
)

func TestPostgresStore_StateRoundTrip(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping Postgres integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pgxpool.New: %v", err)
	}
	defer pool.Close()
	store := FromPool(pool, zap.NewNop())
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	// unique id per run so earlier runs don't leak state in
	id := domain.TargetID(fmt.Sprintf("test-%d", time.Now().UTC().UnixNano()))

	got, err := store.Get(ctx, id)
	if err != nil || got != domain.StateUnknown {
		t.Fatalf("want UNKNOWN for new target, got %q err=%v", got, err)
	}
	for _, st := range []domain.State{domain.StateDown, domain.StateUp} {
		if err := store.Set(ctx, id, st); err != nil {
			t.Fatalf("Set %s: %v", st, err)
		}
		got, err := store.Get(ctx, id)
		if err != nil || got != st {
			t.Fatalf("want %s, got %q err=%v", st, got, err)
		}
	}
}

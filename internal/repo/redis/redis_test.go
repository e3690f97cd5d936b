package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/hamed0406/uptimepipeline/internal/domain"
)

func newStore(t *testing.T, history int) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, New(client, history, nil)
}

func TestStore_State(t *testing.T) {
	mr, s := newStore(t, 20)
	ctx := context.Background()

	got, err := s.Get(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, domain.StateUnknown, got)

	require.NoError(t, s.Set(ctx, "7", domain.StateDown))
	v, err := mr.Get("monitor:7:state")
	require.NoError(t, err)
	require.Equal(t, "DOWN", v)

	got, err = s.Get(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, domain.StateDown, got)

	// garbage in the key reads as never observed
	require.NoError(t, mr.Set("monitor:8:state", "MAYBE"))
	got, err = s.Get(ctx, "8")
	require.NoError(t, err)
	require.Equal(t, domain.StateUnknown, got)
}

func TestStore_StatusCacheCapsHistory(t *testing.T) {
	mr, s := newStore(t, 3)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	latest, err := s.Latest(ctx, "7")
	require.NoError(t, err)
	require.Nil(t, latest)

	for i := 0; i < 5; i++ {
		code := 200 + i
		require.NoError(t, s.Put(ctx, domain.ProbeResult{
			TargetID:   "7",
			URL:        "https://example.com",
			Timestamp:  base.Add(time.Duration(i) * time.Second),
			IsUp:       true,
			StatusCode: &code,
		}))
	}

	items, err := mr.List("monitor:7:history")
	require.NoError(t, err)
	require.Len(t, items, 3)

	h, err := s.History(ctx, "7")
	require.NoError(t, err)
	require.Len(t, h, 3)
	require.Equal(t, 202, *h[0].StatusCode)
	require.Equal(t, 204, *h[2].StatusCode)

	latest, err = s.Latest(ctx, "7")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.True(t, latest.Timestamp.Equal(base.Add(4*time.Second)))
}

func TestStore_ErrorsSurface(t *testing.T) {
	mr, s := newStore(t, 20)
	mr.Close()

	_, err := s.Get(context.Background(), "7")
	require.Error(t, err)
	require.Error(t, s.Set(context.Background(), "7", domain.StateUp))
	require.Error(t, s.Ping(context.Background()))
}

package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTTLFor(t *testing.T) {
	cases := []struct {
		interval, floor, margin, want time.Duration
	}{
		{60 * time.Second, 5 * time.Second, time.Second, 59 * time.Second},
		{10 * time.Second, 5 * time.Second, time.Second, 9 * time.Second},
		{4 * time.Second, 5 * time.Second, time.Second, 5 * time.Second},
		{30 * time.Second, 0, 0, 30 * time.Second},
	}
	for _, c := range cases {
		if got := TTLFor(c.interval, c.floor, c.margin); got != c.want {
			t.Fatalf("TTLFor(%v,%v,%v)=%v want %v", c.interval, c.floor, c.margin, got, c.want)
		}
	}
}

func TestKey(t *testing.T) {
	if got := Key("42"); got != "lock:pinger:42" {
		t.Fatalf("unexpected key %q", got)
	}
}

// raceWinners has n workers race for the same key and counts the grants.
func raceWinners(t *testing.T, n int, acquire func(worker int) (bool, error)) int32 {
	t.Helper()
	var winners atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			<-start
			ok, err := acquire(worker)
			if err != nil {
				t.Errorf("worker %d: %v", worker, err)
				return
			}
			if ok {
				winners.Add(1)
			}
		}(i)
	}
	close(start)
	wg.Wait()
	return winners.Load()
}

func TestMemory_SingleWinnerUnderContention(t *testing.T) {
	m := NewMemory("test")
	got := raceWinners(t, 32, func(int) (bool, error) {
		return m.TryAcquire(context.Background(), Key("T1"), time.Minute)
	})
	if got != 1 {
		t.Fatalf("want exactly 1 winner, got %d", got)
	}
}

func TestMemory_ExpiryReleases(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory("test")
	m.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := m.TryAcquire(ctx, "k", 10*time.Second); !ok {
		t.Fatalf("first acquire should win")
	}
	if ok, _ := m.TryAcquire(ctx, "k", 10*time.Second); ok {
		t.Fatalf("second acquire inside ttl should lose")
	}
	if h, ok := m.Holder("k"); !ok || h.Owner != "test" {
		t.Fatalf("want live handle owned by test, got %+v %v", h, ok)
	}

	now = now.Add(10 * time.Second)
	if ok, _ := m.TryAcquire(ctx, "k", 10*time.Second); !ok {
		t.Fatalf("acquire after expiry should win")
	}
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis_SingleWinnerAcrossInstances(t *testing.T) {
	_, client := newMiniRedis(t)
	lockers := make([]*Redis, 8)
	for i := range lockers {
		lockers[i] = NewRedis(client, NewOwner())
	}
	got := raceWinners(t, len(lockers), func(worker int) (bool, error) {
		return lockers[worker].TryAcquire(context.Background(), Key("T1"), 59*time.Second)
	})
	if got != 1 {
		t.Fatalf("want exactly 1 winner, got %d", got)
	}
}

func TestRedis_TTLExpiryAndOwner(t *testing.T) {
	mr, client := newMiniRedis(t)
	ctx := context.Background()
	a := NewRedis(client, "worker-a")
	b := NewRedis(client, "worker-b")

	if ok, err := a.TryAcquire(ctx, Key("T1"), 9*time.Second); err != nil || !ok {
		t.Fatalf("a should acquire: ok=%v err=%v", ok, err)
	}
	if owner, _ := mr.Get(Key("T1")); owner != "worker-a" {
		t.Fatalf("want owner worker-a, got %q", owner)
	}
	if ok, _ := b.TryAcquire(ctx, Key("T1"), 9*time.Second); ok {
		t.Fatalf("b must not acquire while a holds the lock")
	}

	mr.FastForward(9 * time.Second)
	if ok, err := b.TryAcquire(ctx, Key("T1"), 9*time.Second); err != nil || !ok {
		t.Fatalf("b should acquire after expiry: ok=%v err=%v", ok, err)
	}
}

func TestRedis_UnreachableReturnsError(t *testing.T) {
	mr, client := newMiniRedis(t)
	mr.Close()

	ok, err := NewRedis(client, "x").TryAcquire(context.Background(), "k", time.Second)
	if ok || err == nil {
		t.Fatalf("want not acquired with error, got ok=%v err=%v", ok, err)
	}
}

// Package lock provides the short-lived execution lock that keeps a target
// from being probed by more than one scheduler instance per interval.
//
// Locks are never released explicitly. The TTL is chosen so a lock expires
// shortly before the target's next firing, which also covers crashed holders.
package lock

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/uptimepipeline/internal/domain"
)

const (
	DefaultFloor  = 5 * time.Second
	DefaultMargin = 1 * time.Second
)

// Locker is an atomic check-and-set over a shared store.
// TryAcquire reports true only if no unexpired lock for key existed.
type Locker interface {
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Handle describes a granted lock.
type Handle struct {
	Key    string
	Owner  string
	Expiry time.Time
}

func (h Handle) Expired(now time.Time) bool { return !now.Before(h.Expiry) }

// Key is the lock name for a target.
func Key(id domain.TargetID) string { return "lock:pinger:" + string(id) }

// TTLFor returns max(floor, interval-margin).
func TTLFor(interval, floor, margin time.Duration) time.Duration {
	if floor <= 0 {
		floor = DefaultFloor
	}
	if ttl := interval - margin; ttl > floor {
		return ttl
	}
	return floor
}

// NewOwner builds a per-process owner token: hostname plus a random suffix.
func NewOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "scheduler"
	}
	return host + "-" + uuid.NewString()[:8]
}

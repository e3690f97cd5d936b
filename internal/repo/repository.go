package repo

import (
	"context"

	"github.com/hamed0406/uptimepipeline/internal/domain"
)

// Ports (interfaces). Backends live in the subpackages.

// StateStore holds the last observed state per target. It must be readable
// by any processor instance, so durable backends are shared.
type StateStore interface {
	// Get returns domain.StateUnknown when nothing was stored for id.
	Get(ctx context.Context, id domain.TargetID) (domain.State, error)
	Set(ctx context.Context, id domain.TargetID, s domain.State) error
}

// StatusCache keeps the latest result and a short history per target for
// the read API. Writes are best-effort.
type StatusCache interface {
	Put(ctx context.Context, r domain.ProbeResult) error
	// Latest returns nil, nil if the target has no cached result.
	Latest(ctx context.Context, id domain.TargetID) (*domain.ProbeResult, error)
	// History is ordered oldest first.
	History(ctx context.Context, id domain.TargetID) ([]domain.ProbeResult, error)
}

// Pinger is implemented by backends that can report connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

const DefaultHistoryLength = 20

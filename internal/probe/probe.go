package probe

import (
	"context"

	"github.com/hamed0406/uptimepipeline/internal/domain"
)

// Checker performs a single health check against a target.
// Implementations never return errors: every failure is encoded in the result.
type Checker interface {
	Check(ctx context.Context, t domain.Target) domain.ProbeResult
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, t domain.Target) domain.ProbeResult

func (f CheckerFunc) Check(ctx context.Context, t domain.Target) domain.ProbeResult { return f(ctx, t) }

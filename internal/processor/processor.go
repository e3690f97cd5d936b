// Package processor turns the stream of probe results into transition
// events. The comparison is always against durable state, so redelivered
// results never produce a second event.
package processor

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/metrics"
	"github.com/hamed0406/uptimepipeline/internal/repo"
	"github.com/hamed0406/uptimepipeline/internal/stream"
)

// Registry is the part of the Registry API the processor writes to.
type Registry interface {
	RecordStats(ctx context.Context, id domain.TargetID, up bool) error
	RecordIncident(ctx context.Context, id domain.TargetID, inc domain.Incident) error
}

// publishTimeout bounds the event publish, which runs even while shutting
// down because the state write it follows has already happened.
const publishTimeout = 5 * time.Second

type Processor struct {
	Logger   *zap.Logger
	States   repo.StateStore
	Registry Registry
	Events   stream.Producer
	// Cache is optional.
	Cache repo.StatusCache
}

func New(logger *zap.Logger, states repo.StateStore, reg Registry, events stream.Producer, cache repo.StatusCache) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{Logger: logger, States: states, Registry: reg, Events: events, Cache: cache}
}

// Handle applies one result and returns the event it emitted, if any.
//
// An error means the state store could not be read or written; the caller
// must not acknowledge the result. A failed incident write is not an error:
// state stays as it was, no event is emitted, and the next result for the
// target retries the transition.
func (p *Processor) Handle(ctx context.Context, r domain.ProbeResult) (*domain.TransitionEvent, error) {
	if err := r.Validate(); err != nil {
		metrics.IncResultProcessed("malformed")
		return nil, stream.Malformed(err)
	}
	log := p.Logger.With(zap.String("target_id", string(r.TargetID)))

	cur, err := p.States.Get(ctx, r.TargetID)
	if err != nil {
		metrics.IncResultProcessed("error")
		return nil, fmt.Errorf("read state %s: %w", r.TargetID, err)
	}

	if err := p.Registry.RecordStats(ctx, r.TargetID, r.IsUp); err != nil {
		log.Warn("processor_stats_error", zap.Error(err))
	}

	next := domain.StateFromUp(r.IsUp)
	if next == cur {
		p.cache(ctx, log, r)
		metrics.IncResultProcessed("ok")
		return nil, nil
	}

	if err := p.Registry.RecordIncident(ctx, r.TargetID, domain.NewIncident(r, next)); err != nil {
		if ctx.Err() != nil {
			// cancelled mid-call: leave the result unacknowledged for redelivery
			return nil, fmt.Errorf("record incident %s: %w", r.TargetID, ctx.Err())
		}
		log.Error("processor_incident_error",
			zap.String("from", string(cur)),
			zap.String("to", string(next)),
			zap.Error(err),
		)
		p.cache(ctx, log, r)
		metrics.IncResultProcessed("incident_failed")
		return nil, nil
	}

	if err := p.States.Set(ctx, r.TargetID, next); err != nil {
		metrics.IncResultProcessed("error")
		return nil, fmt.Errorf("write state %s: %w", r.TargetID, err)
	}

	ev := domain.NewTransitionEvent(r, next)
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	err = stream.PublishJSON(pctx, p.Events, string(r.TargetID), ev)
	cancel()
	if err != nil {
		// state is already persisted; this alert is lost
		log.Error("processor_publish_error", zap.String("to", string(next)), zap.Error(err))
	}
	metrics.IncTransition(string(next))
	log.Info("processor_transition",
		zap.String("from", string(cur)),
		zap.String("to", string(next)),
		zap.String("url", r.URL),
	)

	p.cache(ctx, log, r)
	metrics.IncResultProcessed("transition")
	return &ev, nil
}

// HandleMessage decodes a result-stream message and applies it.
func (p *Processor) HandleMessage(ctx context.Context, m stream.Message) error {
	var r domain.ProbeResult
	if err := stream.DecodeJSON(m, &r); err != nil {
		metrics.IncResultProcessed("malformed")
		return err
	}
	_, err := p.Handle(ctx, r)
	return err
}

func (p *Processor) cache(ctx context.Context, log *zap.Logger, r domain.ProbeResult) {
	if p.Cache == nil {
		return
	}
	if err := p.Cache.Put(ctx, r); err != nil {
		log.Warn("processor_cache_error", zap.Error(err))
	}
}

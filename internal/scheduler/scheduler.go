package scheduler

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/lock"
	"github.com/hamed0406/uptimepipeline/internal/metrics"
	"github.com/hamed0406/uptimepipeline/internal/probe"
	"github.com/hamed0406/uptimepipeline/internal/stream"
)

// TargetSource is the authoritative target list, normally the Registry.
type TargetSource interface {
	ListTargets(ctx context.Context) ([]domain.Target, error)
}

type Config struct {
	SyncInterval time.Duration
	ProbeTimeout time.Duration
	LockFloor    time.Duration
	LockMargin   time.Duration
	LockTimeout  time.Duration

	// PublishTimeout bounds the result publish, counted from when the probe returns.
	PublishTimeout time.Duration
}

// Scheduler keeps one recurring timer per active target and reconciles the
// timer table against the TargetSource on a fixed period.
type Scheduler struct {
	Logger  *zap.Logger
	Source  TargetSource
	Locker  lock.Locker
	Checker probe.Checker
	Results stream.Producer
	cfg     Config

	cron *cron.Cron
	base context.Context

	mu   sync.Mutex
	jobs map[domain.TargetID]job
}

type job struct {
	target domain.Target
	entry  cron.EntryID
}

func New(
	logger *zap.Logger,
	src TargetSource,
	locker lock.Locker,
	checker probe.Checker,
	results stream.Producer,
	cfg Config,
) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = 60 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = probe.DefaultTimeout
	}
	if cfg.LockFloor <= 0 {
		cfg.LockFloor = lock.DefaultFloor
	}
	if cfg.LockMargin <= 0 {
		cfg.LockMargin = lock.DefaultMargin
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 2 * time.Second
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = 5 * time.Second
	}
	cl := cronLogger{logger.Named("cron").Sugar()}
	return &Scheduler{
		Logger:  logger,
		Source:  src,
		Locker:  locker,
		Checker: checker,
		Results: results,
		cfg:     cfg,
		cron:    cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		base:    context.Background(),
		jobs:    make(map[domain.TargetID]job),
	}
}

// Run reconciles immediately, then every SyncInterval, until ctx is done.
// On return no timer fires any more and in-flight probes have published.
func (s *Scheduler) Run(ctx context.Context) error {
	s.base = ctx
	s.cron.Start()
	s.Logger.Info("scheduler_started", zap.Duration("sync_interval", s.cfg.SyncInterval))

	t := time.NewTicker(s.cfg.SyncInterval)
	defer t.Stop()

	// immediate pass
	_ = s.Reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			done := s.cron.Stop()
			<-done.Done()
			s.Logger.Info("scheduler_stopped", zap.Int("jobs", s.Active()))
			return nil
		case <-t.C:
			_ = s.Reconcile(ctx)
		}
	}
}

// Reconcile adds timers for new targets, cancels timers for targets that
// disappeared and reschedules targets whose url or interval changed. When the
// source cannot be read the table is left as it is.
func (s *Scheduler) Reconcile(ctx context.Context) error {
	targets, err := s.Source.ListTargets(ctx)
	if err != nil {
		s.Logger.Warn("scheduler_reconcile_error", zap.Error(err))
		return err
	}
	want := make(map[domain.TargetID]domain.Target, len(targets))
	for _, t := range targets {
		want[t.ID] = t
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var added, removed int
	for id, j := range s.jobs {
		t, ok := want[id]
		if ok && t.URL == j.target.URL && t.Interval == j.target.Interval {
			continue
		}
		s.cron.Remove(j.entry)
		delete(s.jobs, id)
		removed++
	}
	for id, t := range want {
		if _, ok := s.jobs[id]; ok {
			continue
		}
		s.schedule(t)
		added++
	}

	metrics.SetScheduledTargets(len(s.jobs))
	if added > 0 || removed > 0 {
		s.Logger.Info("scheduler_reconciled",
			zap.Int("added", added),
			zap.Int("removed", removed),
			zap.Int("active", len(s.jobs)),
		)
	}
	return nil
}

// schedule must be called with s.mu held.
func (s *Scheduler) schedule(t domain.Target) {
	wrapped := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.Logger.Named("cron").Sugar()})).
		Then(cron.FuncJob(func() { s.fire(t) }))
	entry := s.cron.Schedule(cron.Every(t.Interval), wrapped)
	s.jobs[t.ID] = job{target: t, entry: entry}
	s.Logger.Debug("scheduler_job_added",
		zap.String("target_id", string(t.ID)),
		zap.String("url", t.URL),
		zap.Duration("interval", t.Interval),
	)
}

// Active reports the number of scheduled targets.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Scheduled lists scheduled target ids in sorted order.
func (s *Scheduler) Scheduled() []domain.TargetID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.TargetID, 0, len(s.jobs))
	for id := range s.jobs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// fire probes t if this instance wins the target's lock. The probe is not
// tied to the scheduler's context: a target removed mid-probe still gets
// its final result published.
func (s *Scheduler) fire(t domain.Target) {
	ctx := context.WithoutCancel(s.base)
	log := s.Logger.With(zap.String("target_id", string(t.ID)))

	lctx, cancel := context.WithTimeout(ctx, s.cfg.LockTimeout)
	ok, err := s.Locker.TryAcquire(lctx, lock.Key(t.ID), lock.TTLFor(t.Interval, s.cfg.LockFloor, s.cfg.LockMargin))
	cancel()
	if err != nil {
		metrics.IncLockSkip("error")
		log.Warn("scheduler_lock_error", zap.Error(err))
		return
	}
	if !ok {
		metrics.IncLockSkip("held")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, s.cfg.ProbeTimeout+time.Second)
	r := s.Checker.Check(pctx, t)
	cancel()
	metrics.ObserveProbe(r.IsUp, time.Duration(r.LatencyMS)*time.Millisecond)

	// a probe that ran into its timeout gets the same publish budget as a fast one
	wctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	defer cancel()
	if err := stream.PublishJSON(wctx, s.Results, string(r.TargetID), r); err != nil {
		log.Warn("scheduler_publish_error", zap.String("url", t.URL), zap.Error(err))
		return
	}
	log.Debug("scheduler_probed",
		zap.String("url", t.URL),
		zap.Bool("up", r.IsUp),
		zap.Int64("latency_ms", r.LatencyMS),
		zap.String("error", r.ErrorText()),
	)
}

// cronLogger routes robfig/cron's logging through zap. Its chatty Info
// lines go to debug.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.s.Errorw(msg, append(kv, "error", err)...)
}

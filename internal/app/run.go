package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hamed0406/uptimepipeline/internal/alerting"
	"github.com/hamed0406/uptimepipeline/internal/httpapi"
	apimw "github.com/hamed0406/uptimepipeline/internal/httpapi/middleware"
	"github.com/hamed0406/uptimepipeline/internal/metrics"
	"github.com/hamed0406/uptimepipeline/internal/probe"
	"github.com/hamed0406/uptimepipeline/internal/processor"
	"github.com/hamed0406/uptimepipeline/internal/scheduler"
	"github.com/hamed0406/uptimepipeline/internal/stream"
)

const (
	StageScheduler = "scheduler"
	StageProcessor = "processor"
	StageAlerter   = "alerter"
)

var AllStages = []string{StageScheduler, StageProcessor, StageAlerter}

// Checker builds the HTTP probe from config.
func (a *App) Checker() *probe.HTTPChecker {
	c := probe.NewHTTPChecker(a.Cfg.ProbeTimeout)
	if a.Cfg.ProbeUserAgent != "" {
		c.UserAgent = a.Cfg.ProbeUserAgent
	}
	return c
}

func (a *App) Scheduler(ctx context.Context) (*scheduler.Scheduler, error) {
	locker, err := a.Locker(ctx)
	if err != nil {
		return nil, err
	}
	return scheduler.New(
		a.Log.Named("scheduler"),
		a.Registry(),
		locker,
		a.Checker(),
		a.Producer(a.Cfg.ResultsTopic),
		scheduler.Config{
			SyncInterval: a.Cfg.SyncInterval,
			ProbeTimeout: a.Cfg.ProbeTimeout,
			LockFloor:    a.Cfg.LockFloor,
			LockMargin:   a.Cfg.LockMargin,
		},
	), nil
}

func (a *App) ProcessorLoop(ctx context.Context) (*stream.Loop, error) {
	states, err := a.States(ctx)
	if err != nil {
		return nil, err
	}
	cache, err := a.Cache(ctx)
	if err != nil {
		a.Log.Warn("status_cache_unavailable", zap.Error(err))
	}
	log := a.Log.Named("processor")
	p := processor.New(log, states, a.Registry(), a.Producer(a.Cfg.AlertsTopic), cache)
	return &stream.Loop{
		Consumer: a.Consumer(a.Cfg.ResultsTopic, a.Cfg.ProcessorGroup),
		Handle:   p.HandleMessage,
		Logger:   log,
	}, nil
}

func (a *App) AlerterLoop() *stream.Loop {
	log := a.Log.Named("alerter")
	n := a.Notifier()
	if n == nil {
		log.Warn("alerter_no_channel", zap.String("hint", "set SLACK_WEBHOOK_URL to deliver alerts"))
	}
	d := alerting.New(log, n)
	return &stream.Loop{
		Consumer: a.Consumer(a.Cfg.AlertsTopic, a.Cfg.AlerterGroup),
		Handle:   d.HandleMessage,
		Logger:   log,
	}
}

// Run starts stages plus the ops server and blocks until ctx is done or a
// stage fails.
func (a *App) Run(ctx context.Context, stages ...string) error {
	if len(stages) == 0 {
		stages = AllStages
	}
	if !a.UsesKafka() && len(stages) < len(AllStages) {
		return errors.New("KAFKA_BROKER is required unless every stage runs in this process")
	}
	for _, w := range a.Cfg.Warnings() {
		a.Log.Warn("config_warning", zap.String("detail", w))
	}
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		a.Log.Warn("metrics_register_error", zap.Error(err))
	}
	if err := a.WaitForKafka(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	srv := httpapi.NewServer(a.Log.Named("http"), Version, nil)
	g, gctx := errgroup.WithContext(ctx)

	for _, st := range stages {
		switch st {
		case StageScheduler:
			s, err := a.Scheduler(ctx)
			if err != nil {
				return err
			}
			srv.Jobs = s.Active
			srv.Reconcile = s.Reconcile
			g.Go(func() error { return s.Run(gctx) })
		case StageProcessor:
			loop, err := a.ProcessorLoop(ctx)
			if err != nil {
				return err
			}
			g.Go(func() error { return loop.Run(gctx) })
		case StageAlerter:
			loop := a.AlerterLoop()
			g.Go(func() error { return loop.Run(gctx) })
		default:
			return fmt.Errorf("unknown stage %q", st)
		}
	}

	if cache, err := a.Cache(ctx); err == nil {
		srv.Cache = cache
	}
	srv.Checks = a.Checks()

	if a.Cfg.Addr != "" {
		keys := apimw.Keys{Public: a.Cfg.PublicAPIKeys, Admin: a.Cfg.AdminAPIKeys}
		h := srv.Router(keys, a.Cfg.PublicRPM, a.Cfg.PublicBurst)
		g.Go(func() error { return serve(gctx, a.Log, a.Cfg.Addr, h) })
	}

	a.Log.Info("pipeline_started", zap.Strings("stages", stages), zap.String("version", Version))
	err := g.Wait()
	a.Log.Info("pipeline_stopped", zap.Error(err))
	return err
}

func serve(ctx context.Context, log *zap.Logger, addr string, h http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: h, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() {
		log.Info("http_listen", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http %s: %w", addr, err)
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	}
}

// Package app builds the pipeline's components from configuration and owns
// their shared connections.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/config"
	"github.com/hamed0406/uptimepipeline/internal/httpapi"
	"github.com/hamed0406/uptimepipeline/internal/lock"
	"github.com/hamed0406/uptimepipeline/internal/notify"
	"github.com/hamed0406/uptimepipeline/internal/registry"
	"github.com/hamed0406/uptimepipeline/internal/repo"
	"github.com/hamed0406/uptimepipeline/internal/repo/memory"
	pgrepo "github.com/hamed0406/uptimepipeline/internal/repo/postgres"
	redisrepo "github.com/hamed0406/uptimepipeline/internal/repo/redis"
	"github.com/hamed0406/uptimepipeline/internal/repo/sqlite"
	"github.com/hamed0406/uptimepipeline/internal/stream"
)

// Version is set at build time with -ldflags "-X .../internal/app.Version=...".
var Version = "dev"

type App struct {
	Cfg config.Config
	Log *zap.Logger

	mu      sync.Mutex
	redis   redis.UniversalClient
	pool    *pgxpool.Pool
	broker  *stream.Broker
	mem     *memory.Store
	states  repo.StateStore
	cache   repo.StatusCache
	locker  lock.Locker
	closers []func() error
	checks  map[string]httpapi.Check
}

func New(cfg config.Config, log *zap.Logger) *App {
	if log == nil {
		log = zap.NewNop()
	}
	return &App{Cfg: cfg, Log: log, checks: make(map[string]httpapi.Check)}
}

// Retry runs fn with exponential backoff until it succeeds, attempts run
// out or ctx is done. It is only used while connecting at startup.
func Retry(ctx context.Context, log *zap.Logger, name string, attempts int, initial time.Duration, fn func(context.Context) error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = initial
	eb.MaxInterval = 30 * time.Second
	eb.MaxElapsedTime = 0
	if attempts < 1 {
		attempts = 1
	}
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(attempts-1)), ctx)
	return backoff.RetryNotify(func() error { return fn(ctx) }, b, func(err error, wait time.Duration) {
		log.Warn("startup_connect_retry", zap.String("dependency", name), zap.Duration("wait", wait), zap.Error(err))
	})
}

func (a *App) retry(ctx context.Context, name string, fn func(context.Context) error) error {
	return Retry(ctx, a.Log, name, a.Cfg.StartupAttempts, a.Cfg.StartupBackoff, fn)
}

// Redis returns the shared client, connecting on first use.
func (a *App) Redis(ctx context.Context) (redis.UniversalClient, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.redisLocked(ctx)
}

func (a *App) redisLocked(ctx context.Context) (redis.UniversalClient, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	c := redis.NewClient(&redis.Options{
		Addr:     a.Cfg.RedisAddr,
		Password: a.Cfg.RedisPassword,
		DB:       a.Cfg.RedisDB,
	})
	if err := a.retry(ctx, "redis", func(ctx context.Context) error { return c.Ping(ctx).Err() }); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("connect redis %s: %w", a.Cfg.RedisAddr, err)
	}
	a.Log.Info("redis_connected", zap.String("addr", a.Cfg.RedisAddr))
	a.redis = c
	a.closers = append(a.closers, c.Close)
	a.checks["redis"] = func(ctx context.Context) error { return c.Ping(ctx).Err() }
	return c, nil
}

func (a *App) postgresLocked(ctx context.Context) (*pgxpool.Pool, error) {
	if a.pool != nil {
		return a.pool, nil
	}
	if a.Cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for the postgres backend")
	}
	pool, err := pgxpool.New(ctx, a.Cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := a.retry(ctx, "postgres", pool.Ping); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	a.Log.Info("postgres_connected")
	a.pool = pool
	a.closers = append(a.closers, func() error { pool.Close(); return nil })
	a.checks["postgres"] = pool.Ping
	return pool, nil
}

func (a *App) memoryLocked() *memory.Store {
	if a.mem == nil {
		a.mem = memory.NewWithHistory(a.Cfg.HistoryLength)
	}
	return a.mem
}

// Locker builds the distributed execution lock for LOCK_BACKEND.
func (a *App) Locker(ctx context.Context) (lock.Locker, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.locker != nil {
		return a.locker, nil
	}
	owner := lock.NewOwner()
	switch a.Cfg.LockBackend {
	case "redis", "":
		c, err := a.redisLocked(ctx)
		if err != nil {
			return nil, err
		}
		a.locker = lock.NewRedis(c, owner)
	case "postgres":
		pool, err := a.postgresLocked(ctx)
		if err != nil {
			return nil, err
		}
		pl := lock.NewPostgres(pool, owner)
		if err := pl.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.locker = pl
	case "memory":
		a.Log.Warn("lock_backend_memory", zap.String("hint", "only one scheduler instance may run"))
		a.locker = lock.NewMemory(owner)
	default:
		return nil, fmt.Errorf("unknown LOCK_BACKEND %q", a.Cfg.LockBackend)
	}
	a.Log.Info("lock_backend", zap.String("backend", a.Cfg.LockBackend), zap.String("owner", owner))
	return a.locker, nil
}

// States builds the transition state store for STATE_BACKEND.
func (a *App) States(ctx context.Context) (repo.StateStore, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.states != nil {
		return a.states, nil
	}
	switch a.Cfg.StateBackend {
	case "redis", "":
		c, err := a.redisLocked(ctx)
		if err != nil {
			return nil, err
		}
		a.states = redisrepo.New(c, a.Cfg.HistoryLength, a.Log.Named("state"))
	case "postgres":
		pool, err := a.postgresLocked(ctx)
		if err != nil {
			return nil, err
		}
		s := pgrepo.FromPool(pool, a.Log.Named("state"))
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		a.states = s
	case "sqlite":
		s, err := sqlite.Open(ctx, a.Cfg.SQLitePath, a.Log.Named("state"))
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		a.states = s
	case "memory":
		a.Log.Warn("state_backend_memory", zap.String("hint", "state is lost on restart"))
		a.states = a.memoryLocked()
	default:
		return nil, fmt.Errorf("unknown STATE_BACKEND %q", a.Cfg.StateBackend)
	}
	if p, ok := a.states.(repo.Pinger); ok {
		a.checks["state_store"] = p.Ping
	}
	return a.states, nil
}

// Cache returns the status cache: Redis when a Redis backend is in use,
// otherwise process memory.
func (a *App) Cache(ctx context.Context) (repo.StatusCache, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache != nil {
		return a.cache, nil
	}
	if a.Cfg.StateBackend == "redis" || a.Cfg.LockBackend == "redis" {
		c, err := a.redisLocked(ctx)
		if err != nil {
			return nil, err
		}
		a.cache = redisrepo.New(c, a.Cfg.HistoryLength, a.Log.Named("cache"))
	} else {
		a.cache = a.memoryLocked()
	}
	return a.cache, nil
}

// UsesKafka reports whether stages talk through a broker. Without one they
// share an in-process broker and must run in one process.
func (a *App) UsesKafka() bool { return len(a.Cfg.KafkaBrokers) > 0 }

// WaitForKafka blocks until a broker answers or the startup budget is spent.
func (a *App) WaitForKafka(ctx context.Context) error {
	if !a.UsesKafka() {
		return nil
	}
	brokers := a.Cfg.KafkaBrokers
	err := a.retry(ctx, "kafka", func(ctx context.Context) error {
		cctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return stream.PingKafka(cctx, brokers)
	})
	if err != nil {
		return fmt.Errorf("connect kafka %s: %w", strings.Join(brokers, ","), err)
	}
	a.mu.Lock()
	a.checks["kafka"] = func(ctx context.Context) error { return stream.PingKafka(ctx, brokers) }
	a.mu.Unlock()
	a.Log.Info("kafka_connected", zap.Strings("brokers", brokers))
	return nil
}

func (a *App) memBroker() *stream.Broker {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.broker == nil {
		a.broker = stream.NewBroker(8)
	}
	return a.broker
}

func (a *App) Producer(topic string) stream.Producer {
	if !a.UsesKafka() {
		return a.memBroker().Producer(topic)
	}
	p := stream.NewKafkaProducer(a.Cfg.KafkaBrokers, topic, a.Log)
	a.addCloser(p.Close)
	return p
}

func (a *App) Consumer(topic, group string) stream.Consumer {
	if !a.UsesKafka() {
		c := a.memBroker().Consumer(topic, group)
		a.addCloser(c.Close)
		return c
	}
	c := stream.NewKafkaConsumer(a.Cfg.KafkaBrokers, topic, group, a.Log)
	a.addCloser(c.Close)
	return c
}

func (a *App) Registry() *registry.Client {
	return registry.New(a.Cfg.RegistryURL, a.Cfg.InternalAPIKey, a.Cfg.RegistryTimeout,
		a.Cfg.RegistryAttempts, a.Cfg.RegistryBackoff, a.Log.Named("registry"))
}

// Notifier returns nil when no webhook is configured.
func (a *App) Notifier() notify.Notifier {
	return notify.Compact(notify.NewWebhook(a.Cfg.WebhookURL))
}

// Checks returns the health probes of every connected dependency.
func (a *App) Checks() map[string]httpapi.Check {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]httpapi.Check, len(a.checks))
	for k, v := range a.checks {
		out[k] = v
	}
	return out
}

func (a *App) addCloser(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, fn)
}

// Close releases everything in reverse order of acquisition.
func (a *App) Close() error {
	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()

	var errs error
	for i := len(closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, closers[i]())
	}
	return errs
}

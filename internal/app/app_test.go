package app

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/config"
	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/lock"
	"github.com/hamed0406/uptimepipeline/internal/registry/registrytest"
	"github.com/hamed0406/uptimepipeline/internal/stream"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Addr = ""
	cfg.KafkaBrokers = nil
	cfg.StartupAttempts = 2
	cfg.StartupBackoff = time.Millisecond
	cfg.RegistryBackoff = time.Millisecond
	return cfg
}

func TestRetry_StopsAfterAttempts(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), zap.NewNop(), "x", 3, time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("down")
	})
	require.Error(t, err)
	require.Equal(t, 3, calls)

	calls = 0
	err = Retry(context.Background(), zap.NewNop(), "x", 5, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("down")
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestBackends_RedisAndMemory(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := baseConfig(t)
	cfg.RedisAddr = mr.Addr()

	a := New(cfg, zap.NewNop())
	defer a.Close()
	ctx := context.Background()

	l, err := a.Locker(ctx)
	require.NoError(t, err)
	require.IsType(t, &lock.Redis{}, l)

	states, err := a.States(ctx)
	require.NoError(t, err)
	require.NoError(t, states.Set(ctx, "1", domain.StateDown))
	v, err := mr.Get("monitor:1:state")
	require.NoError(t, err)
	require.Equal(t, "DOWN", v)

	_, ok := a.Checks()["redis"]
	require.True(t, ok)

	cfg.StateBackend, cfg.LockBackend = "memory", "memory"
	m := New(cfg, zap.NewNop())
	s1, err := m.States(ctx)
	require.NoError(t, err)
	c1, err := m.Cache(ctx)
	require.NoError(t, err)
	require.Same(t, s1, c1)
}

func TestBackends_UnreachableRedisFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	cfg := baseConfig(t)
	cfg.RedisAddr = addr
	_, err = New(cfg, zap.NewNop()).Locker(context.Background())
	require.Error(t, err)
}

func TestBackends_Unknown(t *testing.T) {
	cfg := baseConfig(t)
	cfg.StateBackend = "cassandra"
	_, err := New(cfg, zap.NewNop()).States(context.Background())
	require.Error(t, err)
}

func TestRun_RequiresBrokerForSingleStage(t *testing.T) {
	cfg := baseConfig(t)
	err := New(cfg, zap.NewNop()).Run(context.Background(), StageProcessor)
	require.Error(t, err)
}

// A DOWN result published on the in-process results stream comes out of
// the webhook as a DOWN alert, with the incident recorded on the Registry.
func TestProcessorAndAlerter_InProcess(t *testing.T) {
	reg := registrytest.New("k")
	defer reg.Close()

	var mu sync.Mutex
	var texts []string
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p map[string]string
		_ = json.NewDecoder(r.Body).Decode(&p)
		mu.Lock()
		texts = append(texts, p["text"])
		mu.Unlock()
	}))
	defer hook.Close()

	cfg := baseConfig(t)
	cfg.StateBackend, cfg.LockBackend = "memory", "memory"
	cfg.RegistryURL = reg.URL
	cfg.InternalAPIKey = "k"
	cfg.WebhookURL = hook.URL

	a := New(cfg, zap.NewNop())
	defer a.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	proc, err := a.ProcessorLoop(ctx)
	require.NoError(t, err)
	alerter := a.AlerterLoop()
	go func() { _ = proc.Run(ctx) }()
	go func() { _ = alerter.Run(ctx) }()

	msg := "timeout"
	require.NoError(t, stream.PublishJSON(ctx, a.Producer(cfg.ResultsTopic), "5", domain.ProbeResult{
		TargetID: "5", URL: "https://down.example", Timestamp: time.Now().UTC(), LatencyMS: 10000, Error: &msg,
	}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(texts) == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	require.True(t, strings.Contains(texts[0], "Site is DOWN"), texts[0])
	mu.Unlock()
	require.Len(t, reg.Incidents("5"), 1)
	require.Equal(t, int64(1), reg.Stats("5").TotalChecks)
}

func TestStates_RegistersStateStoreHealthCheck(t *testing.T) {
	cfg := baseConfig(t)
	cfg.StateBackend = "sqlite"
	cfg.SQLitePath = ":memory:"

	a := New(cfg, zap.NewNop())
	defer a.Close()
	_, err := a.States(context.Background())
	require.NoError(t, err)

	check, ok := a.Checks()["state_store"]
	require.True(t, ok)
	require.NoError(t, check(context.Background()))

	require.NoError(t, a.Close())
	require.Error(t, check(context.Background()))
}

package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	"github.com/hamed0406/uptimepipeline/internal/registry"
	"github.com/hamed0406/uptimepipeline/internal/registry/registrytest"
)

func newClient(srv *registrytest.Server, key string) *registry.Client {
	return registry.New(srv.URL, key, time.Second, 3, time.Millisecond, nil)
}

func TestListTargets_FiltersAndNormalizes(t *testing.T) {
	srv := registrytest.New("secret")
	defer srv.Close()
	srv.SetTargets(
		domain.Target{ID: "1", URL: "https://a.example", Interval: 30 * time.Second, Active: true},
		domain.Target{ID: "2", URL: "https://b.example", Interval: 3 * time.Second, Active: true},
		domain.Target{ID: "3", URL: "https://c.example", Active: true},
		domain.Target{ID: "4", URL: "https://d.example", Interval: time.Minute, Active: false},
		domain.Target{ID: "5", URL: "", Interval: time.Minute, Active: true},
	)

	got, err := newClient(srv, "secret").ListTargets(context.Background())
	if err != nil {
		t.Fatalf("ListTargets: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("want 3 targets, got %d: %+v", len(got), got)
	}
	want := map[domain.TargetID]time.Duration{
		"1": 30 * time.Second,
		"2": domain.MinInterval,
		"3": domain.DefaultInterval,
	}
	for _, tg := range got {
		if want[tg.ID] != tg.Interval {
			t.Fatalf("target %s: want interval %v, got %v", tg.ID, want[tg.ID], tg.Interval)
		}
	}
}

func TestListTargets_RetriesServerErrors(t *testing.T) {
	srv := registrytest.New("secret")
	defer srv.Close()
	srv.SetTargets(domain.Target{ID: "1", URL: "https://a.example", Interval: time.Minute, Active: true})
	srv.FailList(2)

	got, err := newClient(srv, "secret").ListTargets(context.Background())
	if err != nil || len(got) != 1 {
		t.Fatalf("want 1 target after retries, got %d err=%v", len(got), err)
	}
	if n := srv.Calls("list"); n != 3 {
		t.Fatalf("want 3 calls, got %d", n)
	}
}

func TestListTargets_GivesUpAfterAttempts(t *testing.T) {
	srv := registrytest.New("secret")
	defer srv.Close()
	srv.FailList(10)

	if _, err := newClient(srv, "secret").ListTargets(context.Background()); err == nil {
		t.Fatalf("want error")
	}
	if n := srv.Calls("list"); n != 3 {
		t.Fatalf("want exactly 3 attempts, got %d", n)
	}
}

func TestWrongKeyIsPermanent(t *testing.T) {
	srv := registrytest.New("secret")
	defer srv.Close()

	err := newClient(srv, "wrong").RecordStats(context.Background(), "1", true)
	if !errors.Is(err, registry.ErrPermanent) {
		t.Fatalf("want ErrPermanent, got %v", err)
	}
}

func TestRecordStatsAndIncident(t *testing.T) {
	srv := registrytest.New("secret")
	defer srv.Close()
	c := newClient(srv, "secret")
	ctx := context.Background()

	for _, up := range []bool{true, true, false} {
		if err := c.RecordStats(ctx, "9", up); err != nil {
			t.Fatalf("RecordStats: %v", err)
		}
	}
	agg := srv.Stats("9")
	if agg.TotalChecks != 3 || agg.UpChecks != 2 {
		t.Fatalf("want 3 total / 2 up, got %+v", agg)
	}

	srv.FailIncidents(1)
	if err := c.RecordIncident(ctx, "9", domain.Incident{EventType: domain.StateDown, Details: "timeout"}); err != nil {
		t.Fatalf("RecordIncident: %v", err)
	}
	inc := srv.Incidents("9")
	if len(inc) != 1 || inc[0].EventType != domain.StateDown || inc[0].Details != "timeout" {
		t.Fatalf("unexpected incidents %+v", inc)
	}
}

func TestCancelledContextStopsRetries(t *testing.T) {
	srv := registrytest.New("secret")
	defer srv.Close()
	srv.FailStats(100)
	c := registry.New(srv.URL, "secret", time.Second, 50, 50*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := c.RecordStats(ctx, "1", true); err == nil {
		t.Fatalf("want error")
	}
	if el := time.Since(start); el > time.Second {
		t.Fatalf("retries outlived the context: %v", el)
	}
}

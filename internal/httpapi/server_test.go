package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	apimw "github.com/hamed0406/uptimepipeline/internal/httpapi/middleware"
	"github.com/hamed0406/uptimepipeline/internal/repo/memory"
)

// ---- test helpers ----

func setup(t *testing.T) (*Server, *memory.Store, *httptest.Server) {
	t.Helper()
	cache := memory.New()
	srv := NewServer(zap.NewNop(), "test", cache)
	keys := apimw.Keys{Public: []string{"pub_test"}, Admin: []string{"adm_test"}}
	srv.Reconcile = func(ctx context.Context) error { return nil }
	srv.Jobs = func() int { return 3 }

	ts := httptest.NewServer(srv.Router(keys, 10_000, 10_000))
	t.Cleanup(ts.Close)
	return srv, cache, ts
}

func get(t *testing.T, url, key string) *http.Response {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, url, nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// ---- tests ----

func TestHealthz_ReportsDependencies(t *testing.T) {
	srv, _, ts := setup(t)
	srv.Checks["redis"] = func(context.Context) error { return nil }
	srv.Checks["kafka"] = func(context.Context) error { return errors.New("dial tcp: refused") }

	resp := get(t, ts.URL+"/healthz", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
	var body struct {
		Status         string          `json:"status"`
		Version        string          `json:"version"`
		JobsActive     *int            `json:"jobs_active"`
		Infrastructure map[string]bool `json:"infrastructure"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Version != "test" {
		t.Fatalf("unexpected health %+v", body)
	}
	if body.JobsActive == nil || *body.JobsActive != 3 {
		t.Fatalf("want jobs_active=3, got %v", body.JobsActive)
	}
	if !body.Infrastructure["redis"] || body.Infrastructure["kafka"] {
		t.Fatalf("unexpected infrastructure %+v", body.Infrastructure)
	}
}

func TestStatusAndHistory(t *testing.T) {
	_, cache, ts := setup(t)
	ctx := context.Background()

	// no key
	if resp := get(t, ts.URL+"/api/status/7", ""); resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("want 401 without key, got %d", resp.StatusCode)
	}

	// never probed -> null
	resp := get(t, ts.URL+"/api/status/7", "pub_test")
	var latest *domain.ProbeResult
	if err := json.NewDecoder(resp.Body).Decode(&latest); err != nil || latest != nil {
		t.Fatalf("want null status, got %+v err=%v", latest, err)
	}

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		_ = cache.Put(ctx, domain.ProbeResult{TargetID: "7", URL: "https://x.example", Timestamp: base.Add(time.Duration(i) * time.Minute), IsUp: i != 2})
	}

	resp = get(t, ts.URL+"/api/status/7", "pub_test")
	if err := json.NewDecoder(resp.Body).Decode(&latest); err != nil || latest == nil || latest.IsUp {
		t.Fatalf("want latest DOWN result, got %+v err=%v", latest, err)
	}

	resp = get(t, ts.URL+"/api/history/7", "adm_test")
	var hist []domain.ProbeResult
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hist) != 3 || !hist[0].Timestamp.Equal(base) {
		t.Fatalf("want 3 entries oldest first, got %+v", hist)
	}

	resp = get(t, ts.URL+"/api/history/unknown", "pub_test")
	hist = nil
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil || hist == nil || len(hist) != 0 {
		t.Fatalf("want empty array, got %+v err=%v", hist, err)
	}
}

func TestAdminReconcile(t *testing.T) {
	_, _, ts := setup(t)

	post := func(key string) int {
		req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/admin/reconcile", nil)
		req.Header.Set("X-API-Key", key)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("POST: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := post("pub_test"); code != http.StatusForbidden {
		t.Fatalf("want 403 for public key, got %d", code)
	}
	if code := post("adm_test"); code != http.StatusOK {
		t.Fatalf("want 200 for admin key, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, _, ts := setup(t)
	if resp := get(t, ts.URL+"/metrics", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("want 200, got %d", resp.StatusCode)
	}
}

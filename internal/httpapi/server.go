package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/uptimepipeline/internal/domain"
	apimw "github.com/hamed0406/uptimepipeline/internal/httpapi/middleware"
	"github.com/hamed0406/uptimepipeline/internal/metrics"
	"github.com/hamed0406/uptimepipeline/internal/repo"
)

// Check reports whether one piece of infrastructure is reachable.
type Check func(ctx context.Context) error

// Server is the ops surface of a worker process: health, metrics and the
// cached status read API.
type Server struct {
	Logger  *zap.Logger
	Version string
	Cache   repo.StatusCache // nil disables the status routes

	// Jobs reports scheduled targets when the process runs a scheduler.
	Jobs func() int
	// Reconcile triggers an out-of-band reconciliation (admin only).
	Reconcile func(ctx context.Context) error
	Checks    map[string]Check
}

func NewServer(l *zap.Logger, version string, cache repo.StatusCache) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Version: version, Cache: cache, Checks: map[string]Check{}}
}

func (s *Server) Router(keys apimw.Keys, publicRPM, publicBurst int) http.Handler {
	r := chi.NewRouter()
	r.Use(cors.AllowAll().Handler)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(api chi.Router) {
		api.Use(apimw.RateLimit(publicRPM, publicBurst))
		api.Group(func(pub chi.Router) {
			pub.Use(apimw.RequireAny(keys))
			pub.Get("/status/{id}", s.handleStatus)
			pub.Get("/history/{id}", s.handleHistory)
		})
		if s.Reconcile != nil {
			api.With(apimw.RequireAdmin(keys)).Post("/admin/reconcile", s.handleReconcile)
		}
	})
	return r
}

type healthResponse struct {
	Status         string          `json:"status"`
	Version        string          `json:"version"`
	JobsActive     *int            `json:"jobs_active,omitempty"`
	Infrastructure map[string]bool `json:"infrastructure"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "healthy", Version: s.Version, Infrastructure: map[string]bool{}}
	for name, check := range s.Checks {
		err := check(ctx)
		resp.Infrastructure[name] = err == nil
		if err != nil {
			resp.Status = "degraded"
			s.Logger.Warn("health_check_failed", zap.String("dependency", name), zap.Error(err))
		}
	}
	if s.Jobs != nil {
		n := s.Jobs()
		resp.JobsActive = &n
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "status cache not configured")
		return
	}
	id := domain.TargetID(chi.URLParam(r, "id"))
	res, err := s.Cache.Latest(r.Context(), id)
	if err != nil {
		s.Logger.Warn("status_read_error", zap.String("target_id", string(id)), zap.Error(err))
		writeError(w, http.StatusBadGateway, "status unavailable")
		return
	}
	// null when the target was never probed
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.Cache == nil {
		writeError(w, http.StatusServiceUnavailable, "status cache not configured")
		return
	}
	id := domain.TargetID(chi.URLParam(r, "id"))
	h, err := s.Cache.History(r.Context(), id)
	if err != nil {
		s.Logger.Warn("history_read_error", zap.String("target_id", string(id)), zap.Error(err))
		writeError(w, http.StatusBadGateway, "history unavailable")
		return
	}
	if h == nil {
		h = []domain.ProbeResult{}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if err := s.Reconcile(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	resp := map[string]any{"status": "reconciled"}
	if s.Jobs != nil {
		resp["jobs_active"] = s.Jobs()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Package registrytest runs an in-memory Registry behind httptest for tests
// of the scheduler and processor.
package registrytest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hamed0406/uptimepipeline/internal/domain"
)

type Server struct {
	*httptest.Server
	APIKey string

	mu        sync.Mutex
	targets   []domain.Target
	stats     map[domain.TargetID]*domain.UptimeAggregate
	incidents map[domain.TargetID][]domain.Incident
	calls     map[string]int

	failList      int
	failStats     int
	failIncidents int
}

func New(apiKey string) *Server {
	s := &Server{
		APIKey:    apiKey,
		stats:     make(map[domain.TargetID]*domain.UptimeAggregate),
		incidents: make(map[domain.TargetID][]domain.Incident),
		calls:     make(map[string]int),
	}
	r := chi.NewRouter()
	r.Use(s.auth)
	r.Get("/all_monitors", s.list)
	r.Post("/monitors/{id}/stats", s.recordStats)
	r.Post("/monitors/{id}/incidents", s.recordIncident)
	s.Server = httptest.NewServer(r)
	return s
}

// SetTargets replaces the catalogue served by /all_monitors.
func (s *Server) SetTargets(ts ...domain.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targets = append([]domain.Target(nil), ts...)
}

// FailList makes the next n list calls answer 500. Same for the others.
func (s *Server) FailList(n int)      { s.mu.Lock(); s.failList = n; s.mu.Unlock() }
func (s *Server) FailStats(n int)     { s.mu.Lock(); s.failStats = n; s.mu.Unlock() }
func (s *Server) FailIncidents(n int) { s.mu.Lock(); s.failIncidents = n; s.mu.Unlock() }

func (s *Server) Stats(id domain.TargetID) domain.UptimeAggregate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a := s.stats[id]; a != nil {
		return *a
	}
	return domain.UptimeAggregate{TargetID: id}
}

func (s *Server) Incidents(id domain.TargetID) []domain.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Incident(nil), s.incidents[id]...)
}

// Calls counts authorized requests per operation (list, stats, incident),
// injected failures included.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

func (s *Server) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Internal-API-Key") != s.APIKey {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// take counts the call and consumes one injected failure, if any.
func (s *Server) take(route string, budget *int) bool {
	s.calls[route]++
	if *budget > 0 {
		*budget--
		return true
	}
	return false
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.take("list", &s.failList) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "injected"})
		return
	}
	out := make([]map[string]any, 0, len(s.targets))
	for _, t := range s.targets {
		var id any = string(t.ID)
		if n, err := strconv.Atoi(string(t.ID)); err == nil {
			id = n
		}
		out = append(out, map[string]any{
			"id":               id,
			"url":              t.URL,
			"interval_seconds": int(t.Interval / time.Second),
			"is_active":        t.Active,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) recordStats(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IsUp *bool `json:"is_up"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.IsUp == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Status payload missing."})
		return
	}
	id := domain.TargetID(chi.URLParam(r, "id"))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.take("stats", &s.failStats) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "injected"})
		return
	}
	a := s.stats[id]
	if a == nil {
		a = &domain.UptimeAggregate{TargetID: id}
		s.stats[id] = a
	}
	a.Record(*body.IsUp, time.Now().UTC())
	writeJSON(w, http.StatusOK, map[string]string{"message": "Persistent stats updated."})
}

func (s *Server) recordIncident(w http.ResponseWriter, r *http.Request) {
	var inc domain.Incident
	if err := json.NewDecoder(r.Body).Decode(&inc); err != nil || inc.EventType == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Event type required."})
		return
	}
	id := domain.TargetID(chi.URLParam(r, "id"))

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.take("incident", &s.failIncidents) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "injected"})
		return
	}
	s.incidents[id] = append(s.incidents[id], inc)
	writeJSON(w, http.StatusCreated, map[string]string{"message": "Incident logged to audit trail."})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

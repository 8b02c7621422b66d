// Package mock serves fake endpoints for trying poll locally.
//
//   - GET /health?svc=NAME cycles a service through ok, degraded and down,
//     changing every 20-60 seconds.
//   - GET /deploys/{id} reports a deployment that rolls out for 10-30
//     seconds from its first request and then settles on ok or failed
//     for good.
package mock

import (
	"encoding/json"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
)

type healthState struct {
	statusIdx    int
	nextChangeAt time.Time
}

type deployState struct {
	settleAt time.Time
	result   string
}

type server struct {
	logger *slog.Logger

	mu      sync.Mutex
	health  map[string]*healthState
	deploys map[string]*deployState
}

var healthStatuses = []string{"ok", "degraded", "down"}

// Handler returns the mock endpoints.
func Handler(logger *slog.Logger) http.Handler {
	s := &server{
		logger:  logger,
		health:  make(map[string]*healthState),
		deploys: make(map[string]*deployState),
	}

	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Get("/deploys/{id}", s.handleDeploy)
	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	svc := r.URL.Query().Get("svc")
	jitter()

	s.mu.Lock()
	st, ok := s.health[svc]
	if !ok {
		st = &healthState{nextChangeAt: time.Now().Add(between(20, 60))}
		s.health[svc] = st
	}
	if time.Now().After(st.nextChangeAt) {
		from := healthStatuses[st.statusIdx]
		st.statusIdx = (st.statusIdx + 1) % len(healthStatuses)
		st.nextChangeAt = time.Now().Add(between(20, 60))
		s.logger.Info("status change", "svc", svc, "from", from, "to", healthStatuses[st.statusIdx])
	}
	status := healthStatuses[st.statusIdx]
	s.mu.Unlock()

	writeJSON(w, map[string]string{"svc": svc, "status": status})
}

func (s *server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	jitter()

	s.mu.Lock()
	st, ok := s.deploys[id]
	if !ok {
		result := "ok"
		if rand.Intn(4) == 0 {
			result = "failed"
		}
		st = &deployState{settleAt: time.Now().Add(between(10, 30)), result: result}
		s.deploys[id] = st
		s.logger.Info("deploy started", "id", id)
	}
	status := "degraded"
	if time.Now().After(st.settleAt) {
		status = st.result
	}
	s.mu.Unlock()

	writeJSON(w, map[string]string{"id": id, "status": status})
}

// jitter simulates network latency.
func jitter() {
	time.Sleep(time.Duration(50+rand.Intn(150)) * time.Millisecond)
}

func between(minSecs, maxSecs int) time.Duration {
	return time.Duration(minSecs+rand.Intn(maxSecs-minSecs+1)) * time.Second
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

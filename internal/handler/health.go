package handler

import (
	"context"
	"net/http"
	"time"

	"tripplan/internal/hub"
	"tripplan/internal/store"
)

// Pinger is a dependency readiness depends on, such as the response cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	store *store.Store
	hub   *hub.Hub
	deps  []Pinger
}

func NewHealthHandler(s *store.Store, h *hub.Hub, deps ...Pinger) *HealthHandler {
	return &HealthHandler{
		store: s,
		hub:   h,
		deps:  deps,
	}
}

func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type ReadyResponse struct {
	Ready       bool      `json:"ready"`
	Sessions    int       `json:"sessions"`
	Connections int       `json:"connections"`
	ServerTime  time.Time `json:"serverTime"`
}

func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	ready := true
	for _, dep := range h.deps {
		if err := dep.Ping(ctx); err != nil {
			ready = false
			break
		}
	}

	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}

	respondJSON(w, status, ReadyResponse{
		Ready:       ready,
		Sessions:    h.store.Count(),
		Connections: h.hub.ClientCount(),
		ServerTime:  time.Now(),
	})
}

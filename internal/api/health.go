package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-runner/internal/session"
)

const healthCheckTimeout = 5 * time.Second

// Pinger reports database reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SessionCounter exposes session totals.
type SessionCounter interface {
	Len() int
	Running() []session.Session
}

// ClientCounter exposes the number of logged-in client connections.
type ClientCounter interface {
	Len() int
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	db       Pinger
	sessions SessionCounter
	clients  ClientCounter
}

// NewHealthHandler creates a new health handler. sessions and clients may
// be nil.
func NewHealthHandler(db Pinger, sessions SessionCounter, clients ClientCounter) *HealthHandler {
	return &HealthHandler{db: db, sessions: sessions, clients: clients}
}

// Health returns the health status of the API and its dependencies.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok"}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.db.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	if h.sessions != nil {
		status["sessions"] = h.sessions.Len()
		status["running"] = len(h.sessions.Running())
	}
	if h.clients != nil {
		status["clients"] = h.clients.Len()
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}

//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/shsh-runner/internal/session"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected application/json, got %q", ct)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusNotFound, "missing")

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "missing" {
		t.Errorf("Expected error=missing, got %v", got["error"])
	}
}

type fakePinger struct{ err error }

func (f fakePinger) Ping(context.Context) error { return f.err }

type fakeSessions struct {
	total   int
	running int
}

func (f fakeSessions) Len() int { return f.total }

func (f fakeSessions) Running() []session.Session {
	return make([]session.Session, f.running)
}

type fakeClients int

func (f fakeClients) Len() int { return int(f) }

func getHealth(t *testing.T, h *HealthHandler) (int, map[string]interface{}) {
	t.Helper()
	r := chi.NewRouter()
	h.RegisterHealth(r)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]interface{}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return w.Code, body
}

func TestHealthOK(t *testing.T) {
	code, body := getHealth(t, NewHealthHandler(fakePinger{}, fakeSessions{total: 3, running: 1}, fakeClients(2)))

	if code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", code)
	}
	if body["status"] != "healthy" {
		t.Errorf("Expected healthy, got %v", body["status"])
	}
	if body["sessions"] != float64(3) || body["running"] != float64(1) {
		t.Errorf("Unexpected session counts: %v", body)
	}
	if body["clients"] != float64(2) {
		t.Errorf("Expected 2 clients, got %v", body["clients"])
	}
}

func TestHealthDatabaseDown(t *testing.T) {
	code, body := getHealth(t, NewHealthHandler(fakePinger{err: errors.New("closed")}, nil, nil))

	if code != http.StatusServiceUnavailable {
		t.Fatalf("Expected status 503, got %d", code)
	}
	if body["status"] != "degraded" {
		t.Errorf("Expected degraded, got %v", body["status"])
	}
	checks, _ := body["checks"].(map[string]interface{})
	if checks["database"] != "unreachable" {
		t.Errorf("Expected database unreachable, got %v", checks["database"])
	}
	if _, ok := body["sessions"]; ok {
		t.Error("sessions must be omitted without a counter")
	}
}

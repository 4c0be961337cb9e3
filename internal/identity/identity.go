// Package identity provides per-connection request identity primitives.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ConnHeaderName lets a client propose its own connection id, e.g. to
// correlate browser logs with server logs.
const ConnHeaderName = "X-Runner-Conn-ID"

type contextKey int

const (
	connIDKey contextKey = iota
)

var connIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)

// ConnIDFromContext extracts the connection ID from the request context.
func ConnIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(connIDKey).(string); ok {
		return v
	}
	return ""
}

// WithConnID returns a context carrying id.
func WithConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

func sanitizeConnID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || !connIDPattern.MatchString(id) {
		return ""
	}
	return id
}

func connIDFromRequest(r *http.Request) string {
	id := r.Header.Get(ConnHeaderName)
	if id == "" {
		id = r.URL.Query().Get("conn_id")
	}
	if id = sanitizeConnID(id); id != "" {
		return id
	}
	return uuid.NewString()
}

// Middleware injects a connection ID into every request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := connIDFromRequest(r)
		w.Header().Set(ConnHeaderName, id)
		next.ServeHTTP(w, r.WithContext(WithConnID(r.Context(), id)))
	})
}

// IPFromRequest returns a normalized remote IP for optional request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

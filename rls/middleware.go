package rls

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey string

const sessionContextKey contextKey = "rls_session"

const (
	// EntityHeaderName is the default HTTP header carrying the entity ID.
	EntityHeaderName = "X-Entity-ID"
	// ServerHeaderName is the default HTTP header carrying the server ID.
	ServerHeaderName = "X-Server-ID"
)

// FromContext extracts the session context from a request context. The
// zero value means no scope was established.
func FromContext(ctx context.Context) SessionContext {
	if v, ok := ctx.Value(sessionContextKey).(SessionContext); ok {
		return v
	}
	return SessionContext{}
}

// ContextWith returns a context carrying the session scope.
func ContextWith(ctx context.Context, sc SessionContext) context.Context {
	return context.WithValue(ctx, sessionContextKey, sc)
}

// Isolation is an HTTP middleware that extracts the entity and server IDs
// from request headers and injects them into the request context, where
// per-transaction code picks them up via FromContext and Apply. The real
// platform derives these from its authentication layer; header extraction
// is the default wiring for internal services.
type Isolation struct {
	EntityHeader  string
	ServerHeader  string
	RequireEntity bool
}

// NewIsolation creates the middleware with default header names.
func NewIsolation() *Isolation {
	return &Isolation{
		EntityHeader: EntityHeaderName,
		ServerHeader: ServerHeaderName,
	}
}

// Process wraps an HTTP handler with session-scope extraction.
func (m *Isolation) Process(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sc SessionContext

		if raw := strings.TrimSpace(r.Header.Get(m.EntityHeader)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": "invalid entity ID in header " + m.EntityHeader,
				})
				return
			}
			sc.EntityID = id
		} else if m.RequireEntity {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "missing entity ID in header " + m.EntityHeader,
			})
			return
		}

		if raw := strings.TrimSpace(r.Header.Get(m.ServerHeader)); raw != "" {
			id, err := uuid.Parse(raw)
			if err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{
					"error": "invalid server ID in header " + m.ServerHeader,
				})
				return
			}
			sc.ServerID = id
		}

		next.ServeHTTP(w, r.WithContext(ContextWith(r.Context(), sc)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

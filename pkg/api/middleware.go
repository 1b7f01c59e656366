package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/openstratus/stratus/pkg/orchestrator"
	"github.com/openstratus/stratus/pkg/telemetry"
)

// Identity headers injected by the outer gateway.
const (
	headerUserID = "X-User-Id"
	headerRoles  = "X-User-Roles"
)

type identityContextKey struct{}

// identityMiddleware extracts the gateway-injected requester identity.
// Requests without a user id are rejected; the gateway authenticates,
// this service only authorizes.
func identityMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(headerUserID)
		if userID == "" {
			writeJSON(w, http.StatusUnauthorized, errorResponse{
				ErrorKind: "Unauthorized",
				Message:   "missing requester identity",
			})
			return
		}

		who := orchestrator.Identity{UserID: userID}
		if roles := r.Header.Get(headerRoles); roles != "" {
			for _, role := range strings.Split(roles, ",") {
				if role = strings.TrimSpace(role); role != "" {
					who.Roles = append(who.Roles, role)
				}
			}
		}

		ctx := context.WithValue(r.Context(), identityContextKey{}, who)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// identityFrom returns the requester identity stored by the middleware.
func identityFrom(r *http.Request) orchestrator.Identity {
	who, _ := r.Context().Value(identityContextKey{}).(orchestrator.Identity)
	return who
}

// loggingMiddleware logs one line per request with latency and status.
func loggingMiddleware(log *telemetry.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			log.WithFields(map[string]interface{}{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      sw.status,
				"duration_ms": time.Since(started).Milliseconds(),
			}).Debug("request handled")
		})
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

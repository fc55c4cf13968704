// Package middleware contains HTTP middleware for the allocation API.
//
// Middleware functions follow the standard Go pattern of wrapping http.Handler.
// They are designed to be composed using a middleware stack approach.
package middleware

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// =============================================================================
// Staff Token
// =============================================================================

// StaffAuthMiddleware guards staff routes with a shared bearer token.
type StaffAuthMiddleware struct {
	token  string
	logger *slog.Logger
}

// NewStaffAuthMiddleware creates a staff auth middleware. An empty token
// disables the check, which is only meant for local development.
func NewStaffAuthMiddleware(token string, logger *slog.Logger) *StaffAuthMiddleware {
	if token == "" {
		logger.Warn("STAFF_API_TOKEN is empty; staff routes are unauthenticated")
	}
	return &StaffAuthMiddleware{token: token, logger: logger}
}

// RequireStaff rejects requests without the staff bearer token.
func (m *StaffAuthMiddleware) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.token == "" {
			next.ServeHTTP(w, r)
			return
		}

		got, ok := bearerToken(r)
		if !ok || subtle.ConstantTimeCompare([]byte(got), []byte(m.token)) != 1 {
			m.logger.Info("staff auth rejected",
				"path", r.URL.Path,
				"method", r.Method,
				"ip", getClientIP(r),
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="staff"`)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(h, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// =============================================================================
// Helpers
// =============================================================================

// writeError writes the same JSON error envelope the handlers use.
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// Stack composes multiple middleware functions into a single middleware.
//
// Middleware is applied in the order provided, meaning the first middleware
// in the slice is the outermost (runs first on request, last on response).
//
// Example:
//
//	staff := Stack(limiter.Limit, staffAuth.RequireStaff)
//	mux.Handle("POST /api/accounts", staff(createAccount))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// Package middleware holds the HTTP middleware shared by the API
// router: bearer authentication, per-client rate limiting, CORS, and
// request logging.
package middleware

import (
	"net/http"
	"strings"

	"github.com/kvasirlabs/waitline/internal/identity"
	"github.com/kvasirlabs/waitline/pkg/logging"
)

// Auth verifies the bearer token, checks the session behind it has not
// been revoked, and stores the principal on the request context. A
// session-store outage fails open so a Redis blip never locks the API.
func Auth(issuer *identity.TokenIssuer, sessions *identity.SessionStore, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
				unauthorized(w, "missing bearer credential")
				return
			}
			principal, jti, err := issuer.Verify(strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				unauthorized(w, "invalid or expired credential")
				return
			}
			if sessions.Enabled() {
				sess, err := sessions.Get(r.Context(), jti)
				switch {
				case err != nil:
					logger.Warn("session lookup failed, allowing request", "error", err)
				case sess == nil:
					unauthorized(w, "session revoked")
					return
				}
			}
			ctx := identity.WithPrincipal(r.Context(), principal)
			ctx = identity.WithTokenID(ctx, jti)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireVendor rejects principals that are not owners or helpers.
// Relationship checks against a specific business stay in the engine.
func RequireVendor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := identity.FromContext(r.Context())
		if !ok || !p.Vendor() {
			forbidden(w, "vendor role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, msg string) {
	writeEnvelope(w, http.StatusUnauthorized, msg)
}

func forbidden(w http.ResponseWriter, msg string) {
	writeEnvelope(w, http.StatusForbidden, msg)
}

func writeEnvelope(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"success":false,"message":"` + msg + `","data":null}`))
}

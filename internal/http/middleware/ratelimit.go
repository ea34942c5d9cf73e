package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kvasirlabs/waitline/pkg/logging"
)

// RateLimiter counts requests per client in fixed Redis windows. It is
// meant for the credential endpoints; a Redis outage fails open rather
// than taking logins down with it.
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	logger *logging.Logger
}

// NewRateLimiter allows limit requests per window per client key.
func NewRateLimiter(client *redis.Client, limit int, window time.Duration, logger *logging.Logger) *RateLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	return &RateLimiter{redis: client, limit: limit, window: window, logger: logger.Component("ratelimit")}
}

// Allow increments the client's counter and reports whether it is
// still within the limit. The expiry is set on the first hit of each
// window.
func (rl *RateLimiter) Allow(r *http.Request, scope string) bool {
	if rl == nil || rl.redis == nil || rl.limit <= 0 {
		return true
	}
	key := fmt.Sprintf("ratelimit:%s:%s", scope, clientIP(r))
	ctx := r.Context()
	count, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		rl.logger.Warn("rate limit counter unavailable, allowing request", "error", err)
		return true
	}
	if count == 1 {
		rl.redis.Expire(ctx, key, rl.window)
	}
	if count > int64(rl.limit) {
		rl.logger.Warn("rate limit exceeded", "scope", scope, "ip", clientIP(r), "count", count)
		return false
	}
	return true
}

// Limit wraps a handler group with the limiter under the given scope.
func (rl *RateLimiter) Limit(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.Allow(r, scope) {
				writeEnvelope(w, http.StatusTooManyRequests, "too many requests, slow down")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	// chi's RealIP middleware rewrites RemoteAddr from the
	// X-Forwarded-For / X-Real-Ip headers.
	if xri := r.Header.Get("X-Real-Ip"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}

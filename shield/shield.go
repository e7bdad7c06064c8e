// Package shield provides the HTTP defense middleware for the straightshot
// edge service: per-client rate limiting, CORS echoing, request body caps,
// and per-request trace logging.
//
// Usage:
//
//	r := chi.NewRouter()
//	r.Use(shield.TraceID)
//	r.Use(shield.CORS(origins))
//	r.Use(shield.MaxJSONBody(64 * 1024))
//	limiter := shield.NewRateLimiter(shield.DefaultLimits())
//	limiter.StartGC(done)
//	r.With(limiter.Middleware).Post("/analyze", handler)
package shield

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
)

type contextKey string

// LoggerKey is the context key for the per-request structured logger.
const LoggerKey contextKey = "shield_logger"

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// ExtractIP returns the client IP from X-Forwarded-For or RemoteAddr.
func ExtractIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/marktorrescoding/straightshotauto/idgen"
	"github.com/marktorrescoding/straightshotauto/kit"
)

// TraceID generates trace and request IDs for each request and injects them
// into the context, response headers, and a per-request structured logger.
// The trace ID (short NanoID) groups log lines; the request ID (UUIDv7,
// time-sortable) is the durable handle clients quote back.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := kit.NewTraceID()
		requestID := idgen.New()

		ctx := kit.WithTraceID(r.Context(), traceID)
		ctx = kit.WithRequestID(ctx, requestID)
		w.Header().Set("X-Trace-ID", traceID)
		w.Header().Set("X-Request-ID", requestID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Info("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Package kit carries per-request identity through context and bridges
// service endpoints onto alternate transports (MCP).
package kit

import (
	"context"

	"github.com/marktorrescoding/straightshotauto/idgen"
)

type contextKey string

const (
	ClientIDKey  contextKey = "kit_client_id"
	RequestIDKey contextKey = "kit_request_id"
	TraceIDKey   contextKey = "kit_trace_id"
	ValidatedKey contextKey = "kit_validated"
	TransportKey contextKey = "kit_transport" // "http", "mcp"
)

func WithClientID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ClientIDKey, id)
}
func GetClientID(ctx context.Context) string {
	v, _ := ctx.Value(ClientIDKey).(string)
	return v
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(RequestIDKey).(string)
	return v
}

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, TraceIDKey, id)
}
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(TraceIDKey).(string)
	return v
}

func WithValidated(ctx context.Context, v bool) context.Context {
	return context.WithValue(ctx, ValidatedKey, v)
}
func GetValidated(ctx context.Context) bool {
	v, _ := ctx.Value(ValidatedKey).(bool)
	return v
}

func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, TransportKey, t)
}
func GetTransport(ctx context.Context) string {
	if v, ok := ctx.Value(TransportKey).(string); ok {
		return v
	}
	return "http"
}

var traceGen = idgen.NanoID(8)

// NewTraceID produces a short request-scoped trace identifier.
func NewTraceID() string {
	return traceGen()
}

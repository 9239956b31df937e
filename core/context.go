package core

import "context"

type traceContextKey struct{}

// WithTraceID stores the request's trace ID on the context so components
// that only receive a context can still correlate their outbound calls.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceContextKey{}, traceID)
}

// TraceIDFromContext returns the trace ID stored by WithTraceID, or empty.
func TraceIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(traceContextKey{}).(string); ok {
		return id
	}
	return ""
}

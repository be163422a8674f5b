package tracing

import "context"

type traceIDKey struct{}

// ContextWithTraceID stamps ctx with the trace id of the active span. An
// empty id returns ctx unchanged.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// TraceIDFromContext returns the stamped trace id, or "" on an untraced
// context. The request log carries it so log lines join up with spans.
func TraceIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(traceIDKey{}).(string)
	return id
}

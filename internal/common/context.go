package common

import "context"

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// WithRequestID carries the HTTP request ID into the pipeline so its log
// lines correlate with the server's request log.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, requestID)
}

// RequestIDFromContext returns the request ID, or "" outside a request.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

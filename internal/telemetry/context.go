package telemetry

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// WithRequestID attaches the request id used to correlate audit events.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFrom returns the request id stored on ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewRequestID mints a request id for callers that did not send one.
func NewRequestID() string {
	return uuid.NewString()
}

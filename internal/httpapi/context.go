package httpapi

import (
	"context"

	"pkt.systems/booksden/internal/authtoken"
)

// contextKey is a private type to avoid collisions with external context keys.
type contextKey string

const (
	identityKey    contextKey = "httpapi-identity"
	correlationKey contextKey = "httpapi-correlation-id"
)

// WithIdentity returns a context carrying the verified token identity.
func WithIdentity(ctx context.Context, id authtoken.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext returns the identity attached by the auth guard.
func IdentityFromContext(ctx context.Context) (authtoken.Identity, bool) {
	id, ok := ctx.Value(identityKey).(authtoken.Identity)
	return id, ok
}

func withCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationID returns the request correlation id, if any.
func CorrelationID(ctx context.Context) string {
	if v, ok := ctx.Value(correlationKey).(string); ok {
		return v
	}
	return ""
}

// ABOUTME: Connector identity propagation through request handlers
// ABOUTME: Provides WithConnector/FromContext for carrying verified claims

package auth

import (
	"context"
)

// connectorKey is the key type for storing Claims in context.Context.
type connectorKey struct{}

// WithConnector returns a new context with the verified claims attached.
func WithConnector(ctx context.Context, claims *Claims) context.Context {
	return context.WithValue(ctx, connectorKey{}, claims)
}

// FromContext retrieves the verified claims, returning nil if not present.
func FromContext(ctx context.Context) *Claims {
	val := ctx.Value(connectorKey{})
	if val == nil {
		return nil
	}
	claims, ok := val.(*Claims)
	if !ok {
		return nil
	}
	return claims
}

package api

import (
	"context"
)

// ownerContextKey is the context key for the authenticated owner ID.
type ownerContextKey struct{}

// WithOwner returns a new context with the owner ID attached.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerContextKey{}, owner)
}

// OwnerFromContext extracts the owner ID from the context.
// Returns "" if not present.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerContextKey{}).(string)
	return owner
}

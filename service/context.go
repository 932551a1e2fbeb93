package service

import (
	"context"

	"github.com/IsSlashy/Protocol-01-sub006/core"
)

type ctxKey string

const identityContextKey ctxKey = "p01auth.identity"

// WithIdentity attaches a verified wallet identity to ctx
func WithIdentity(ctx context.Context, identity core.Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, identity)
}

// IdentityFromContext returns the identity attached by the auth middleware
func IdentityFromContext(ctx context.Context) (core.Identity, bool) {
	v := ctx.Value(identityContextKey)
	identity, ok := v.(core.Identity)
	return identity, ok
}

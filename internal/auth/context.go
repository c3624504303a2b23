package auth

import (
	"context"
)

// Identity is the caller identity carried by a run request: the tenant and
// the application auth token. The token is only read when the agent session
// is built.
type Identity struct {
	TenantID     string
	AppAuthToken string
}

type identityContextKey struct{}

// WithIdentity attaches an identity to the context.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext retrieves the identity from the context.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

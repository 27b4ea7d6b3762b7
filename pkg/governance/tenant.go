package governance

import (
	"context"

	"github.com/ironlayer/ironlayer/pkg/auth"
	"github.com/ironlayer/ironlayer/pkg/errdefs"
)

type ctxKey int

const identityKey ctxKey = iota

// WithIdentity attaches the authenticated identity to the request context.
// Transport adapters call this once after credential verification; every
// downstream tenant filter derives from it.
func WithIdentity(ctx context.Context, id *auth.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFrom extracts the authenticated identity.
func IdentityFrom(ctx context.Context) (*auth.Identity, error) {
	id, ok := ctx.Value(identityKey).(*auth.Identity)
	if !ok || id == nil {
		return nil, errdefs.Unauthorizedf("no authenticated identity in context")
	}
	return id, nil
}

// TenantFrom extracts the tenant the authenticated identity belongs to.
// The id never comes from request bodies or query parameters.
func TenantFrom(ctx context.Context) (string, error) {
	id, err := IdentityFrom(ctx)
	if err != nil {
		return "", err
	}
	if id.TenantID == "" {
		return "", errdefs.Unauthorizedf("identity carries no tenant")
	}
	return id.TenantID, nil
}

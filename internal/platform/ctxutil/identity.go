package ctxutil

import "context"

type identityKey struct{}

// Identity is the authenticated caller of a request.
type Identity struct {
	UserID string
	Email  string
}

func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// GetIdentity returns nil when the request is unauthenticated.
func GetIdentity(ctx context.Context) *Identity {
	if ctx == nil {
		return nil
	}
	if id, ok := ctx.Value(identityKey{}).(*Identity); ok && id != nil && id.UserID != "" {
		return id
	}
	return nil
}

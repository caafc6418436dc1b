package auth

import "context"

type userKey struct{}

type apiKeyKey struct{}

// WithUser returns a copy of ctx carrying the authenticated user id.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user id stored by WithUser, or "".
func UserFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// WithAPIKey returns a copy of ctx carrying the authenticated API key.
func WithAPIKey(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, apiKeyKey{}, info)
}

// APIKeyFrom returns the key stored by WithAPIKey, or nil.
func APIKeyFrom(ctx context.Context) *APIKeyInfo {
	info, _ := ctx.Value(apiKeyKey{}).(*APIKeyInfo)
	return info
}

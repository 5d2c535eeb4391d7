package middleware

import "context"

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	IdentityKey contextKey = "identity"
)

// Identity is what the token says about the caller besides the subject.
type Identity struct {
	UserID   string
	Username string
	Name     string
}

// GetUserID returns the authenticated subject set by JWTAuth.
func GetUserID(ctx context.Context) string {
	v, _ := ctx.Value(UserIDKey).(string)
	return v
}

func GetIdentity(ctx context.Context) Identity {
	v, _ := ctx.Value(IdentityKey).(Identity)
	return v
}

// WithIdentity stores id in ctx the way JWTAuth does.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, id.UserID)
	return context.WithValue(ctx, IdentityKey, id)
}

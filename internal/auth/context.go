package auth

import "context"

type sessionContextKey struct{}

// ContextWithSession attaches a validated session to the context.
func ContextWithSession(ctx context.Context, info SessionInfo) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &info)
}

// SessionFromContext extracts the validated session from the context.
func SessionFromContext(ctx context.Context) (SessionInfo, bool) {
	if ctx == nil {
		return SessionInfo{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*SessionInfo)
	if !ok || v == nil {
		return SessionInfo{}, false
	}
	return *v, true
}

type tokenContextKey struct{}

// ContextWithToken stores the raw bearer token inside the context so the
// refresh and rotate handlers can act on the presented credential.
func ContextWithToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, tokenContextKey{}, token)
}

// TokenFromContext returns the bearer token if it was previously attached.
func TokenFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(tokenContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// UserIDFromContext returns the authenticated user id, if any.
func UserIDFromContext(ctx context.Context) (string, bool) {
	info, ok := SessionFromContext(ctx)
	if !ok || info.UserID == "" {
		return "", false
	}
	return info.UserID, true
}

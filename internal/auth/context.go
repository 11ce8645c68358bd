package auth

import (
	"context"
	"time"
)

type principalContextKey struct{}
type tokenContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal *Principal) context.Context {
	if principal == nil {
		return ctx
	}
	cp := *principal
	return context.WithValue(ctx, principalContextKey{}, &cp)
}

// PrincipalFromContext extracts the principal attached to the context, expired or not.
func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	if ctx == nil {
		return nil, false
	}
	v, ok := ctx.Value(principalContextKey{}).(*Principal)
	if !ok || v == nil {
		return nil, false
	}
	cp := *v
	return &cp, true
}

// CurrentPrincipal returns the principal for ctx, or nil when absent or expired.
func CurrentPrincipal(ctx context.Context) *Principal {
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.Expired(time.Now()) {
		return nil
	}
	return p
}

// UserIDFromContext returns the subject of the current principal.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p := CurrentPrincipal(ctx)
	if p == nil || p.SubjectID == "" {
		return "", false
	}
	return p.SubjectID, true
}

// ContextWithToken stores the raw bearer token inside the context.
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

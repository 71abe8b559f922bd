package auth

import (
	"context"
	"strings"
)

type identityContextKey struct{}
type tokenContextKey struct{}

// ContextWithIdentity attaches the authenticated identity to the context.
func ContextWithIdentity(ctx context.Context, identity string) context.Context {
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ctx
	}
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext extracts the authenticated identity from the context.
func IdentityFromContext(ctx context.Context) (string, bool) {
	if ctx == nil {
		return "", false
	}
	v, ok := ctx.Value(identityContextKey{}).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// RequireIdentity fails unless the context carries proof of control of the
// stated identity. Every state-changing operation is gated on this check at
// the transport boundary.
func RequireIdentity(ctx context.Context, identity string) error {
	current, ok := IdentityFromContext(ctx)
	if !ok {
		return ErrUnauthorized
	}
	if current != strings.TrimSpace(identity) {
		return ErrUnauthorized
	}
	return nil
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

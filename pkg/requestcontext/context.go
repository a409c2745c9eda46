// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values.
//
// Middleware sets the values; services read them without importing net/http.
// Tests inject them directly:
//
//	ctx = requestcontext.WithTime(ctx, fixedTime)
//	ctx = requestcontext.WithIdentityID(ctx, identityID)
package requestcontext

import (
	"context"
	"time"

	id "escrow/pkg/domain"
)

type (
	identityIDKey  struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

var (
	ContextKeyIdentityID  = identityIDKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// IdentityID retrieves the authenticated identity from the context.
// Returns the zero value (nil UUID) if not set.
func IdentityID(ctx context.Context) id.IdentityID {
	if identityID, ok := ctx.Value(ContextKeyIdentityID).(id.IdentityID); ok {
		return identityID
	}
	return id.IdentityID{}
}

// WithIdentityID injects an authenticated identity into the context.
func WithIdentityID(ctx context.Context, identityID id.IdentityID) context.Context {
	return context.WithValue(ctx, ContextKeyIdentityID, identityID)
}

// RequestID retrieves the request ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time from context.
// Falls back to time.Now() if not set (workers, CLI, tests).
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime injects a specific time into a context.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

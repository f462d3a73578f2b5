// Package requestcontext provides HTTP-independent context accessors for
// request-scoped values. Values are set by middleware and consumed by
// services; keeping the package free of net/http lets services import only
// what they need.
package requestcontext

import (
	"context"
	"time"
)

// Role is the caller's access level as asserted by the auth layer.
type Role string

const (
	// RoleAdmin may act on any section.
	RoleAdmin Role = "admin"
	// RoleTreasurer is scoped to its own section.
	RoleTreasurer Role = "treasurer"
)

// Caller is the authenticated identity injected by the auth middleware.
// Section is only meaningful for section-scoped roles.
type Caller struct {
	ID      string
	Role    Role
	Section string
}

// IsZero reports whether no caller was attached to the context.
func (c Caller) IsZero() bool { return c.ID == "" }

// CanAccessSection reports whether the caller may act on the given section.
func (c Caller) CanAccessSection(section string) bool {
	if c.Role == RoleAdmin {
		return true
	}
	return c.Section == section
}

type (
	callerKey      struct{}
	requestIDKey   struct{}
	requestTimeKey struct{}
)

// Exported context keys for tests that need raw context.WithValue.
var (
	ContextKeyCaller      = callerKey{}
	ContextKeyRequestID   = requestIDKey{}
	ContextKeyRequestTime = requestTimeKey{}
)

// CallerFrom retrieves the authenticated caller, zero value when unset.
func CallerFrom(ctx context.Context) Caller {
	if c, ok := ctx.Value(ContextKeyCaller).(Caller); ok {
		return c
	}
	return Caller{}
}

// WithCaller injects an authenticated caller into the context.
func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ContextKeyCaller, c)
}

// RequestID retrieves the request correlation ID from the context.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request correlation ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// Now retrieves the request-scoped time, falling back to time.Now for
// non-HTTP contexts such as workers and tests that did not pin a clock.
func Now(ctx context.Context) time.Time {
	if t, ok := ctx.Value(ContextKeyRequestTime).(time.Time); ok {
		return t
	}
	return time.Now()
}

// WithTime pins the request-scoped time. Useful for service unit tests and
// batch operations that need one consistent timestamp.
func WithTime(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, ContextKeyRequestTime, t)
}

// Package testutil provides common helpers for handler and service tests.
package testutil

import (
	"context"
	"net/http"

	"dues/pkg/requestcontext"
)

// WithCaller adds an authenticated caller to the request context, simulating
// what the auth middleware does for a verified token.
func WithCaller(req *http.Request, caller requestcontext.Caller) *http.Request {
	ctx := requestcontext.WithCaller(req.Context(), caller)
	return req.WithContext(ctx)
}

// AdminCtx returns a context carrying an admin caller.
func AdminCtx(id string) context.Context {
	return requestcontext.WithCaller(context.Background(), requestcontext.Caller{
		ID:   id,
		Role: requestcontext.RoleAdmin,
	})
}

// TreasurerCtx returns a context carrying a treasurer scoped to a section.
func TreasurerCtx(id, section string) context.Context {
	return requestcontext.WithCaller(context.Background(), requestcontext.Caller{
		ID:      id,
		Role:    requestcontext.RoleTreasurer,
		Section: section,
	})
}

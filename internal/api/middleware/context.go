package middleware

import (
	"context"
	"net/http"

	"roomscan/internal/identity"
)

type contextKey string

const identityKey contextKey = "identity"

// SetIdentity attaches the authenticated caller to the context.
func SetIdentity(ctx context.Context, id identity.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the authenticated caller, if any.
func GetIdentity(r *http.Request) (identity.Identity, bool) {
	id, ok := r.Context().Value(identityKey).(identity.Identity)
	return id, ok
}

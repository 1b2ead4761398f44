package middleware

import (
	"errors"
	"net/http"
	"strings"

	"roomscan/internal/api/response"
	"roomscan/internal/identity"
	"roomscan/pkg/models"
)

// Auth provides authentication and role-checking middleware.
type Auth struct {
	verifier identity.Verifier
}

// NewAuth creates a new Auth middleware.
func NewAuth(v identity.Verifier) *Auth {
	return &Auth{verifier: v}
}

// Authenticate validates the Bearer credential and sets the caller identity
// in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		id, err := a.verifier.Verify(r.Context(), rawKey)
		if errors.Is(err, identity.ErrInvalidCredential) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(SetIdentity(r.Context(), id)))
	})
}

// RequireAdmin gates a route group to admin-role callers.
func (a *Auth) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := GetIdentity(r)
		if !ok || id.Role != models.RoleAdmin {
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

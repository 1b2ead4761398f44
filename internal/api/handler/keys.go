package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"roomscan/internal/api/response"
	"roomscan/internal/store"
	"roomscan/pkg/models"
)

// KeyService defines the interface the admin key handlers depend on.
type KeyService interface {
	Mint(ctx context.Context, name, role string) (string, *models.APIKey, error)
	List(ctx context.Context) ([]*models.APIKey, error)
	Revoke(ctx context.Context, id uuid.UUID) error
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
func NewCreateKeyHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Name == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "name is required", nil)
			return
		}
		if req.Role == "" {
			req.Role = models.RoleUser
		}
		if req.Role != models.RoleUser && req.Role != models.RoleAdmin {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "role must be user or admin", nil)
			return
		}

		rawKey, key, err := svc.Mint(r.Context(), req.Name, req.Role)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to create API key", nil)
			return
		}

		// The raw key appears in this response and nowhere else.
		response.Created(w, createKeyResponse{
			ID:        key.ID.String(),
			OwnerID:   key.OwnerID.String(),
			Name:      key.Name,
			Key:       rawKey,
			KeyPrefix: key.KeyPrefix,
			Role:      key.Role,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keys, err := svc.List(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to list API keys", nil)
			return
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(svc KeyService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found", nil)
			return
		}

		if err := svc.Revoke(r.Context(), keyID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"Failed to revoke API key", nil)
			return
		}

		response.JSON(w, map[string]bool{"revoked": true})
	}
}

type createKeyResponse struct {
	ID        string `json:"id"`
	OwnerID   string `json:"owner_id"`
	Name      string `json:"name"`
	Key       string `json:"key"`
	KeyPrefix string `json:"key_prefix"`
	Role      string `json:"role"`
}

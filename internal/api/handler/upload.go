package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	mw "roomscan/internal/api/middleware"
	"roomscan/internal/api/response"
	"roomscan/internal/intake"
	"roomscan/pkg/models"
)

// UploadService defines the interface the handler depends on.
type UploadService interface {
	RequestUpload(ctx context.Context, req intake.Request) (*intake.Grant, error)
}

// NewUploadHandler returns an http.HandlerFunc for POST /api/v1/uploads.
func NewUploadHandler(svc UploadService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := mw.GetIdentity(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller identity", nil)
			return
		}

		var req struct {
			FileName string `json:"file_name"`
			FileType string `json:"file_type"`
			FileSize int64  `json:"file_size_bytes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		if req.FileName == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file_name is required", nil)
			return
		}
		if req.FileType == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "file_type is required", nil)
			return
		}

		grant, err := svc.RequestUpload(r.Context(), intake.Request{
			OwnerID:    caller.SubjectID,
			Privileged: caller.Role == models.RoleAdmin,
			FileName:   req.FileName,
			FileType:   req.FileType,
			FileSize:   req.FileSize,
		})
		if err != nil {
			var limited *intake.RateLimitedError
			switch {
			case errors.Is(err, intake.ErrUnsupportedType):
				response.Error(w, http.StatusBadRequest, "UNSUPPORTED_FILE_TYPE",
					"file_type must be one of png, jpeg, pdf", nil)
			case errors.Is(err, intake.ErrFileTooLarge):
				response.Error(w, http.StatusBadRequest, "FILE_TOO_LARGE",
					"File exceeds the maximum upload size", nil)
			case errors.As(err, &limited):
				response.Error(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED",
					"Daily upload limit reached", rateLimitDetails{
						Limit:        limited.Decision.Limit,
						CurrentCount: limited.Decision.CurrentCount,
						ResetAt:      limited.Decision.ResetAt.UTC().Format(time.RFC3339),
					})
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, uploadResponse{
			JobID:         grant.JobID.String(),
			UploadTarget:  grant.UploadTarget,
			ExpiresInSecs: int(grant.ExpiresIn.Seconds()),
			Status:        models.JobStatusPending,
		})
	}
}

type uploadResponse struct {
	JobID         string `json:"job_id"`
	UploadTarget  string `json:"upload_target"`
	ExpiresInSecs int    `json:"expires_in_seconds"`
	Status        string `json:"status"`
}

type rateLimitDetails struct {
	Limit        int    `json:"limit"`
	CurrentCount int64  `json:"current_count"`
	ResetAt      string `json:"reset_at"`
}

package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "roomscan/internal/api/middleware"
	"roomscan/internal/api/response"
	"roomscan/internal/store"
	"roomscan/pkg/models"
)

// JobReader defines the store interface the status handler depends on.
type JobReader interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetDetectionResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.DetectionResult, error)
}

// NewStatusHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
// It reads the authoritative store, never the projection.
func NewStatusHandler(jobs JobReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, ok := authorizeJobAccess(w, r, jobs)
		if !ok {
			return
		}

		var result *models.DetectionResult
		if job.Status == models.JobStatusCompleted {
			var err error
			result, err = jobs.GetDetectionResultByJobID(r.Context(), job.ID)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
				return
			}
		}

		response.JSON(w, models.NewJobView(job, result))
	}
}

// authorizeJobAccess loads the job from the path and enforces ownership.
// Admins may read any job; everyone else only their own. On failure it has
// already written the response.
func authorizeJobAccess(w http.ResponseWriter, r *http.Request, jobs JobReader) (*models.Job, bool) {
	caller, ok := mw.GetIdentity(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing caller identity", nil)
		return nil, false
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return nil, false
	}

	job, err := jobs.GetJob(r.Context(), jobID)
	if errors.Is(err, store.ErrNotFound) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Job not found", nil)
		return nil, false
	}
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
		return nil, false
	}

	if caller.Role != models.RoleAdmin && job.OwnerID != caller.SubjectID {
		response.Error(w, http.StatusForbidden, "FORBIDDEN",
			"You do not have access to this job", nil)
		return nil, false
	}

	return job, true
}

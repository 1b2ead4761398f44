// Package models contains shared data models used across the roomscan codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// ArtifactRef is an opaque reference to an object in blob storage.
type ArtifactRef struct {
	Container string `json:"container"`
	Key       string `json:"key"`
}

// Job tracks one blueprint submission end-to-end. The API returns a job_id on
// POST /api/v1/uploads; the client polls GET /api/v1/jobs/{job_id} until the
// status is completed or failed. The job id doubles as the idempotency key for
// every downstream notification handler.
type Job struct {
	ID          uuid.UUID    `db:"id"           json:"id"`
	OwnerID     uuid.UUID    `db:"owner_id"     json:"owner_id"`
	Artifact    ArtifactRef  `json:"artifact"`
	Result      *ArtifactRef `json:"result,omitempty"`
	Status      string       `db:"status"       json:"status"`
	RoomCount   *int         `db:"room_count"   json:"room_count,omitempty"`
	ErrorDetail *string      `db:"error_detail" json:"error_detail,omitempty"`
	CreatedAt   time.Time    `db:"created_at"   json:"created_at"`
	UpdatedAt   time.Time    `db:"updated_at"   json:"updated_at"`
}

// IsTerminalStatus reports whether a job in this status will never move again.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// JobView is the client-facing shape of a job. Both the one-shot status
// endpoint (reading Postgres) and the streaming endpoint (reading the Redis
// projection) emit exactly this struct, so a client cannot tell the source
// apart.
type JobView struct {
	JobID     uuid.UUID `json:"job_id"`
	Status    string    `json:"status"`
	RoomCount *int      `json:"room_count,omitempty"`
	Rooms     []Room    `json:"rooms,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewJobView builds the client-facing view of a job. result may be nil; it is
// only attached for completed jobs.
func NewJobView(job *Job, result *DetectionResult) JobView {
	view := JobView{
		JobID:     job.ID,
		Status:    job.Status,
		RoomCount: job.RoomCount,
		Error:     job.ErrorDetail,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	}
	if job.Status == JobStatusCompleted && result != nil {
		view.Rooms = result.Rooms
	}
	return view
}

// Package intake admits blueprint submissions: it validates the file,
// checks the owner's daily quota, creates the job record and hands back a
// presigned upload target. Nothing here touches image bytes; the client
// uploads straight to blob storage.
package intake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"roomscan/internal/pipeline"
	"roomscan/internal/ratelimit"
	"roomscan/pkg/models"
)

var (
	ErrUnsupportedType = fmt.Errorf("unsupported file type")
	ErrFileTooLarge    = fmt.Errorf("file too large")
)

// RateLimitedError carries the admission decision for a rejected submission
// so the API layer can tell the caller when to come back.
type RateLimitedError struct {
	Decision ratelimit.Decision
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("daily upload limit of %d reached, resets at %s",
		e.Decision.Limit, e.Decision.ResetAt.Format(time.RFC3339))
}

// extensions maps accepted file types to the sanitized object-key extension.
// The client's file name never reaches storage.
var extensions = map[string]string{
	"png":  "png",
	"jpeg": "jpg",
	"jpg":  "jpg",
	"pdf":  "pdf",
}

// JobCreator is the slice of the job store the intake needs.
type JobCreator interface {
	CreateJob(ctx context.Context, job *models.Job) error
}

// Presigner is the slice of blob storage the intake needs.
type Presigner interface {
	PresignUpload(ctx context.Context, key string, expiry time.Duration) (string, error)
	Bucket() string
}

// Limiter decides and records daily admissions.
type Limiter interface {
	CheckAndReserve(ctx context.Context, ownerID uuid.UUID, privileged bool) ratelimit.Decision
	RecordAdmission(ctx context.Context, ownerID uuid.UUID) error
}

// Request is one submission attempt.
type Request struct {
	OwnerID    uuid.UUID
	Privileged bool
	FileName   string
	FileType   string
	FileSize   int64
}

// Grant is what an admitted submission gets back.
type Grant struct {
	JobID        uuid.UUID
	UploadTarget string
	ExpiresIn    time.Duration
}

// Service implements submission intake.
type Service struct {
	jobs         JobCreator
	blobs        Presigner
	limiter      Limiter
	projector    *pipeline.Projector
	maxBytes     int64
	uploadExpiry time.Duration
}

func NewService(jobs JobCreator, blobs Presigner, limiter Limiter, projector *pipeline.Projector, maxBytes int64, uploadExpiry time.Duration) *Service {
	return &Service{
		jobs:         jobs,
		blobs:        blobs,
		limiter:      limiter,
		projector:    projector,
		maxBytes:     maxBytes,
		uploadExpiry: uploadExpiry,
	}
}

// RequestUpload validates and admits one submission. The job row is written
// before the grant is returned, so an upload that starts immediately cannot
// produce a notification for a job that does not exist yet.
func (s *Service) RequestUpload(ctx context.Context, req Request) (*Grant, error) {
	ext, ok := extensions[req.FileType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, req.FileType)
	}
	if req.FileSize <= 0 || req.FileSize > s.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFileTooLarge, req.FileSize, s.maxBytes)
	}

	decision := s.limiter.CheckAndReserve(ctx, req.OwnerID, req.Privileged)
	if !decision.Allowed {
		return nil, &RateLimitedError{Decision: decision}
	}

	jobID := uuid.New()
	key := pipeline.InputKey(jobID, ext)

	target, err := s.blobs.PresignUpload(ctx, key, s.uploadExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign upload for job %s: %w", jobID, err)
	}

	now := time.Now().UTC()
	job := &models.Job{
		ID:      jobID,
		OwnerID: req.OwnerID,
		Artifact: models.ArtifactRef{
			Container: s.blobs.Bucket(),
			Key:       key,
		},
		Status:    models.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job %s: %w", jobID, err)
	}

	// The admission already happened; quota bookkeeping and the initial
	// projection are best-effort from here.
	if err := s.limiter.RecordAdmission(ctx, req.OwnerID); err != nil {
		slog.Warn("failed to record admission", "owner_id", req.OwnerID, "error", err)
	}
	s.projector.Project(ctx, models.NewJobView(job, nil))

	slog.Info("submission admitted", "job_id", jobID, "owner_id", req.OwnerID, "file", req.FileName)
	return &Grant{JobID: jobID, UploadTarget: target, ExpiresIn: s.uploadExpiry}, nil
}

package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"roomscan/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface for the authoritative job store.
// All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// TransitionJob moves a job from one status to another with a conditional
	// update guarded on the current status. It returns false (and no error)
	// when the guard fails, meaning a concurrent handler already moved the job.
	TransitionJob(ctx context.Context, id uuid.UUID, from, to string, opts ...TransitionOption) (bool, error)
	// ListStuckJobs returns processing jobs whose last update is older than
	// before, oldest first. Used by the reconciliation sweeper.
	ListStuckJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error)
	// TouchJob bumps updated_at on a processing job so the sweeper does not
	// re-drive it again on the very next pass. No-op for any other status.
	TouchJob(ctx context.Context, id uuid.UUID) error

	CreateDetectionResult(ctx context.Context, result *models.DetectionResult) error
	GetDetectionResultByJobID(ctx context.Context, jobID uuid.UUID) (*models.DetectionResult, error)

	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	ListAPIKeys(ctx context.Context) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID) error
}

// TransitionParams carries the optional column writes of a transition.
type TransitionParams struct {
	Result      *models.ArtifactRef
	RoomCount   *int
	ErrorDetail *string
}

type TransitionOption func(*TransitionParams)

// ApplyTransitionOptions folds opts into a TransitionParams.
func ApplyTransitionOptions(opts ...TransitionOption) TransitionParams {
	var p TransitionParams
	for _, opt := range opts {
		opt(&p)
	}
	return p
}

// WithResult records the result artifact reference and region count on a
// completed job.
func WithResult(ref models.ArtifactRef, roomCount int) TransitionOption {
	return func(p *TransitionParams) {
		p.Result = &ref
		p.RoomCount = &roomCount
	}
}

// WithErrorDetail records a sanitized failure reason on a failed job.
func WithErrorDetail(detail string) TransitionOption {
	return func(p *TransitionParams) {
		p.ErrorDetail = &detail
	}
}

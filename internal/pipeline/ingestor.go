package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"roomscan/internal/blob"
	"roomscan/internal/store"
	"roomscan/pkg/models"
)

// Sanitized failure reasons exposed to clients. Raw detector errors and
// parse errors go to the logs only.
const (
	failDetectionFailed = "detection failed"
	failInvalidResult   = "result payload invalid"
)

// ObjectGetter is the slice of blob storage the ingestor reads results from.
type ObjectGetter interface {
	GetObject(ctx context.Context, ref models.ArtifactRef) ([]byte, error)
}

// Ingestor reacts to detector results landing in the output namespace: it
// persists the detected rooms and settles the job into its terminal status
// via the processing guard. Duplicate results are absorbed twice over, by
// the result table's first-write-wins insert and by the guarded transition.
type Ingestor struct {
	jobs      JobStore
	blobs     ObjectGetter
	projector *Projector
}

func NewIngestor(jobs JobStore, blobs ObjectGetter, projector *Projector) *Ingestor {
	return &Ingestor{jobs: jobs, blobs: blobs, projector: projector}
}

// Run consumes output notifications until ctx is cancelled.
func (i *Ingestor) Run(ctx context.Context, events <-chan blob.Notification) {
	consume(ctx, "ingestor", events, i.Handle)
}

// resultPayload is the detector's output document.
type resultPayload struct {
	JobID     string          `json:"jobId"`
	Status    string          `json:"status"`
	RoomCount int             `json:"roomCount"`
	Rooms     []models.Room   `json:"rooms"`
	Metadata  json.RawMessage `json:"metadata"`
	Error     string          `json:"error"`
}

// Handle processes one result notification.
func (i *Ingestor) Handle(ctx context.Context, n blob.Notification) error {
	jobID, err := ParseOutputKey(n.Key)
	if err != nil {
		slog.Warn("ignoring notification with unrecognized key", "key", n.Key, "error", err)
		return nil
	}

	job, err := i.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("result notification for unknown job", "job_id", jobID, "key", n.Key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read job %s: %w", jobID, err)
	}

	if models.IsTerminalStatus(job.Status) {
		// Duplicate delivery of a result we already ingested.
		slog.Debug("result already ingested", "job_id", jobID, "status", job.Status)
		return nil
	}

	ref := models.ArtifactRef{Container: n.Container, Key: n.Key}
	payload, err := i.blobs.GetObject(ctx, ref)
	if err != nil {
		// Transient storage trouble; the redelivered notification retries.
		return fmt.Errorf("fetch result for job %s: %w", jobID, err)
	}

	var result resultPayload
	if err := json.Unmarshal(payload, &result); err != nil {
		slog.Error("undecodable result payload", "job_id", jobID, "key", n.Key, "error", err)
		return i.fail(ctx, job, failInvalidResult)
	}

	if result.Status != "completed" {
		slog.Info("detector reported failure", "job_id", jobID, "detector_error", result.Error)
		return i.fail(ctx, job, failDetectionFailed)
	}

	return i.complete(ctx, job, ref, &result)
}

func (i *Ingestor) complete(ctx context.Context, job *models.Job, ref models.ArtifactRef, result *resultPayload) error {
	// The result row goes in before the transition so a completed job always
	// has its rooms on record. The insert is a no-op on duplicates.
	err := i.jobs.CreateDetectionResult(ctx, &models.DetectionResult{
		ID:        uuid.New(),
		JobID:     job.ID,
		RoomCount: result.RoomCount,
		Rooms:     result.Rooms,
		Metadata:  result.Metadata,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("persist detection result for job %s: %w", job.ID, err)
	}

	settled, err := i.jobs.TransitionJob(ctx, job.ID,
		models.JobStatusProcessing, models.JobStatusCompleted,
		store.WithResult(ref, result.RoomCount))
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.ID, err)
	}
	if !settled {
		// Either a concurrent duplicate settled it first, or the job has not
		// been dispatched yet (result outran the upload notification). In the
		// latter case the dispatch path will re-drive detection.
		return nil
	}

	job.Status = models.JobStatusCompleted
	job.RoomCount = &result.RoomCount
	job.Result = &ref
	job.UpdatedAt = time.Now().UTC()
	i.projector.Project(ctx, models.NewJobView(job, &models.DetectionResult{Rooms: result.Rooms}))

	slog.Info("job completed", "job_id", job.ID, "room_count", result.RoomCount)
	return nil
}

func (i *Ingestor) fail(ctx context.Context, job *models.Job, detail string) error {
	settled, err := i.jobs.TransitionJob(ctx, job.ID,
		models.JobStatusProcessing, models.JobStatusFailed,
		store.WithErrorDetail(detail))
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.ID, err)
	}
	if !settled {
		return nil
	}

	job.Status = models.JobStatusFailed
	job.ErrorDetail = &detail
	job.UpdatedAt = time.Now().UTC()
	i.projector.Project(ctx, models.NewJobView(job, nil))

	slog.Info("job failed", "job_id", job.ID, "detail", detail)
	return nil
}

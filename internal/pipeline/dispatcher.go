package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"roomscan/internal/blob"
	"roomscan/internal/inference"
	"roomscan/internal/store"
	"roomscan/pkg/models"
)

// Dispatcher reacts to blueprints landing in the input namespace: it claims
// the job via the pending -> processing guard and hands it to the detector.
// The guard makes duplicate and replayed notifications harmless; whichever
// handler wins the conditional update is the only one that invokes.
type Dispatcher struct {
	jobs          JobStore
	invoker       inference.Invoker
	projector     *Projector
	invokeTimeout time.Duration
}

func NewDispatcher(jobs JobStore, invoker inference.Invoker, projector *Projector, invokeTimeout time.Duration) *Dispatcher {
	return &Dispatcher{jobs: jobs, invoker: invoker, projector: projector, invokeTimeout: invokeTimeout}
}

// Run consumes input notifications until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context, events <-chan blob.Notification) {
	consume(ctx, "dispatcher", events, d.Handle)
}

// Handle processes one upload notification.
func (d *Dispatcher) Handle(ctx context.Context, n blob.Notification) error {
	jobID, _, err := ParseInputKey(n.Key)
	if err != nil {
		slog.Warn("ignoring notification with unrecognized key", "key", n.Key, "error", err)
		return nil
	}

	job, err := d.jobs.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Warn("upload notification for unknown job", "job_id", jobID, "key", n.Key)
		return nil
	}
	if err != nil {
		return fmt.Errorf("read job %s: %w", jobID, err)
	}

	if job.Status != models.JobStatusPending {
		// Replay of an already-dispatched upload.
		slog.Debug("upload already dispatched", "job_id", jobID, "status", job.Status)
		return nil
	}

	claimed, err := d.jobs.TransitionJob(ctx, jobID, models.JobStatusPending, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !claimed {
		// A concurrent duplicate won the claim; it owns the invocation.
		return nil
	}

	job.Status = models.JobStatusProcessing
	job.UpdatedAt = time.Now().UTC()
	d.projector.Project(ctx, models.NewJobView(job, nil))

	invokeCtx, cancel := context.WithTimeout(ctx, d.invokeTimeout)
	defer cancel()
	err = d.invoker.Invoke(invokeCtx, inference.InvokeRequest{
		CorrelationID: jobID,
		InputRef:      job.Artifact,
		OutputRef:     models.ArtifactRef{Container: job.Artifact.Container, Key: OutputKey(jobID)},
	})
	if err != nil {
		// The job stays processing. Rolling back to pending could double-invoke
		// against a request that was actually accepted; the sweeper re-drives
		// jobs that never produce a result.
		slog.Error("inference invocation failed", "job_id", jobID, "error", err)
		return nil
	}

	slog.Info("job dispatched", "job_id", jobID, "input", n.Key)
	return nil
}

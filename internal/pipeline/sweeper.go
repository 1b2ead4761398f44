package pipeline

import (
	"context"
	"log/slog"
	"time"

	"roomscan/internal/inference"
	"roomscan/pkg/models"
)

const sweepBatchSize = 100

// Sweeper periodically re-drives jobs that sat in processing too long,
// usually because an invocation was lost or the detector died mid-run.
// Re-invoking is safe: the job id correlates the retry, and whichever result
// arrives first settles the job while later ones are absorbed as duplicates.
type Sweeper struct {
	jobs          JobStore
	invoker       inference.Invoker
	interval      time.Duration
	stuckAfter    time.Duration
	invokeTimeout time.Duration
}

func NewSweeper(jobs JobStore, invoker inference.Invoker, interval, stuckAfter, invokeTimeout time.Duration) *Sweeper {
	return &Sweeper{
		jobs:          jobs,
		invoker:       invoker,
		interval:      interval,
		stuckAfter:    stuckAfter,
		invokeTimeout: invokeTimeout,
	}
}

// Run ticks until ctx is cancelled. A zero stuckAfter disables the sweep.
func (s *Sweeper) Run(ctx context.Context) {
	if s.stuckAfter <= 0 {
		slog.Info("stuck-job sweep disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep re-invokes detection for every stale processing job.
func (s *Sweeper) Sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.stuckAfter)
	jobs, err := s.jobs.ListStuckJobs(ctx, cutoff, sweepBatchSize)
	if err != nil {
		slog.Error("list stuck jobs", "error", err)
		return
	}

	for _, job := range jobs {
		s.redrive(ctx, job)
	}
}

func (s *Sweeper) redrive(ctx context.Context, job *models.Job) {
	slog.Warn("re-driving stuck job", "job_id", job.ID, "stuck_since", job.UpdatedAt)

	invokeCtx, cancel := context.WithTimeout(ctx, s.invokeTimeout)
	defer cancel()
	err := s.invoker.Invoke(invokeCtx, inference.InvokeRequest{
		CorrelationID: job.ID,
		InputRef:      job.Artifact,
		OutputRef:     models.ArtifactRef{Container: job.Artifact.Container, Key: OutputKey(job.ID)},
	})
	if err != nil {
		slog.Error("re-drive invocation failed", "job_id", job.ID, "error", err)
		return
	}

	// Push the job to the back of the stuck queue so the next pass does not
	// immediately re-invoke it.
	if err := s.jobs.TouchJob(ctx, job.ID); err != nil {
		slog.Warn("failed to touch re-driven job", "job_id", job.ID, "error", err)
	}
}

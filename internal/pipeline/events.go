// Package pipeline contains the event-driven handlers that move a job
// through its lifecycle: the dispatcher reacts to uploaded blueprints, the
// ingestor to detector results, the projector keeps the read store current
// and the sweeper re-drives jobs that stalled. Every handler is idempotent;
// the storage notifications that feed them are at-least-once and unordered.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"roomscan/internal/blob"
	"roomscan/internal/store"
	"roomscan/pkg/models"
)

// Key namespaces inside the bucket. Inputs and outputs share one bucket;
// the prefix decides which handler a notification belongs to.
const (
	InputPrefix  = "inputs/"
	OutputPrefix = "outputs/"
	OutputSuffix = ".json"
)

// InputKey builds the object key a blueprint is uploaded under.
func InputKey(jobID uuid.UUID, ext string) string {
	return fmt.Sprintf("%s%s.%s", InputPrefix, jobID, ext)
}

// OutputKey builds the object key the detector writes its result to.
func OutputKey(jobID uuid.UUID) string {
	return fmt.Sprintf("%s%s%s", OutputPrefix, jobID, OutputSuffix)
}

// ParseInputKey extracts the job id and extension from an input object key.
func ParseInputKey(key string) (uuid.UUID, string, error) {
	rest, ok := strings.CutPrefix(key, InputPrefix)
	if !ok {
		return uuid.Nil, "", fmt.Errorf("key %q is not in the input namespace", key)
	}
	base, ext, ok := strings.Cut(rest, ".")
	if !ok || ext == "" || strings.Contains(ext, "/") {
		return uuid.Nil, "", fmt.Errorf("key %q does not look like an uploaded blueprint", key)
	}
	id, err := uuid.Parse(base)
	if err != nil {
		return uuid.Nil, "", fmt.Errorf("key %q does not embed a job id: %w", key, err)
	}
	return id, ext, nil
}

// ParseOutputKey extracts the job id from a result object key.
func ParseOutputKey(key string) (uuid.UUID, error) {
	rest, ok := strings.CutPrefix(key, OutputPrefix)
	if !ok {
		return uuid.Nil, fmt.Errorf("key %q is not in the output namespace", key)
	}
	base, ok := strings.CutSuffix(rest, OutputSuffix)
	if !ok {
		return uuid.Nil, fmt.Errorf("key %q does not look like a detector result", key)
	}
	id, err := uuid.Parse(base)
	if err != nil {
		return uuid.Nil, fmt.Errorf("key %q does not embed a job id: %w", key, err)
	}
	return id, nil
}

// JobStore is the slice of the authoritative store the pipeline needs.
type JobStore interface {
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	TransitionJob(ctx context.Context, id uuid.UUID, from, to string, opts ...store.TransitionOption) (bool, error)
	CreateDetectionResult(ctx context.Context, result *models.DetectionResult) error
	ListStuckJobs(ctx context.Context, before time.Time, limit int) ([]*models.Job, error)
	TouchJob(ctx context.Context, id uuid.UUID) error
}

// consume drains a notification channel into a handler until ctx is
// cancelled or the channel closes. Handler errors are logged, never fatal:
// at-least-once delivery means a failed event will come around again.
func consume(ctx context.Context, name string, events <-chan blob.Notification, handle func(context.Context, blob.Notification) error) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-events:
			if !ok {
				slog.Info("notification stream closed", "consumer", name)
				return
			}
			if err := handle(ctx, n); err != nil {
				slog.Error("event handling failed", "consumer", name, "key", n.Key, "error", err)
			}
		}
	}
}

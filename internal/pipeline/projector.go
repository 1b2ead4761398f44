package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"roomscan/pkg/models"
)

// ProjectionCache is the slice of the cache the projector writes to.
type ProjectionCache interface {
	SetJobView(ctx context.Context, jobID uuid.UUID, view []byte, ttl time.Duration) error
}

// Projector maintains the eventually consistent client-facing copy of job
// state. Writes are best-effort: the authoritative store has already moved,
// and a missed projection only means a reader falls back to it.
type Projector struct {
	cache ProjectionCache
	ttl   time.Duration
}

func NewProjector(cache ProjectionCache, ttl time.Duration) *Projector {
	return &Projector{cache: cache, ttl: ttl}
}

// Project upserts the view for one job. Failures are logged and swallowed.
func (p *Projector) Project(ctx context.Context, view models.JobView) {
	payload, err := json.Marshal(view)
	if err != nil {
		slog.Error("marshal job view", "job_id", view.JobID, "error", err)
		return
	}
	if err := p.cache.SetJobView(ctx, view.JobID, payload, p.ttl); err != nil {
		slog.Warn("projection write failed", "job_id", view.JobID, "status", view.Status, "error", err)
	}
}

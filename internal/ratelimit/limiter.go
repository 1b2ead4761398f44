// Package ratelimit enforces the per-user daily submission quota. The check
// sits on the intake read path; the counter bump is best-effort bookkeeping
// after admission, so a counter outage degrades to over-admission rather
// than a hard outage.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"roomscan/internal/cache"
)

// Counters are kept well past their day so late bookkeeping writes land on
// the same key.
const counterTTL = 48 * time.Hour

// Counters is the slice of the cache the limiter needs.
type Counters interface {
	GetCounter(ctx context.Context, key string) (int64, bool, error)
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed      bool
	CurrentCount int64
	Limit        int
	// ResetAt is when the quota window rolls over (next UTC midnight). Zero
	// for privileged callers, who have no window.
	ResetAt time.Time
}

// Limiter answers "may this owner submit another job today".
type Limiter struct {
	counters Counters
	limit    int
	now      func() time.Time
}

// NewLimiter creates a Limiter with the given daily submission limit.
func NewLimiter(counters Counters, limit int) *Limiter {
	return &Limiter{counters: counters, limit: limit, now: time.Now}
}

// CheckAndReserve decides admission for one submission. Privileged callers
// bypass the quota entirely. A counter-store failure fails open: blocking
// all uploads is worse than briefly over-admitting.
func (l *Limiter) CheckAndReserve(ctx context.Context, ownerID uuid.UUID, privileged bool) Decision {
	if privileged {
		return Decision{Allowed: true, Limit: l.limit}
	}

	now := l.now().UTC()
	count, _, err := l.counters.GetCounter(ctx, cache.DailyQuotaKey(ownerID, now))
	if err != nil {
		slog.Warn("quota counter unavailable, failing open", "owner_id", ownerID, "error", err)
		return Decision{Allowed: true, Limit: l.limit, ResetAt: nextUTCMidnight(now)}
	}

	return Decision{
		Allowed:      count < int64(l.limit),
		CurrentCount: count,
		Limit:        l.limit,
		ResetAt:      nextUTCMidnight(now),
	}
}

// RecordAdmission bumps today's counter for an admitted submission. Callers
// treat the returned error as log-only.
func (l *Limiter) RecordAdmission(ctx context.Context, ownerID uuid.UUID) error {
	now := l.now().UTC()
	_, err := l.counters.IncrWithExpiry(ctx, cache.DailyQuotaKey(ownerID, now), counterTTL)
	return err
}

func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
}

// Package blob wraps the object-storage collaborator: upload grants for
// clients, result reads for the pipeline, and bucket-notification streams
// that drive the event handlers.
package blob

import (
	"context"
	"time"

	"roomscan/pkg/models"
)

// Notification is one "object landed in storage" event.
type Notification struct {
	Container string
	Key       string
}

// Store is the object-storage interface the rest of the system depends on.
type Store interface {
	// PresignUpload returns a time-bounded URL that allows exactly one PUT of
	// the given key.
	PresignUpload(ctx context.Context, key string, expiry time.Duration) (string, error)
	GetObject(ctx context.Context, ref models.ArtifactRef) ([]byte, error)
	Bucket() string
	Ping(ctx context.Context) error
}

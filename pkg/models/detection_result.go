package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DetectionResult holds the parsed detector output for a completed job.
// Exactly one row exists per job; duplicate result deliveries never replace it.
type DetectionResult struct {
	ID        uuid.UUID       `db:"id"         json:"id"`
	JobID     uuid.UUID       `db:"job_id"     json:"job_id"`
	RoomCount int             `db:"room_count" json:"room_count"`
	Rooms     []Room          `db:"rooms"      json:"rooms"`
	Metadata  json.RawMessage `db:"metadata"   json:"metadata,omitempty"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

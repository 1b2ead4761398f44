package cache

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

func JobViewKey(jobID uuid.UUID) string {
	return fmt.Sprintf("job:view:%s", jobID)
}

// DailyQuotaKey identifies one owner's admission counter for one UTC
// calendar day.
func DailyQuotaKey(ownerID uuid.UUID, day time.Time) string {
	return fmt.Sprintf("quota:%s:%s", ownerID, day.UTC().Format("2006-01-02"))
}

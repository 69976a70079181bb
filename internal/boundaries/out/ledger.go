package out

import (
	"context"
	"time"
)

// DayUsage is one user's recorded usage for a single calendar day.
type DayUsage struct {
	Uploads int
	Bytes   int64
}

// UsageLedger defines the contract for the per-day usage counters keyed by
// user. Days are UTC calendar days (midnight-to-midnight), not sliding
// windows.
type UsageLedger interface {
	// Usage returns the recorded usage for userID on the day containing at.
	Usage(ctx context.Context, userID string, at time.Time) (DayUsage, error)

	// RecordUpload adds one upload of size bytes to userID's counters for
	// the day containing at.
	RecordUpload(ctx context.Context, userID string, size int64, at time.Time) error
}

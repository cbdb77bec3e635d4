// Package mapper converts operational mutation records into analytics rows.
package mapper

import (
	"time"

	"github.com/flowlake/flowlake/replicator/internal/models"
)

// Map converts a record into its analytics row. It is pure and total:
// booleans become 0/1 counters, timestamps are truncated to whole seconds in
// UTC (the DateTime column resolution), and annotations pass through as-is.
func Map(rec models.MutationRecord) models.AnalyticsRow {
	return models.AnalyticsRow{
		Timestamp:       toDateTime(rec.Created),
		UpdateTimestamp: toDateTime(rec.Modified),
		Flow:            rec.Flow,
		DID:             rec.DID,
		Files:           1,
		IngressBytes:    toUnsigned(rec.IngressBytes),
		TotalBytes:      toUnsigned(rec.TotalBytes),
		Errored:         toCounter(rec.Errored),
		Filtered:        toCounter(rec.Filtered),
		Egressed:        toCounter(rec.Egressed),
		Annotations:     rec.Annotations,
	}
}

func toDateTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

func toCounter(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// Byte counts are never negative upstream; a corrupt negative value maps to 0
// rather than wrapping around.
func toUnsigned(n int64) uint64 {
	if n < 0 {
		return 0
	}
	return uint64(n)
}

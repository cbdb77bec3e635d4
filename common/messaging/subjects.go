package messaging

import "time"

// Subject constants for replicator progress events.
// Follow the pattern: {domain}.{resource}.{action}
const (
	SubjectWatermarkAdvanced = "replicator.watermark.advanced" // Watermark moved after a durable flush
	SubjectCycleCompleted    = "replicator.cycles.completed"   // Sync cycle finished
	SubjectCycleFailed       = "replicator.cycles.failed"      // Sync cycle aborted

	// SubjectAll matches every replicator event.
	SubjectAll = "replicator.>"
)

// HeaderCycleID carries the sync cycle id on every event.
const HeaderCycleID = "Flowlake-Cycle-Id"

// WatermarkAdvancedEvent is published on SubjectWatermarkAdvanced.
type WatermarkAdvancedEvent struct {
	CycleID   string    `json:"cycle_id"`
	Table     string    `json:"table"`
	Previous  time.Time `json:"previous"`
	Watermark time.Time `json:"watermark"`
	Rows      int       `json:"rows"`
}

// CycleCompletedEvent is published on SubjectCycleCompleted.
type CycleCompletedEvent struct {
	CycleID         string    `json:"cycle_id"`
	Table           string    `json:"table"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	Rows            int       `json:"rows"`
	Pages           int       `json:"pages"`
	Flushes         int       `json:"flushes"`
	WatermarkBefore time.Time `json:"watermark_before"`
	WatermarkAfter  time.Time `json:"watermark_after"`
	DurationMS      int64     `json:"duration_ms"`
}

// CycleFailedEvent is published on SubjectCycleFailed.
type CycleFailedEvent struct {
	CycleID   string    `json:"cycle_id"`
	Table     string    `json:"table"`
	Error     string    `json:"error"`
	Rows      int       `json:"rows"`
	Watermark time.Time `json:"watermark"`
}
